package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"typerace/internal/model"
)

// ChallengeProvider hands out the challenge sequence for a new race
type ChallengeProvider interface {
	Sequence(ctx context.Context, category string, n int) ([]model.Challenge, error)
}

var builtinPassages = map[string][]string{
	"general": {
		"The quick brown fox jumps over the lazy dog while the farmer watches from the porch.",
		"A journey of a thousand miles begins with a single step, and most of them are uphill.",
		"She sells sea shells by the sea shore, but the shells she sells are surely not from here.",
		"Every morning the baker opened the shutters before sunrise and the street smelled of bread.",
		"It was the best of times, it was the worst of times, and the trains still ran late.",
		"Practice does not make perfect; practice makes permanent, so practice the right way.",
	},
	"code": {
		"if err != nil { return fmt.Errorf(\"open config: %w\", err) }",
		"for i := range items { total += items[i].Price * float64(items[i].Qty) }",
		"ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second); defer cancel()",
		"select { case msg := <-inbox: handle(msg) case <-done: return }",
	},
	"quotes": {
		"Simplicity is prerequisite for reliability.",
		"Programs must be written for people to read, and only incidentally for machines to execute.",
		"The best way to predict the future is to invent it.",
		"Talk is cheap. Show me the code.",
	},
}

// NewChallenge builds a challenge with its counts filled in
func NewChallenge(id, category, text string) model.Challenge {
	return model.Challenge{
		ID:        id,
		Category:  category,
		Text:      text,
		WordCount: len(strings.Fields(text)),
		CharCount: len([]rune(text)),
	}
}

// BuiltinChallenges returns every bundled passage, used for seeding and as
// the fallback when the challenge store is unavailable.
func BuiltinChallenges() []model.Challenge {
	var out []model.Challenge
	for category, passages := range builtinPassages {
		for i, text := range passages {
			out = append(out, NewChallenge(fmt.Sprintf("builtin-%s-%d", category, i), category, text))
		}
	}
	return out
}

// builtinSequence samples n bundled passages from the category, falling back
// to the general category
func builtinSequence(category string, n int) []model.Challenge {
	passages, ok := builtinPassages[category]
	if !ok {
		category = "general"
		passages = builtinPassages[category]
	}

	idx := rand.Perm(len(passages))
	out := make([]model.Challenge, 0, n)
	for i := 0; i < n; i++ {
		j := idx[i%len(idx)]
		out = append(out, NewChallenge(fmt.Sprintf("builtin-%s-%d", category, j), category, passages[j]))
	}
	return out
}
