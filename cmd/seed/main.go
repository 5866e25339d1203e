package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"
	"typerace/internal/config"
	"typerace/internal/model"
	"typerace/internal/repository"
	"typerace/internal/service"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// seed loads the bundled passages into the challenge collection for every
// category that is still empty.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	repo := repository.NewChallengeRepo(client.Database(cfg.Mongo.Database))

	byCategory := make(map[string][]model.Challenge)
	for _, c := range service.BuiltinChallenges() {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	for category, challenges := range byCategory {
		n, err := repo.CountByCategory(ctx, category)
		if err != nil {
			log.Fatalf("Failed to count %s challenges: %v", category, err)
		}
		if n > 0 {
			log.Printf("Skipping %s: %d challenges already stored", category, n)
			continue
		}
		if err := repo.InsertMany(ctx, challenges); err != nil {
			log.Fatalf("Failed to insert %s challenges: %v", category, err)
		}
		log.Printf("Seeded %d %s challenges", len(challenges), category)
	}
}
