package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"typerace/internal/model"

	"github.com/nats-io/nats.go"
)

const (
	EventRaceCreated         = "race.created"
	EventRaceStarted         = "race.started"
	EventParticipantFinished = "race.participant_finished"
	EventRaceFinished        = "race.finished"
)

// Event is the payload published for every race lifecycle transition
type Event struct {
	Type        string                   `json:"type"`
	RaceID      string                   `json:"raceId"`
	OccurredAt  time.Time                `json:"occurredAt"`
	Race        *model.RaceRecord        `json:"race"`
	Participant *model.ParticipantRecord `json:"participant,omitempty"`
}

// conn is the subset of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits lifecycle events so downstream collaborators can react
// to finishes without polling the store
type Publisher struct {
	conn   conn
	prefix string
}

func NewPublisher(c conn, prefix string) *Publisher {
	return &Publisher{conn: c, prefix: prefix}
}

// Connect dials NATS with unlimited reconnects
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("typerace"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Subject returns the full subject for an event type
func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *Publisher) RecordRaceCreated(ctx context.Context, snap *model.RaceSnapshot) error {
	return p.publish(ctx, EventRaceCreated, snap, nil)
}

func (p *Publisher) RecordRaceStarted(ctx context.Context, snap *model.RaceSnapshot) error {
	return p.publish(ctx, EventRaceStarted, snap, nil)
}

func (p *Publisher) RecordParticipantFinished(ctx context.Context, snap *model.RaceSnapshot, participant model.Participant) error {
	return p.publish(ctx, EventParticipantFinished, snap, model.NewParticipantRecord(snap, participant))
}

func (p *Publisher) RecordRaceFinished(ctx context.Context, snap *model.RaceSnapshot) error {
	return p.publish(ctx, EventRaceFinished, snap, nil)
}

func (p *Publisher) publish(ctx context.Context, eventType string, snap *model.RaceSnapshot, participant *model.ParticipantRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Event{
		Type:        eventType,
		RaceID:      snap.ID,
		OccurredAt:  time.Now().UTC(),
		Race:        model.NewRaceRecord(snap),
		Participant: participant,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if err := p.conn.Publish(p.Subject(eventType), data); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
