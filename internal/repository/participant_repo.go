package repository

import (
	"context"
	"typerace/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ParticipantRepo interface {
	Upsert(ctx context.Context, rec *model.ParticipantRecord) error
	ListByRace(ctx context.Context, raceID string) ([]*model.ParticipantRecord, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]*model.ParticipantRecord, error)
	EnsureIndexes(ctx context.Context) error
}

type participantRepo struct {
	collection *mongo.Collection
}

func NewParticipantRepo(db *mongo.Database) ParticipantRepo {
	return &participantRepo{
		collection: db.Collection("race_participants"),
	}
}

func (r *participantRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "raceId", Value: 1}, {Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "finishedAt", Value: -1}},
		},
	})
	return err
}

// Upsert writes one finisher row keyed by (raceId, userId)
func (r *participantRepo) Upsert(ctx context.Context, rec *model.ParticipantRecord) error {
	filter := bson.M{"raceId": rec.RaceID, "userId": rec.UserID}
	_, err := r.collection.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
	return err
}

func (r *participantRepo) ListByRace(ctx context.Context, raceID string) ([]*model.ParticipantRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "rank", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"raceId": raceID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*model.ParticipantRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *participantRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]*model.ParticipantRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "finishedAt", Value: -1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*model.ParticipantRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
