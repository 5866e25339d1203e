package repository

import (
	"context"
	"typerace/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ChallengeRepo stores typing passages and hands out race sequences
type ChallengeRepo interface {
	Sequence(ctx context.Context, category string, n int) ([]model.Challenge, error)
	InsertMany(ctx context.Context, challenges []model.Challenge) error
	CountByCategory(ctx context.Context, category string) (int64, error)
}

type challengeRepo struct {
	collection *mongo.Collection
}

func NewChallengeRepo(db *mongo.Database) ChallengeRepo {
	return &challengeRepo{
		collection: db.Collection("challenges"),
	}
}

// Sequence samples n random challenges from the category
func (r *challengeRepo) Sequence(ctx context.Context, category string, n int) ([]model.Challenge, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "category", Value: category}}}},
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: n}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var challenges []model.Challenge
	if err := cursor.All(ctx, &challenges); err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		return nil, mongo.ErrNoDocuments
	}
	return challenges, nil
}

func (r *challengeRepo) InsertMany(ctx context.Context, challenges []model.Challenge) error {
	docs := make([]interface{}, 0, len(challenges))
	for i := range challenges {
		// Generate ObjectID if not provided
		if challenges[i].ID == "" {
			challenges[i].ID = primitive.NewObjectID().Hex()
		}
		docs = append(docs, challenges[i])
	}
	if len(docs) == 0 {
		return nil
	}
	_, err := r.collection.InsertMany(ctx, docs)
	return err
}

func (r *challengeRepo) CountByCategory(ctx context.Context, category string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"category": category})
}
