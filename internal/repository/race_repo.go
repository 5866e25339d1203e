package repository

import (
	"context"
	"errors"
	"typerace/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RaceRepo interface {
	Upsert(ctx context.Context, race *model.RaceRecord) error
	GetByID(ctx context.Context, id string) (*model.RaceRecord, error)
}

type raceRepo struct {
	collection *mongo.Collection
}

func NewRaceRepo(db *mongo.Database) RaceRepo {
	return &raceRepo{
		collection: db.Collection("races"),
	}
}

// Upsert replaces the race row, inserting it on first write. Lifecycle
// records may be retried, so every write is a full replace.
func (r *raceRepo) Upsert(ctx context.Context, race *model.RaceRecord) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": race.ID}, race, options.Replace().SetUpsert(true))
	return err
}

func (r *raceRepo) GetByID(ctx context.Context, id string) (*model.RaceRecord, error) {
	var race model.RaceRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&race)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Race not found
		}
		return nil, err
	}
	return &race, nil
}
