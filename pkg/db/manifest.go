package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ManifestCollection = "manifests"

// Manifest records one written matrix file.
type Manifest struct {
	Path       string    `bson:"path"`
	Rows       int       `bson:"rows"`
	Cols       int       `bson:"cols"`
	Bytes      int64     `bson:"bytes"`
	SHA256     string    `bson:"sha256"`
	TrainCount int       `bson:"train_count"`
	Layout     string    `bson:"layout"`
	CreatedAt  time.Time `bson:"created_at"`
}

const ManifestLayout = "float32-le-row-major"

func manifestIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "path", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("path_created_at"),
	}
}

// RecordManifest stores m in the manifests collection.
func RecordManifest(ctx context.Context, db *mongo.Database, m Manifest) error {
	if m.Layout == "" {
		m.Layout = ManifestLayout
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := EnsureIndex(ctx, db, ManifestCollection, manifestIndex()); err != nil {
		return fmt.Errorf("error ensuring manifest index: %w", err)
	}

	err := InTransaction(ctx, db, func(ctx context.Context) error {
		_, err := db.Collection(ManifestCollection).InsertOne(ctx, m)
		return err
	})
	if err != nil {
		return fmt.Errorf("error recording manifest for %s: %w", m.Path, err)
	}
	return nil
}
