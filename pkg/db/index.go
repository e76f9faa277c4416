package db

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultDatabase = "mnist"

// EnsureIndex creates model on collectionName unless an index with the same
// name already exists. model must be named.
func EnsureIndex(ctx context.Context, db *mongo.Database, collectionName string, model mongo.IndexModel) error {
	if model.Options == nil || model.Options.Name == nil {
		return fmt.Errorf("must provide a name for index")
	}
	expectedName := *model.Options.Name

	idxs := db.Collection(collectionName).Indexes()

	cur, err := idxs.List(ctx)
	if err != nil {
		return fmt.Errorf("unable to list indexes: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("unable to decode bson index document: %w", err)
		}
		if name, ok := d["name"].(string); ok && name == expectedName {
			return nil
		}
	}

	_, err = idxs.CreateOne(ctx, model)
	return err
}

// DatabaseName extracts the database from a mongodb URL path, falling back
// to "mnist".
func DatabaseName(mongoURL string) (string, error) {
	uri, err := url.Parse(mongoURL)
	if err != nil {
		return "", err
	}
	if name := strings.Trim(uri.Path, "/"); name != "" {
		return name, nil
	}
	return defaultDatabase, nil
}

func ConnectMongo(ctx context.Context, mongoURL string) (*mongo.Database, error) {
	registry := bson.NewRegistry()
	registry.RegisterTypeMapEntry(0x03, reflect.TypeOf(bson.M{}))

	dbName, err := DatabaseName(mongoURL)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURL).SetRegistry(registry))
	if err != nil {
		return nil, err
	}
	return client.Database(dbName), nil
}
