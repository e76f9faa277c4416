package db

import (
	"context"
	"os"

	"go.mongodb.org/mongo-driver/mongo"
)

// TransactionsSupported reports whether the server accepts multi-document
// transactions. A standalone mongod does not.
var TransactionsSupported = func() bool { return os.Getenv("MONGO_SUPPORTS_TRANSACTIONS") == "true" }

// InTransaction runs fn inside a session transaction when the server
// supports one, otherwise directly against ctx.
func InTransaction(ctx context.Context, db *mongo.Database, fn func(ctx context.Context) error) error {
	if !TransactionsSupported() {
		return fn(ctx)
	}

	return db.Client().UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(sc mongo.SessionContext) (any, error) {
			return nil, fn(sc)
		})
		return err
	})
}
