package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/truthsignal/consensus-engine/internal/model"
)

const inboxCollection = "notifications"

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoInbox stores notifications in a MongoDB collection that the in-app
// inbox, email and push senders read from. A unique index on dedupe_key
// makes redelivered events harmless.
type MongoInbox struct {
	client *mongo.Client
	coll   inserter
}

// ConnectMongoInbox connects, pings and ensures the dedupe index.
func ConnectMongoInbox(ctx context.Context, uri, database string) (*MongoInbox, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(database).Collection(inboxCollection)
	_, err = coll.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_dedupe_key"),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}

	log.Info().Str("database", database).Str("collection", inboxCollection).Msg("mongo: notification inbox ready")
	return &MongoInbox{client: client, coll: coll}, nil
}

func (m *MongoInbox) Notify(ctx context.Context, n model.Notification) error {
	if n.DedupeKey == "" {
		return fmt.Errorf("%w: notification without dedupe key", model.ErrValidation)
	}
	if _, err := m.coll.InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug().Str("dedupe_key", n.DedupeKey).Msg("notify: already delivered")
			return nil
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (m *MongoInbox) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoInbox) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
