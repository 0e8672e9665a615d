package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// AlertCollection interface for mocking
type AlertCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// MongoAlertStore keeps one document per alert, keyed by alert_id
type MongoAlertStore struct {
	client     *mongo.Client
	collection AlertCollection
	logger     *zap.SugaredLogger
}

// NewMongoAlertStore connects and ensures the created_at index
func NewMongoAlertStore(ctx context.Context, cfg config.MongoDBConfig, logger *zap.SugaredLogger) (*MongoAlertStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		SetServerSelectionTimeout(5 * time.Second).
		ApplyURI(cfg.URI)
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to MongoDB: %v", ErrSinkUnavailable, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: failed to ping MongoDB: %v", ErrSinkUnavailable, err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		logger.Warnw("Failed to create alert index", "collection", cfg.Collection, "error", err)
	}

	logger.Infow("Connected to MongoDB", "database", cfg.Database, "collection", cfg.Collection)
	return &MongoAlertStore{client: client, collection: coll, logger: logger}, nil
}

// NewMongoAlertStoreWithCollection wraps an existing collection
func NewMongoAlertStoreWithCollection(coll AlertCollection, logger *zap.SugaredLogger) *MongoAlertStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoAlertStore{collection: coll, logger: logger}
}

// StoreAlerts upserts each alert with $setOnInsert so existing documents
// are never overwritten
func (m *MongoAlertStore) StoreAlerts(ctx context.Context, alerts []core.Alert) (int, error) {
	inserted := 0
	opts := options.Update().SetUpsert(true)
	for i := range alerts {
		a := alerts[i]
		doc, err := alertDocument(&a)
		if err != nil {
			return inserted, err
		}
		res, err := m.collection.UpdateOne(ctx,
			bson.M{"_id": a.AlertID},
			bson.M{"$setOnInsert": doc},
			opts)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert alert %s: %w", a.AlertID, err)
		}
		if res != nil && res.UpsertedCount > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// alertDocument encodes a without _id, which the upsert filter supplies
func alertDocument(a *core.Alert) (bson.M, error) {
	raw, err := bson.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert %s: %w", a.AlertID, err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode alert %s: %w", a.AlertID, err)
	}
	delete(doc, "_id")
	return doc, nil
}

// GetAlert loads one alert by id
func (m *MongoAlertStore) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	var a core.Alert
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	return &a, nil
}

// Close disconnects the client
func (m *MongoAlertStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
