package store

import (
	"context"
	"fmt"
	"time"

	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/message"
	"github.com/sweetpotato0/mcp-bridge/transcript"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements transcript.Store using MongoDB.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns the defaults used when config is nil.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "mcp_bridge",
		Collection: "transcripts",
	}
}

// mongoTranscript is the internal representation for MongoDB.
type mongoTranscript struct {
	ID          string             `bson:"_id"`
	Model       string             `bson:"model"`
	Messages    []*message.Message `bson:"messages"`
	Turns       int                `bson:"turns"`
	Outcome     string             `bson:"outcome"`
	StartedAt   time.Time          `bson:"started_at"`
	CompletedAt time.Time          `bson:"completed_at"`
}

// NewMongoStore creates a MongoDB-backed transcript store.
func NewMongoStore(cfg *MongoConfig) (*MongoStore, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := store.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "completed_at", Value: -1}},
	}
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// Save stores a transcript record.
func (s *MongoStore) Save(ctx context.Context, t *transcript.Transcript) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("transcript must have an id")
	}

	doc := mongoTranscript{
		ID:          t.ID,
		Model:       t.Model,
		Messages:    t.Messages,
		Turns:       t.Turns,
		Outcome:     t.Outcome,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": t.ID}, doc, opts); err != nil {
		return fmt.Errorf("store transcript in MongoDB: %w", err)
	}
	return nil
}

// Get retrieves a transcript by id.
func (s *MongoStore) Get(ctx context.Context, id string) (*transcript.Transcript, error) {
	var doc mongoTranscript
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("transcript %s: %w", id, bridgeerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch transcript from MongoDB: %w", err)
	}
	return doc.transcript(), nil
}

// List returns the most recent transcripts, newest first.
func (s *MongoStore) List(ctx context.Context, limit int) ([]*transcript.Transcript, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().SetSort(bson.M{"completed_at": -1}).SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list transcripts from MongoDB: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoTranscript
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transcripts: %w", err)
	}

	out := make([]*transcript.Transcript, len(docs))
	for i, d := range docs {
		out[i] = d.transcript()
	}
	return out, nil
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d mongoTranscript) transcript() *transcript.Transcript {
	return &transcript.Transcript{
		ID:          d.ID,
		Model:       d.Model,
		Messages:    d.Messages,
		Turns:       d.Turns,
		Outcome:     d.Outcome,
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
	}
}
