package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streamloop/toolstream/audit"
	"github.com/streamloop/toolstream/config"
)

// MongoRecorder persists audit records in a MongoDB collection.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "toolstream",
		Collection: "tool_audit",
	}
}

// mongoRecord is the internal representation for MongoDB.
type mongoRecord struct {
	SessionID  string    `bson:"session_id"`
	Provider   string    `bson:"provider"`
	Model      string    `bson:"model"`
	Iteration  int       `bson:"iteration"`
	CallID     string    `bson:"call_id"`
	Tool       string    `bson:"tool"`
	Arguments  string    `bson:"arguments"`
	Success    bool      `bson:"success"`
	Result     string    `bson:"result,omitempty"`
	Error      string    `bson:"error,omitempty"`
	DurationMs int64     `bson:"duration_ms"`
	At         time.Time `bson:"at"`
}

// NewMongoRecorder creates a MongoDB-backed audit recorder.
func NewMongoRecorder(cfg *MongoConfig) (*MongoRecorder, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}
	if err := config.ValidateMongoDBConfig(cfg.URI, cfg.Database, cfg.Collection); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	recorder := &MongoRecorder{
		client:     client,
		collection: collection,
	}
	if err := recorder.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return recorder, nil
}

func (r *MongoRecorder) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "tool", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Record implements audit.Recorder.
func (r *MongoRecorder) Record(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]any, 0, len(records))
	for _, rec := range records {
		docs = append(docs, mongoRecord{
			SessionID:  rec.SessionID,
			Provider:   rec.Provider,
			Model:      rec.Model,
			Iteration:  rec.Iteration,
			CallID:     rec.Call.ID,
			Tool:       rec.Call.Name,
			Arguments:  rec.Call.Arguments,
			Success:    rec.Result.Success,
			Result:     rec.Result.Result,
			Error:      rec.Result.Error,
			DurationMs: rec.Result.ExecutionTime.Milliseconds(),
			At:         rec.At,
		})
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert audit records: %w", err)
	}
	return nil
}

// BySession returns all records for a session, newest first.
func (r *MongoRecorder) BySession(ctx context.Context, sessionID string, limit int64) ([]audit.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []audit.Record
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		records = append(records, recordFromMongo(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return records, nil
}

// Close disconnects from MongoDB.
func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func recordFromMongo(doc mongoRecord) audit.Record {
	rec := audit.Record{
		SessionID: doc.SessionID,
		Provider:  doc.Provider,
		Model:     doc.Model,
		Iteration: doc.Iteration,
		At:        doc.At,
	}
	rec.Call.ID = doc.CallID
	rec.Call.Name = doc.Tool
	rec.Call.Arguments = doc.Arguments
	rec.Result.ID = doc.CallID
	rec.Result.Name = doc.Tool
	rec.Result.Success = doc.Success
	rec.Result.Result = doc.Result
	rec.Result.Error = doc.Error
	rec.Result.ExecutionTime = time.Duration(doc.DurationMs) * time.Millisecond
	return rec
}
