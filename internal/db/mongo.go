// Package db implements the persistence adapter on MongoDB. Batch documents
// and metering-point metadata live in two collections of one database; the
// hierarchical device/year/month path is stored as an indexed field so range
// reads resolve to an $in over exact path values.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

const (
	batchCollection    = "telemetry_batches"
	metadataCollection = "metering_points"
)

func NewMongoConnection(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = client.Ping(ctx, readpref.Primary())

	return client, nil
}

// MongoBatchStore implements domain.BatchStore.
type MongoBatchStore struct {
	collection *mongo.Collection
}

func NewMongoBatchStore(client *mongo.Client, database string) (*MongoBatchStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection := client.Database(database).Collection(batchCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "path", Value: 1},
				{Key: "day", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "device_id", Value: 1},
				{Key: "sensor_id", Value: 1},
				{Key: "date", Value: 1},
			},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create batch indexes: %w", err)
	}

	return &MongoBatchStore{collection: collection}, nil
}

// Put inserts a batch document. Always an insert, never an upsert: document
// identifiers are freshly minted per attempt, so a retried request creates a
// sibling document instead of racing an update.
func (s *MongoBatchStore) Put(ctx context.Context, doc *domain.BatchDocument) error {
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return &domain.PersistenceError{Op: "insert batch document", Err: err}
	}
	return nil
}

// GetRange returns all batch documents stored under the given paths. The
// sort includes seq because created_at is millisecond-truncated and Mongo
// does not order equal keys consistently across executions; seq makes the
// result deterministic and the reassembler additionally re-sorts on it.
func (s *MongoBatchStore) GetRange(ctx context.Context, paths []string) ([]*domain.BatchDocument, error) {
	filter := bson.M{"path": bson.M{"$in": paths}}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
	})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query batch documents", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []*domain.BatchDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &domain.PersistenceError{Op: "decode batch documents", Err: err}
	}
	return docs, nil
}

// MongoMetadataStore implements domain.MetadataStore.
type MongoMetadataStore struct {
	collection *mongo.Collection
}

func NewMongoMetadataStore(client *mongo.Client, database string) (*MongoMetadataStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection := client.Database(database).Collection(metadataCollection)

	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "device_id", Value: 1},
			{Key: "metering_point", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("create metadata index: %w", err)
	}

	return &MongoMetadataStore{collection: collection}, nil
}

func (s *MongoMetadataStore) Get(ctx context.Context, deviceID, meteringPoint string) (*domain.MeteringPointMetadata, error) {
	filter := bson.M{"device_id": deviceID, "metering_point": meteringPoint}

	var record domain.MeteringPointMetadata
	err := s.collection.FindOne(ctx, filter).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read metering point metadata", Err: err}
	}
	return &record, nil
}

func (s *MongoMetadataStore) Put(ctx context.Context, meta *domain.MeteringPointMetadata) error {
	filter := bson.M{"device_id": meta.DeviceID, "metering_point": meta.MeteringPoint}
	opts := options.Replace().SetUpsert(true)

	if _, err := s.collection.ReplaceOne(ctx, filter, meta, opts); err != nil {
		return &domain.PersistenceError{Op: "write metering point metadata", Err: err}
	}
	return nil
}

func (s *MongoMetadataStore) List(ctx context.Context, deviceID string) ([]*domain.MeteringPointMetadata, error) {
	filter := bson.M{"device_id": deviceID}
	opts := options.Find().SetSort(bson.D{{Key: "metering_point", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list metering points", Err: err}
	}
	defer cursor.Close(ctx)

	var records []*domain.MeteringPointMetadata
	if err := cursor.All(ctx, &records); err != nil {
		return nil, &domain.PersistenceError{Op: "decode metering points", Err: err}
	}
	return records, nil
}
