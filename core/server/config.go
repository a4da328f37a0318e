package server

import (
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/broker"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/db"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

type ServerConfig struct {
	Port                 string
	BatchCapacity        int
	MaxExportRangeDays   int
	CommitConcurrency    int
	StrictMeteringPoints bool

	BatchStore    domain.BatchStore
	MetadataStore domain.MetadataStore
	Authenticator domain.Authenticator
	Publisher     broker.Publisher
	Logger        *zap.Logger
}

type ConfigOption func(*ServerConfig) error

func WithMongoDB(client *mongo.Client, database string) ConfigOption {
	return func(config *ServerConfig) error {
		batches, err := db.NewMongoBatchStore(client, database)
		if err != nil {
			return err
		}
		metadata, err := db.NewMongoMetadataStore(client, database)
		if err != nil {
			return err
		}
		config.BatchStore = batches
		config.MetadataStore = metadata
		return nil
	}
}

// WithStores injects store implementations directly, bypassing MongoDB.
func WithStores(batches domain.BatchStore, metadata domain.MetadataStore) ConfigOption {
	return func(config *ServerConfig) error {
		config.BatchStore = batches
		config.MetadataStore = metadata
		return nil
	}
}

func WithAuthenticator(a domain.Authenticator) ConfigOption {
	return func(config *ServerConfig) error {
		config.Authenticator = a
		return nil
	}
}

func WithKafka(brokers, topic string) ConfigOption {
	return func(config *ServerConfig) error {
		publisher, err := broker.NewKafkaPublisher(brokers, topic)
		if err != nil {
			return err
		}
		config.Publisher = publisher
		return nil
	}
}

func WithPort(port string) ConfigOption {
	return func(config *ServerConfig) error {
		config.Port = port
		return nil
	}
}

// WithBatchCapacity sets the maximum data points per batch document.
// Validated in NewServer: a non-positive capacity fails startup.
func WithBatchCapacity(capacity int) ConfigOption {
	return func(config *ServerConfig) error {
		config.BatchCapacity = capacity
		return nil
	}
}

func WithExportRangeLimit(days int) ConfigOption {
	return func(config *ServerConfig) error {
		config.MaxExportRangeDays = days
		return nil
	}
}

func WithCommitConcurrency(n int) ConfigOption {
	return func(config *ServerConfig) error {
		config.CommitConcurrency = n
		return nil
	}
}

// WithStrictMeteringPoints rejects readings whose metering point is not in
// the known catalogue.
func WithStrictMeteringPoints() ConfigOption {
	return func(config *ServerConfig) error {
		config.StrictMeteringPoints = true
		return nil
	}
}

func WithLogger(log *zap.Logger) ConfigOption {
	return func(config *ServerConfig) error {
		config.Logger = log
		return nil
	}
}
