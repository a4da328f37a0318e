package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/core/server"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/auth"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/db"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	mongoURI := envOr("MONGO_URI", "mongodb://localhost:27017")
	database := envOr("MONGO_DATABASE", "energiemonitor")

	client, err := db.NewMongoConnection(mongoURI)
	if err != nil {
		logger.Fatal("MongoDB connection failed", zap.Error(err))
	}

	options := []server.ConfigOption{
		server.WithMongoDB(client, database),
		server.WithPort(envOr("PORT", "8080")),
		server.WithLogger(logger),
		server.WithAuthenticator(buildAuthenticator(logger)),
	}

	if capacity := envInt("MAX_POINTS_PER_BATCH", 0); capacity > 0 {
		options = append(options, server.WithBatchCapacity(capacity))
	}
	if days := envInt("MAX_EXPORT_RANGE_DAYS", 0); days > 0 {
		options = append(options, server.WithExportRangeLimit(days))
	}
	if workers := envInt("COMMIT_CONCURRENCY", 0); workers > 0 {
		options = append(options, server.WithCommitConcurrency(workers))
	}
	if os.Getenv("STRICT_METERING_POINTS") == "true" {
		options = append(options, server.WithStrictMeteringPoints())
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := envOr("KAFKA_TOPIC", "telemetry-ingest")
		options = append(options, server.WithKafka(brokers, topic))
	}

	srv, err := server.NewServer(options...)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received...")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	srv.Close()
	logger.Info("Server shutdown complete")
}

// buildAuthenticator selects the device-key source: a JSON keyset from the
// environment for local use, Secret Manager in production.
func buildAuthenticator(logger *zap.Logger) *auth.Authenticator {
	if keysJSON := os.Getenv("DEVICE_KEYS_JSON"); keysJSON != "" {
		provider, err := auth.NewStaticProvider(keysJSON)
		if err != nil {
			logger.Fatal("Invalid DEVICE_KEYS_JSON", zap.Error(err))
		}
		return auth.NewAuthenticator(provider, logger.Named("auth"))
	}

	project := os.Getenv("GCP_PROJECT")
	if project == "" {
		logger.Fatal("Either DEVICE_KEYS_JSON or GCP_PROJECT must be set")
	}
	secretName := envOr("DEVICE_KEYS_SECRET_NAME", "energiemonitor-device-keys")
	return auth.NewAuthenticator(auth.NewSecretManagerProvider(project, secretName), logger.Named("auth"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
