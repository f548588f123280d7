package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	CorpusCollection   = "corpus"
	VerdictsCollection = "verdicts"
	RegistryCollection = "registry"
	MetricsCollection  = "metrics"
)

func Initialize(mongoURI, dbName string) (*mongo.Database, error) {
	clientOptions := options.Client().ApplyURI(mongoURI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	log.Printf("Connected to MongoDB database: %s", dbName)

	if err := createIndexes(db); err != nil {
		log.Printf("Warning: failed to create indexes: %v", err)
	}

	return db, nil
}

func createIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Corpus: one row per prefix keeps feed resync idempotent.
	corpus := db.Collection(CorpusCollection)
	prefixIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "prefix", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	labelIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "label", Value: 1}},
	}
	if _, err := corpus.Indexes().CreateMany(ctx, []mongo.IndexModel{prefixIndex, labelIndex}); err != nil {
		return fmt.Errorf("failed to create corpus indexes: %w", err)
	}

	// Verdict history: queried newest-first, filtered by prefix.
	verdicts := db.Collection(VerdictsCollection)
	timeIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	}
	verdictPrefixIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "prefix", Value: 1}},
	}
	if _, err := verdicts.Indexes().CreateMany(ctx, []mongo.IndexModel{timeIndex, verdictPrefixIndex}); err != nil {
		return fmt.Errorf("failed to create verdict indexes: %w", err)
	}

	// Daily metrics: one document per day.
	metrics := db.Collection(MetricsCollection)
	dateIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "date", Value: -1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := metrics.Indexes().CreateOne(ctx, dateIndex); err != nil {
		return fmt.Errorf("failed to create metrics indexes: %w", err)
	}

	log.Println("MongoDB indexes created")
	return nil
}
