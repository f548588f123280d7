package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"

	"phishguard/internal/api"
	"phishguard/internal/classifier"
	"phishguard/internal/config"
	"phishguard/internal/database"
	"phishguard/internal/fingerprint"
	"phishguard/internal/registry"
	"phishguard/internal/reputation"
	"phishguard/internal/scheduler"
	"phishguard/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	if cfg.FingerprintKey == "dev-only-fingerprint-key" && cfg.Environment == "production" {
		log.Fatal("FINGERPRINT_KEY must be set in production")
	}

	// The database is optional: without it detection still works off the
	// reputation feeds and the file-backed registry, but history, metrics
	// and corpus-driven retraining are disabled.
	var db *mongo.Database
	if cfg.MongoURI != "" {
		var err error
		db, err = database.Initialize(cfg.MongoURI, cfg.DatabaseName)
		if err != nil {
			log.Printf("Database unavailable, continuing without persistence: %v", err)
			db = nil
		} else {
			log.Println("Connected to MongoDB successfully")
		}
	}

	engine := fingerprint.NewEngine([]byte(cfg.FingerprintKey))
	store := reputation.NewStore()

	var metaStore registry.MetadataStore
	if db != nil {
		metaStore = &registry.MongoMetadataStore{
			Collection: db.Collection(database.RegistryCollection),
		}
	} else {
		metaStore = &registry.FileMetadataStore{
			Path: filepath.Join(cfg.ModelsDir, "registry.json"),
		}
	}

	ctx := context.Background()
	reg, err := registry.Open(ctx, metaStore, cfg.ModelsDir, classifier.LoadStumpForest)
	if err != nil {
		log.Fatalf("Failed to open model registry: %v", err)
	}

	analyzer := services.NewProbeAnalyzer(cfg.AdvancedTimeout)

	detector := services.NewDetectorService(store, reg, engine, analyzer, db, services.DetectorOptions{
		PrefixLength:    cfg.PrefixLength,
		MLWeight:        cfg.MLWeight,
		AdvancedWeight:  cfg.AdvancedWeight,
		Threshold:       cfg.DetectThreshold,
		AdvancedTimeout: cfg.AdvancedTimeout,
	})

	pipeline := services.NewPipelineService(db, engine, classifier.NewStumpTrainer(), reg, store, services.PipelineOptions{
		PrefixLength:    cfg.PrefixLength,
		FeedFile:        cfg.FeedFile,
		PrefixFeedFile:  cfg.PrefixFeedFile,
		TrainingTimeout: cfg.TrainingTimeout,
	})

	// Populate the reputation set before serving; failures are per-source
	// and already logged.
	result := pipeline.ReloadReputation(ctx)
	log.Printf("Reputation set loaded: %d prefixes from %d sources", result.Total, len(result.Sources))

	sched := scheduler.New(pipeline, cfg.RetrainInterval)
	sched.Start()
	defer sched.Stop()

	var history *services.HistoryService
	if db != nil {
		history = services.NewHistoryService(db)
	}

	server := api.NewServer(cfg, detector, pipeline, sched, reg, history)

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := server.Run(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")
}
