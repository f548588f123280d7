package services

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"phishguard/internal/classifier"
	"phishguard/internal/database"
	"phishguard/internal/features"
	"phishguard/internal/fingerprint"
	"phishguard/internal/models"
	"phishguard/internal/registry"
	"phishguard/internal/reputation"
)

// PipelineService runs the retraining pipeline: resync the phishing feed
// into the corpus, rebuild the dataset, train and register a new model,
// then reload the reputation set. Each step fails independently; the
// previous active model keeps serving whenever training goes wrong.
type PipelineService struct {
	db       *mongo.Database
	engine   *fingerprint.Engine
	trainer  classifier.Trainer
	registry *registry.Registry
	store    *reputation.Store

	prefixLen       int
	feedFile        string
	prefixFeedFile  string
	trainingTimeout time.Duration
}

type PipelineOptions struct {
	PrefixLength    int
	FeedFile        string
	PrefixFeedFile  string
	TrainingTimeout time.Duration
}

func NewPipelineService(db *mongo.Database, engine *fingerprint.Engine, trainer classifier.Trainer, reg *registry.Registry, store *reputation.Store, opts PipelineOptions) *PipelineService {
	if opts.PrefixLength <= 0 {
		opts.PrefixLength = fingerprint.DefaultPrefixLength
	}
	if opts.TrainingTimeout <= 0 {
		opts.TrainingTimeout = 30 * time.Minute
	}
	return &PipelineService{
		db:              db,
		engine:          engine,
		trainer:         trainer,
		registry:        reg,
		store:           store,
		prefixLen:       opts.PrefixLength,
		feedFile:        opts.FeedFile,
		prefixFeedFile:  opts.PrefixFeedFile,
		trainingTimeout: opts.TrainingTimeout,
	}
}

// Run executes the full pipeline once and reports a per-step status. It
// never panics the caller and never leaves the registry or reputation set
// partially updated.
func (s *PipelineService) Run(ctx context.Context) models.PipelineStatus {
	status := models.PipelineStatus{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		status.FinishedAt = time.Now().UTC()
	}()

	// Step 1: resync the URL feed into the corpus, idempotent by prefix.
	synced, err := s.SyncFeed(ctx)
	status.Synced = synced
	if err != nil {
		status.ErrorSync = err.Error()
		log.Printf("pipeline %s: feed sync failed: %v", status.RunID, err)
	}

	// Step 2: rebuild the training dataset from the corpus.
	dataset, err := s.BuildDataset(ctx)
	status.DatasetSize = len(dataset)
	if err != nil {
		status.ErrorDataset = err.Error()
		log.Printf("pipeline %s: dataset rebuild failed: %v", status.RunID, err)
	}

	// Steps 3+4: train and register. A failure here leaves the prior
	// active model untouched.
	if status.ErrorDataset == "" && len(dataset) > 0 {
		trainCtx, cancel := context.WithTimeout(ctx, s.trainingTimeout)
		_, artifact, metrics, err := s.trainer.Train(trainCtx, dataset)
		cancel()
		if err != nil {
			status.ErrorTrain = err.Error()
			log.Printf("pipeline %s: training failed, keeping current model: %v", status.RunID, err)
		} else {
			version, err := s.registry.Register(ctx, artifact, metrics)
			if err != nil {
				status.ErrorTrain = err.Error()
				log.Printf("pipeline %s: model registration failed, keeping current model: %v", status.RunID, err)
			} else {
				status.ModelID = version.ID
				status.Metrics = &metrics
			}
		}
	} else if status.ErrorDataset == "" {
		status.ErrorTrain = "empty dataset, training skipped"
	}

	// Step 5: reload the reputation store from every configured source.
	result := s.ReloadReputation(ctx)
	status.PrefixCount = result.Total
	for _, src := range result.Sources {
		if src.Error != "" {
			status.ErrorReload = fmt.Sprintf("%s: %s", src.Source, src.Error)
		}
	}

	log.Printf("pipeline %s: synced=%d dataset=%d model=%s prefixes=%d",
		status.RunID, status.Synced, status.DatasetSize, status.ModelID, status.PrefixCount)
	return status
}

// SyncFeed ingests every URL from the feed file into the corpus as a
// phishing example. Entries already present by prefix are left alone, so
// repeated syncs are idempotent. Malformed lines are skipped.
func (s *PipelineService) SyncFeed(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("no corpus database configured")
	}
	if s.feedFile == "" {
		return 0, nil
	}
	file, err := os.Open(s.feedFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	added := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inserted, err := s.Ingest(ctx, line, models.LabelPhishing, "feed")
		if err != nil {
			continue // malformed entry, skip
		}
		if inserted {
			added++
		}
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("read feed: %w", err)
	}
	return added, nil
}

// Ingest adds one labelled URL to the corpus. Features are extracted now,
// while the URL is still in hand; only fingerprint, prefix, label and
// features are stored. Returns whether a new row was inserted.
func (s *PipelineService) Ingest(ctx context.Context, rawURL, label, source string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("no corpus database configured")
	}
	fv := features.Extract(rawURL)
	fp, prefix, err := s.engine.FromURL(rawURL, s.prefixLen)
	if err != nil {
		return false, err
	}

	example := models.TrainingExample{
		Fingerprint: fp,
		Prefix:      prefix,
		Label:       label,
		Features:    fv,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}

	opts := options.Update().SetUpsert(true)
	res, err := s.db.Collection(database.CorpusCollection).UpdateOne(ctx,
		bson.M{"prefix": prefix},
		bson.M{"$setOnInsert": example},
		opts,
	)
	if err != nil {
		return false, fmt.Errorf("upsert corpus entry: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// BuildDataset reads every corpus row carrying features into a training
// dataset.
func (s *PipelineService) BuildDataset(ctx context.Context) (classifier.Dataset, error) {
	if s.db == nil {
		return nil, fmt.Errorf("no corpus database configured")
	}
	cursor, err := s.db.Collection(database.CorpusCollection).Find(ctx, bson.M{
		"features.0": bson.M{"$exists": true},
	})
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer cursor.Close(ctx)

	var dataset classifier.Dataset
	for cursor.Next(ctx) {
		var ex models.TrainingExample
		if err := cursor.Decode(&ex); err != nil {
			continue
		}
		dataset = append(dataset, classifier.Example{
			Features: ex.Features,
			Phishing: ex.Label == models.LabelPhishing,
		})
	}
	if err := cursor.Err(); err != nil {
		return dataset, fmt.Errorf("read corpus: %w", err)
	}
	return dataset, nil
}

// ReloadReputation rebuilds the reputation set from every configured feed
// source and swaps it in atomically.
func (s *PipelineService) ReloadReputation(ctx context.Context) reputation.LoadResult {
	var sources []reputation.FeedSource
	if s.feedFile != "" {
		sources = append(sources, &reputation.URLFileFeed{
			Path: s.feedFile, Engine: s.engine, PrefixLen: s.prefixLen,
		})
	}
	if s.prefixFeedFile != "" {
		sources = append(sources, &reputation.PrefixFileFeed{
			Path: s.prefixFeedFile, PrefixLen: s.prefixLen,
		})
	}
	if s.db != nil {
		sources = append(sources, &reputation.CorpusFeed{
			Collection: s.db.Collection(database.CorpusCollection),
		})
	}
	return s.store.Load(ctx, sources...)
}
