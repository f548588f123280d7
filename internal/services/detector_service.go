package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"phishguard/internal/canonical"
	"phishguard/internal/classifier"
	"phishguard/internal/database"
	"phishguard/internal/features"
	"phishguard/internal/fingerprint"
	"phishguard/internal/models"
	"phishguard/internal/registry"
	"phishguard/internal/reputation"
)

// ErrInvalidPrefix rejects detection requests whose prefix is missing or not
// a fingerprint truncation.
var ErrInvalidPrefix = errors.New("invalid fingerprint prefix")

// DetectorService is the hybrid score combiner: reputation gate first, then
// the current model's probability, optionally fused with an advanced
// analysis score.
type DetectorService struct {
	reputation *reputation.Store
	registry   *registry.Registry
	engine     *fingerprint.Engine
	analyzer   Analyzer
	db         *mongo.Database // nil disables history/metrics persistence

	prefixLen       int
	mlWeight        float64
	advancedWeight  float64
	threshold       float64
	advancedTimeout time.Duration
}

// DetectorOptions carries the tunables of the combiner.
type DetectorOptions struct {
	PrefixLength    int
	MLWeight        float64
	AdvancedWeight  float64
	Threshold       float64
	AdvancedTimeout time.Duration
}

// DetectRequest is the typed detection input: the fingerprint prefix, the
// externally extracted feature vector and an optional advanced score.
type DetectRequest struct {
	Prefix   string                `json:"prefix" binding:"required"`
	Features models.FeatureVector  `json:"features"`
	Advanced *models.AdvancedScore `json:"advanced,omitempty"`
}

func NewDetectorService(store *reputation.Store, reg *registry.Registry, engine *fingerprint.Engine, analyzer Analyzer, db *mongo.Database, opts DetectorOptions) *DetectorService {
	if opts.PrefixLength <= 0 {
		opts.PrefixLength = fingerprint.DefaultPrefixLength
	}
	if opts.MLWeight <= 0 {
		opts.MLWeight = 0.6
	}
	if opts.AdvancedWeight <= 0 {
		opts.AdvancedWeight = 0.4
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.5
	}
	if opts.AdvancedTimeout <= 0 {
		opts.AdvancedTimeout = 5 * time.Second
	}
	return &DetectorService{
		reputation:      store,
		registry:        reg,
		engine:          engine,
		analyzer:        analyzer,
		db:              db,
		prefixLen:       opts.PrefixLength,
		mlWeight:        opts.MLWeight,
		advancedWeight:  opts.AdvancedWeight,
		threshold:       opts.Threshold,
		advancedTimeout: opts.AdvancedTimeout,
	}
}

// Detect runs the per-request decision flow. A prefix present in the
// reputation set short-circuits to phishing with confidence 1.0 regardless
// of any other evidence.
func (s *DetectorService) Detect(ctx context.Context, req DetectRequest) (models.HybridVerdict, error) {
	start := time.Now()

	if !validPrefix(req.Prefix) {
		return models.HybridVerdict{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, req.Prefix)
	}

	if s.reputation.IsKnown(req.Prefix) {
		verdict := models.HybridVerdict{
			Label:          models.LabelPhishing,
			Method:         models.MethodReputation,
			Confidence:     1.0,
			Combined:       1.0,
			Reasons:        []string{"fingerprint matches known phishing feed"},
			AnalysisTimeMS: msSince(start),
		}
		s.record(req.Prefix, verdict)
		return verdict, nil
	}

	snap := s.registry.Current()
	if snap == nil {
		// Bootstrap or lost registry: reputation is the only signal left.
		// The prefix missed it, so report legitimate, but at coin-flip
		// confidence and with an explicit reason.
		verdict := models.HybridVerdict{
			Label:          models.LabelLegitimate,
			Method:         models.MethodReputation,
			Confidence:     0.5,
			Reasons:        []string{"no trained model available; reputation-only decision"},
			AnalysisTimeMS: msSince(start),
		}
		s.record(req.Prefix, verdict)
		return verdict, nil
	}

	pML := snap.Model.PredictProba(req.Features)

	combined := s.mlWeight * pML
	method := models.MethodML
	var advScore *float64
	if req.Advanced != nil {
		adv := clamp01(req.Advanced.Score)
		combined += s.advancedWeight * adv
		method = models.MethodHybrid
		advScore = &adv
	}

	label := models.LabelLegitimate
	if combined > s.threshold {
		label = models.LabelPhishing
	}

	verdict := models.HybridVerdict{
		Label:          label,
		Method:         method,
		Confidence:     math.Max(combined, 1-combined),
		Combined:       combined,
		MLScore:        pML,
		AdvancedScore:  advScore,
		Reasons:        buildReasons(req.Features),
		ModelID:        snap.Version.ID,
		AnalysisTimeMS: msSince(start),
	}
	if explainer, ok := snap.Model.(classifier.Explainer); ok {
		verdict.FeatureWeights = explainer.Importance()
	}

	s.record(req.Prefix, verdict)
	return verdict, nil
}

// Analyze is the one-shot serving path: canonicalize, fingerprint, extract
// features, probe, detect. The raw URL is dropped once the prefix and
// features exist; only derived values flow further.
func (s *DetectorService) Analyze(ctx context.Context, rawURL string) (models.HybridVerdict, error) {
	fv := features.Extract(rawURL)
	c, err := canonical.Canonicalize(rawURL)
	if err != nil {
		return models.HybridVerdict{}, err
	}
	prefix := fingerprint.Prefix(s.engine.Fingerprint(c), s.prefixLen)

	req := DetectRequest{Prefix: prefix, Features: fv}

	// The probe is best-effort and strictly bounded; on unavailability or
	// timeout the request degrades to ML-only rather than failing. It sees
	// the canonical form only, never the raw input.
	if s.analyzer != nil && !s.reputation.IsKnown(prefix) {
		probeCtx, cancel := context.WithTimeout(ctx, s.advancedTimeout)
		adv, err := s.analyzer.Score(probeCtx, c.String())
		cancel()
		switch {
		case err == nil:
			req.Advanced = &adv
		case errors.Is(err, ErrProbeTimeout), errors.Is(err, ErrProbeUnavailable):
			log.Printf("detector: advanced analysis degraded to ML-only: %v", err)
		default:
			log.Printf("detector: advanced analysis error, continuing ML-only: %v", err)
		}
	}

	return s.Detect(ctx, req)
}

// FingerprintURL derives the fingerprint, prefix and feature vector for a
// URL without keeping the URL around.
func (s *DetectorService) FingerprintURL(rawURL string) (fp, prefix string, fv models.FeatureVector, err error) {
	fv = features.Extract(rawURL)
	fp, prefix, err = s.engine.FromURL(rawURL, s.prefixLen)
	if err != nil {
		return "", "", nil, err
	}
	return fp, prefix, fv, nil
}

// Reason thresholds are fixed so the explanation list is deterministic for
// a given feature vector. Reasons never change the label.
func buildReasons(fv models.FeatureVector) []string {
	var reasons []string
	add := func(name string, crossed func(float64) bool, text string) {
		if v, ok := fv.Get(name); ok && crossed(v) {
			reasons = append(reasons, text)
		}
	}
	add(features.FeatTLSValid, func(v float64) bool { return v == 0 }, "no HTTPS")
	add(features.FeatDomainAge, func(v float64) bool { return v < 30 }, "domain registered <30 days")
	add(features.FeatHyphenCount, func(v float64) bool { return v > 2 }, "excessive hyphens")
	add(features.FeatHasAt, func(v float64) bool { return v > 0 }, "@ character in URL")
	add(features.FeatEntropy, func(v float64) bool { return v > 4.5 }, "high URL entropy")
	add(features.FeatSuspiciousJS, func(v float64) bool { return v > 0 }, "suspicious keyword in URL")
	add(features.FeatRedirects, func(v float64) bool { return v > 1 }, "possible redirect chain")
	return reasons
}

// record stores the verdict and bumps the daily counters. Best-effort: a
// missing or failing database never affects the response.
func (s *DetectorService) record(prefix string, verdict models.HybridVerdict) {
	if s.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rec := models.VerdictRecord{
			Prefix:       prefix,
			Label:        verdict.Label,
			Method:       verdict.Method,
			Confidence:   verdict.Confidence,
			Combined:     verdict.Combined,
			MLScore:      verdict.MLScore,
			Reasons:      verdict.Reasons,
			ModelID:      verdict.ModelID,
			AnalysisTime: int64(verdict.AnalysisTimeMS * float64(time.Millisecond)),
			CreatedAt:    time.Now().UTC(),
		}
		if _, err := s.db.Collection(database.VerdictsCollection).InsertOne(ctx, rec); err != nil {
			log.Printf("detector: failed to store verdict: %v", err)
		}

		s.updateMetrics(ctx, verdict)
	}()
}

func (s *DetectorService) updateMetrics(ctx context.Context, verdict models.HybridVerdict) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	filter := bson.M{"date": today}

	inc := bson.M{"totalDetections": 1}
	if verdict.IsPhishing() {
		inc["phishingDetected"] = 1
	} else {
		inc["legitimateUrls"] = 1
	}
	if verdict.Method == models.MethodReputation && verdict.IsPhishing() {
		inc["reputationHits"] = 1
	}

	update := bson.M{
		"$inc":         inc,
		"$setOnInsert": bson.M{"date": today, "createdAt": time.Now().UTC()},
		"$set":         bson.M{"updatedAt": time.Now().UTC()},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := s.db.Collection(database.MetricsCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		log.Printf("detector: failed to update metrics: %v", err)
	}
}

func validPrefix(p string) bool {
	if len(p) < 4 || len(p) > 128 {
		return false
	}
	for _, c := range p {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
