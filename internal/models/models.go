package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Verdict labels. Phishing is the positive detection outcome throughout:
// every probability and score in the system is the likelihood of phishing.
const (
	LabelPhishing   = "phishing"
	LabelLegitimate = "legitimate"
)

// Detection methods reported in a HybridVerdict.
const (
	MethodReputation = "reputation"
	MethodML         = "ml"
	MethodHybrid     = "hybrid"
)

// Model lifecycle statuses.
const (
	StatusActive     = "active"
	StatusSuperseded = "superseded"
	StatusDeleted    = "deleted"
)

// Feature is a single named numeric signal derived from a URL.
type Feature struct {
	Name  string  `json:"name" bson:"name"`
	Value float64 `json:"value" bson:"value"`
}

// FeatureVector is an ordered sequence of named numeric signals. The
// detection core consumes it read-only and never inspects how the values
// were derived.
type FeatureVector []Feature

// Get returns the value of the named feature and whether it is present.
func (fv FeatureVector) Get(name string) (float64, bool) {
	for _, f := range fv {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Values returns the raw values in declaration order.
func (fv FeatureVector) Values() []float64 {
	vals := make([]float64, len(fv))
	for i, f := range fv {
		vals[i] = f.Value
	}
	return vals
}

// Names returns the feature names in declaration order.
func (fv FeatureVector) Names() []string {
	names := make([]string, len(fv))
	for i, f := range fv {
		names[i] = f.Name
	}
	return names
}

// AdvancedScore is the result of the external multi-signal analysis probe.
// Score is in [0,1] with 1 leaning phishing.
type AdvancedScore struct {
	Score   float64          `json:"score" bson:"score"`
	Status  string           `json:"status" bson:"status"`
	Details map[string]Probe `json:"details,omitempty" bson:"details,omitempty"`
}

// Probe holds one sub-probe's outcome inside an AdvancedScore.
type Probe struct {
	Score  float64 `json:"score" bson:"score"`
	Status string  `json:"status" bson:"status"`
	Detail string  `json:"detail,omitempty" bson:"detail,omitempty"`
}

// HybridVerdict is the fused detection decision for one request.
type HybridVerdict struct {
	Label          string             `json:"label" bson:"label"`
	Method         string             `json:"method" bson:"method"`
	Confidence     float64            `json:"confidence" bson:"confidence"`
	Combined       float64            `json:"combined" bson:"combined"`
	MLScore        float64            `json:"mlScore" bson:"mlScore"`
	AdvancedScore  *float64           `json:"advancedScore,omitempty" bson:"advancedScore,omitempty"`
	Reasons        []string           `json:"reasons" bson:"reasons"`
	FeatureWeights map[string]float64 `json:"featureWeights,omitempty" bson:"featureWeights,omitempty"`
	ModelID        string             `json:"modelId,omitempty" bson:"modelId,omitempty"`
	AnalysisTimeMS float64            `json:"analysisTimeMs" bson:"analysisTimeMs"`
}

// IsPhishing reports whether the verdict label is phishing.
func (v HybridVerdict) IsPhishing() bool { return v.Label == LabelPhishing }

// Metrics are held-out evaluation metrics for a trained model.
type Metrics struct {
	Accuracy  float64 `json:"accuracy" bson:"accuracy"`
	Precision float64 `json:"precision" bson:"precision"`
	Recall    float64 `json:"recall" bson:"recall"`
	F1        float64 `json:"f1" bson:"f1"`
	TrainSize int     `json:"trainSize" bson:"trainSize"`
	TestSize  int     `json:"testSize" bson:"testSize"`
}

// ModelVersion describes one trained classifier artifact tracked by the
// registry. Exactly one version has StatusActive at any time.
type ModelVersion struct {
	ID           string    `json:"id" bson:"id"`
	ArtifactPath string    `json:"artifactPath" bson:"artifactPath"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	Metrics      Metrics   `json:"metrics" bson:"metrics"`
	Status       string    `json:"status" bson:"status"`
}

// RegistryMetadata is the durable registry record. It is always read and
// written as a whole unit; there are no partial updates.
type RegistryMetadata struct {
	Models  []ModelVersion `json:"models" bson:"models"`
	Current string         `json:"current" bson:"current"` // model ID, empty at bootstrap
}

// TrainingExample is one row of the training corpus. It intentionally
// carries no raw URL: only the keyed fingerprint, its prefix and the
// extracted features survive ingestion.
type TrainingExample struct {
	ID          primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Fingerprint string             `json:"fingerprint" bson:"fingerprint"`
	Prefix      string             `json:"prefix" bson:"prefix"`
	Label       string             `json:"label" bson:"label"`
	Features    FeatureVector      `json:"features" bson:"features"`
	Source      string             `json:"source" bson:"source"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
}

// VerdictRecord is one stored detection outcome. Like the corpus it stores
// the prefix only, never the URL it was derived from.
type VerdictRecord struct {
	ID           primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Prefix       string             `json:"prefix" bson:"prefix"`
	Label        string             `json:"label" bson:"label"`
	Method       string             `json:"method" bson:"method"`
	Confidence   float64            `json:"confidence" bson:"confidence"`
	Combined     float64            `json:"combined" bson:"combined"`
	MLScore      float64            `json:"mlScore" bson:"mlScore"`
	Reasons      []string           `json:"reasons" bson:"reasons"`
	ModelID      string             `json:"modelId,omitempty" bson:"modelId,omitempty"`
	AnalysisTime int64              `json:"analysisTime" bson:"analysisTime"` // nanoseconds
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

// DetectionMetric aggregates per-day detection counters.
type DetectionMetric struct {
	ID               primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Date             time.Time          `json:"date" bson:"date"`
	TotalDetections  int                `json:"totalDetections" bson:"totalDetections"`
	PhishingDetected int                `json:"phishingDetected" bson:"phishingDetected"`
	LegitimateURLs   int                `json:"legitimateUrls" bson:"legitimateUrls"`
	ReputationHits   int                `json:"reputationHits" bson:"reputationHits"`
	CreatedAt        time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// PipelineStatus reports the outcome of one retraining pipeline run. Every
// step records its own error so a caller can tell a skipped entry from a
// failed stage.
type PipelineStatus struct {
	RunID        string    `json:"runId" bson:"runId"`
	StartedAt    time.Time `json:"startedAt" bson:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt" bson:"finishedAt"`
	Synced       int       `json:"synced" bson:"synced"`
	DatasetSize  int       `json:"datasetSize" bson:"datasetSize"`
	ModelID      string    `json:"modelId,omitempty" bson:"modelId,omitempty"`
	Metrics      *Metrics  `json:"metrics,omitempty" bson:"metrics,omitempty"`
	PrefixCount  int       `json:"prefixCount" bson:"prefixCount"`
	ErrorSync    string    `json:"errorSync,omitempty" bson:"errorSync,omitempty"`
	ErrorDataset string    `json:"errorDataset,omitempty" bson:"errorDataset,omitempty"`
	ErrorTrain   string    `json:"errorTrain,omitempty" bson:"errorTrain,omitempty"`
	ErrorReload  string    `json:"errorReload,omitempty" bson:"errorReload,omitempty"`
}

// Succeeded reports whether every pipeline step completed.
func (p PipelineStatus) Succeeded() bool {
	return p.ErrorSync == "" && p.ErrorDataset == "" && p.ErrorTrain == "" && p.ErrorReload == ""
}
