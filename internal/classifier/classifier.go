// Package classifier defines the boundary to the trainable phishing
// classifier and ships a threshold-stump ensemble as the default
// implementation. The rest of the system only sees the interfaces: models
// are trained into opaque artifacts, persisted by the registry, and loaded
// back for prediction.
package classifier

import (
	"context"
	"errors"

	"phishguard/internal/models"
)

// ErrEmptyDataset is returned when training is attempted with no examples.
var ErrEmptyDataset = errors.New("classifier: empty training dataset")

// Example is one labelled training row.
type Example struct {
	Features models.FeatureVector
	Phishing bool
}

// Dataset is an ordered training set.
type Dataset []Example

// Classifier scores feature vectors. Implementations must be safe for
// concurrent use after construction.
type Classifier interface {
	// PredictProba returns the probability of phishing in [0,1].
	PredictProba(fv models.FeatureVector) float64
	// Predict returns models.LabelPhishing or models.LabelLegitimate.
	Predict(fv models.FeatureVector) string
}

// Explainer is optionally implemented by ensemble classifiers that can
// report per-feature importance, normalized to sum to 1.
type Explainer interface {
	Importance() map[string]float64
}

// Trainer produces a new model from a dataset, returning the live
// classifier, its serialized artifact and held-out metrics.
type Trainer interface {
	Train(ctx context.Context, ds Dataset) (Classifier, []byte, models.Metrics, error)
}

// Loader reconstructs a classifier from a persisted artifact.
type Loader func(artifact []byte) (Classifier, error)
