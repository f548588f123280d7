package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"phishguard/internal/models"
)

// Stump is a single-feature threshold rule: it votes phishing when the
// feature value falls on its phishing side of the threshold.
type Stump struct {
	Feature       string  `json:"feature"`
	Threshold     float64 `json:"threshold"`
	PhishAbove    bool    `json:"phishAbove"` // phishing side is value > threshold
	Weight        float64 `json:"weight"`     // training accuracy margin over chance
	TrainAccuracy float64 `json:"trainAccuracy"`
}

// StumpForest is an ensemble of one stump per usable feature. Its
// probability is the weighted share of stumps voting phishing, which keeps
// scores deterministic and makes per-feature importance a direct tally of
// each stump's deciding weight.
type StumpForest struct {
	Stumps []Stump `json:"stumps"`
}

const holdoutFraction = 0.2

// splitSeed keeps the train/test split reproducible across retrains.
const splitSeed = 42

// TrainStumpForest fits one stump per feature on an 80/20 split and
// evaluates the ensemble on the held-out fraction.
func TrainStumpForest(ctx context.Context, ds Dataset) (*StumpForest, models.Metrics, error) {
	if len(ds) == 0 {
		return nil, models.Metrics{}, ErrEmptyDataset
	}
	names := ds[0].Features.Names()
	if len(names) == 0 {
		return nil, models.Metrics{}, fmt.Errorf("classifier: dataset has no features")
	}

	train, test := split(ds)

	forest := &StumpForest{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, models.Metrics{}, err
		}
		stump, ok := fitStump(name, train)
		if !ok {
			continue
		}
		forest.Stumps = append(forest.Stumps, stump)
	}
	if len(forest.Stumps) == 0 {
		return nil, models.Metrics{}, fmt.Errorf("classifier: no usable feature produced a stump")
	}

	metrics := evaluate(forest, test)
	metrics.TrainSize = len(train)
	metrics.TestSize = len(test)
	return forest, metrics, nil
}

// NewStumpTrainer adapts TrainStumpForest to the Trainer interface.
func NewStumpTrainer() Trainer { return stumpTrainer{} }

type stumpTrainer struct{}

func (stumpTrainer) Train(ctx context.Context, ds Dataset) (Classifier, []byte, models.Metrics, error) {
	forest, metrics, err := TrainStumpForest(ctx, ds)
	if err != nil {
		return nil, nil, models.Metrics{}, err
	}
	artifact, err := json.Marshal(forest)
	if err != nil {
		return nil, nil, models.Metrics{}, fmt.Errorf("marshal artifact: %w", err)
	}
	return forest, artifact, metrics, nil
}

// LoadStumpForest reconstructs a forest from its JSON artifact.
func LoadStumpForest(artifact []byte) (Classifier, error) {
	var forest StumpForest
	if err := json.Unmarshal(artifact, &forest); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(forest.Stumps) == 0 {
		return nil, fmt.Errorf("artifact contains no stumps")
	}
	return &forest, nil
}

// PredictProba returns the weighted fraction of stumps voting phishing.
func (f *StumpForest) PredictProba(fv models.FeatureVector) float64 {
	totalWeight := 0.0
	phishWeight := 0.0
	for _, s := range f.Stumps {
		val, ok := fv.Get(s.Feature)
		if !ok {
			continue
		}
		totalWeight += s.Weight
		if s.votesPhishing(val) {
			phishWeight += s.Weight
		}
	}
	if totalWeight == 0 {
		return 0.5
	}
	return phishWeight / totalWeight
}

// Predict applies the conventional 0.5 cut on PredictProba.
func (f *StumpForest) Predict(fv models.FeatureVector) string {
	if f.PredictProba(fv) > 0.5 {
		return models.LabelPhishing
	}
	return models.LabelLegitimate
}

// Importance reports each feature's share of the ensemble's deciding
// weight, normalized to sum to 1.
func (f *StumpForest) Importance() map[string]float64 {
	total := 0.0
	for _, s := range f.Stumps {
		total += s.Weight
	}
	out := make(map[string]float64, len(f.Stumps))
	if total == 0 {
		return out
	}
	for _, s := range f.Stumps {
		out[s.Feature] += s.Weight / total
	}
	return out
}

func (s Stump) votesPhishing(val float64) bool {
	if s.PhishAbove {
		return val > s.Threshold
	}
	return val <= s.Threshold
}

// fitStump searches candidate thresholds (midpoints of adjacent sorted
// values) for the cut that best separates the labels on this feature.
// Features no better than chance are dropped from the ensemble.
func fitStump(feature string, train Dataset) (Stump, bool) {
	type pair struct {
		val   float64
		phish bool
	}
	pairs := make([]pair, 0, len(train))
	for _, ex := range train {
		val, ok := ex.Features.Get(feature)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{val, ex.Phishing})
	}
	if len(pairs) == 0 {
		return Stump{}, false
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].val < pairs[j].val })

	candidates := []float64{pairs[0].val - 1}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].val != pairs[i-1].val {
			candidates = append(candidates, (pairs[i].val+pairs[i-1].val)/2)
		}
	}

	best := Stump{Feature: feature}
	bestCorrect := -1
	for _, thr := range candidates {
		for _, above := range []bool{true, false} {
			correct := 0
			for _, p := range pairs {
				votes := p.val > thr
				if !above {
					votes = !votes
				}
				if votes == p.phish {
					correct++
				}
			}
			if correct > bestCorrect {
				bestCorrect = correct
				best.Threshold = thr
				best.PhishAbove = above
			}
		}
	}

	acc := float64(bestCorrect) / float64(len(pairs))
	if acc <= 0.5 {
		return Stump{}, false
	}
	best.TrainAccuracy = acc
	best.Weight = acc - 0.5
	return best, true
}

// split shuffles deterministically and holds out the last fraction for
// evaluation. Tiny datasets evaluate on the training rows rather than an
// empty holdout.
func split(ds Dataset) (train, test Dataset) {
	shuffled := make(Dataset, len(ds))
	copy(shuffled, ds)
	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	testSize := int(float64(len(shuffled)) * holdoutFraction)
	if testSize == 0 {
		return shuffled, shuffled
	}
	cut := len(shuffled) - testSize
	return shuffled[:cut], shuffled[cut:]
}

// evaluate computes accuracy/precision/recall/F1 with phishing as the
// positive class.
func evaluate(c Classifier, test Dataset) models.Metrics {
	var tp, fp, tn, fn int
	for _, ex := range test {
		predicted := c.Predict(ex.Features) == models.LabelPhishing
		switch {
		case predicted && ex.Phishing:
			tp++
		case predicted && !ex.Phishing:
			fp++
		case !predicted && !ex.Phishing:
			tn++
		default:
			fn++
		}
	}

	m := models.Metrics{}
	if total := tp + fp + tn + fn; total > 0 {
		m.Accuracy = float64(tp+tn) / float64(total)
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
