package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishguard/internal/classifier"
	"phishguard/internal/features"
	"phishguard/internal/fingerprint"
	"phishguard/internal/models"
	"phishguard/internal/registry"
	"phishguard/internal/reputation"
)

// fixedModel predicts the probability baked into its artifact, so tests can
// exercise the combiner with exact numbers.
type fixedModel struct {
	P float64 `json:"p"`
}

func (m *fixedModel) PredictProba(models.FeatureVector) float64 { return m.P }
func (m *fixedModel) Predict(fv models.FeatureVector) string {
	if m.P > 0.5 {
		return models.LabelPhishing
	}
	return models.LabelLegitimate
}

func fixedLoader(artifact []byte) (classifier.Classifier, error) {
	var m fixedModel
	if err := json.Unmarshal(artifact, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func testRegistry(t *testing.T, proba *float64) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	store := &registry.FileMetadataStore{Path: filepath.Join(dir, "registry.json")}
	reg, err := registry.Open(context.Background(), store, filepath.Join(dir, "artifacts"), fixedLoader)
	require.NoError(t, err)
	if proba != nil {
		artifact, err := json.Marshal(fixedModel{P: *proba})
		require.NoError(t, err)
		_, err = reg.Register(context.Background(), artifact, models.Metrics{Accuracy: 0.9})
		require.NoError(t, err)
	}
	return reg
}

func seededStore(prefixes ...string) *reputation.Store {
	store := reputation.NewStore()
	if len(prefixes) > 0 {
		store.Load(context.Background(), &reputation.StaticFeed{FeedName: "seed", Prefixes: prefixes})
	}
	return store
}

func newTestDetector(t *testing.T, store *reputation.Store, proba *float64, analyzer Analyzer) *DetectorService {
	t.Helper()
	engine := fingerprint.NewEngine([]byte("test-key"))
	return NewDetectorService(store, testRegistry(t, proba), engine, analyzer, nil, DetectorOptions{
		PrefixLength:   12,
		MLWeight:       0.6,
		AdvancedWeight: 0.4,
		Threshold:      0.5,
	})
}

func floatPtr(v float64) *float64 { return &v }

func TestDetectInvalidPrefix(t *testing.T) {
	detector := newTestDetector(t, seededStore(), nil, nil)

	for _, prefix := range []string{"", "ab", "ABCDEF123456", "zzzzzzzzzzzz", "abc-123"} {
		_, err := detector.Detect(context.Background(), DetectRequest{Prefix: prefix})
		assert.ErrorIs(t, err, ErrInvalidPrefix, "prefix %q", prefix)
	}
}

func TestDetectReputationShortCircuit(t *testing.T) {
	detector := newTestDetector(t, seededStore("abc123def456"), floatPtr(0.0), nil)

	// Even a maximally benign feature vector cannot override a feed hit.
	verdict, err := detector.Detect(context.Background(), DetectRequest{
		Prefix:   "abc123def456",
		Features: features.Extract("https://example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LabelPhishing, verdict.Label)
	assert.Equal(t, models.MethodReputation, verdict.Method)
	assert.Equal(t, 1.0, verdict.Confidence)
	assert.Equal(t, 1.0, verdict.Combined)
	assert.Contains(t, verdict.Reasons, "fingerprint matches known phishing feed")
}

func TestDetectNoModelAvailable(t *testing.T) {
	detector := newTestDetector(t, seededStore(), nil, nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{Prefix: "abc123def456"})
	require.NoError(t, err)
	assert.Equal(t, models.LabelLegitimate, verdict.Label)
	assert.Equal(t, models.MethodReputation, verdict.Method)
	assert.Equal(t, 0.5, verdict.Confidence)
	assert.Contains(t, verdict.Reasons, "no trained model available; reputation-only decision")
}

func TestDetectMLOnly(t *testing.T) {
	detector := newTestDetector(t, seededStore(), floatPtr(0.9), nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{Prefix: "abc123def456"})
	require.NoError(t, err)
	assert.Equal(t, models.MethodML, verdict.Method)
	assert.InDelta(t, 0.54, verdict.Combined, 1e-9) // 0.6 * 0.9
	assert.Equal(t, models.LabelPhishing, verdict.Label)
	assert.InDelta(t, 0.54, verdict.Confidence, 1e-9)
	assert.Equal(t, 0.9, verdict.MLScore)
	assert.Nil(t, verdict.AdvancedScore)
	assert.NotEmpty(t, verdict.ModelID)
}

func TestDetectHybrid(t *testing.T) {
	detector := newTestDetector(t, seededStore(), floatPtr(0.3), nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{
		Prefix:   "abc123def456",
		Advanced: &models.AdvancedScore{Score: 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodHybrid, verdict.Method)
	assert.InDelta(t, 0.26, verdict.Combined, 1e-9) // 0.6*0.3 + 0.4*0.2
	assert.Equal(t, models.LabelLegitimate, verdict.Label)
	assert.InDelta(t, 0.74, verdict.Confidence, 1e-9)
	require.NotNil(t, verdict.AdvancedScore)
	assert.Equal(t, 0.2, *verdict.AdvancedScore)
}

func TestDetectClampsAdvancedScore(t *testing.T) {
	detector := newTestDetector(t, seededStore(), floatPtr(0.5), nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{
		Prefix:   "abc123def456",
		Advanced: &models.AdvancedScore{Score: 7.5},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.5+0.4*1.0, verdict.Combined, 1e-9)
}

func TestDetectThresholdBoundary(t *testing.T) {
	// combined exactly at the threshold stays legitimate; the cut is strict.
	detector := newTestDetector(t, seededStore(), floatPtr(0.5), nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{
		Prefix:   "abc123def456",
		Advanced: &models.AdvancedScore{Score: 0.5},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, verdict.Combined, 1e-9)
	assert.Equal(t, models.LabelLegitimate, verdict.Label)
}

func TestDetectReasonsFromFeatures(t *testing.T) {
	detector := newTestDetector(t, seededStore(), floatPtr(0.9), nil)

	verdict, err := detector.Detect(context.Background(), DetectRequest{
		Prefix:   "abc123def456",
		Features: features.Extract("http://secure-login-update.tk/verify@me"),
	})
	require.NoError(t, err)
	assert.Contains(t, verdict.Reasons, "no HTTPS")
	assert.Contains(t, verdict.Reasons, "domain registered <30 days")
	assert.Contains(t, verdict.Reasons, "@ character in URL")
	assert.Contains(t, verdict.Reasons, "suspicious keyword in URL")
}

type stubAnalyzer struct {
	score  models.AdvancedScore
	err    error
	calls  int
	gotURL string
}

func (a *stubAnalyzer) Score(ctx context.Context, rawURL string) (models.AdvancedScore, error) {
	a.calls++
	a.gotURL = rawURL
	return a.score, a.err
}

func TestAnalyzeFusesProbe(t *testing.T) {
	analyzer := &stubAnalyzer{score: models.AdvancedScore{Score: 0.8, Status: "completed"}}
	detector := newTestDetector(t, seededStore(), floatPtr(0.9), analyzer)

	verdict, err := detector.Analyze(context.Background(), "https://example.com/welcome")
	require.NoError(t, err)
	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, models.MethodHybrid, verdict.Method)
	assert.InDelta(t, 0.6*0.9+0.4*0.8, verdict.Combined, 1e-9)
	assert.Equal(t, models.LabelPhishing, verdict.Label)
}

func TestAnalyzeProbesCanonicalForm(t *testing.T) {
	// The analyzer only ever sees the canonical rendering, so two spellings
	// of one page probe identically and the raw input goes no further.
	analyzer := &stubAnalyzer{score: models.AdvancedScore{Score: 0.5}}
	detector := newTestDetector(t, seededStore(), floatPtr(0.5), analyzer)

	_, err := detector.Analyze(context.Background(), "http://www.Example.com:80/Welcome/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/Welcome", analyzer.gotURL)
}

func TestAnalyzeDegradesOnProbeFailure(t *testing.T) {
	for _, probeErr := range []error{ErrProbeTimeout, ErrProbeUnavailable} {
		analyzer := &stubAnalyzer{err: probeErr}
		detector := newTestDetector(t, seededStore(), floatPtr(0.9), analyzer)

		verdict, err := detector.Analyze(context.Background(), "https://example.com/welcome")
		require.NoError(t, err)
		assert.Equal(t, models.MethodML, verdict.Method, "probe failure must degrade to ML-only")
		assert.InDelta(t, 0.54, verdict.Combined, 1e-9)
	}
}

func TestAnalyzeSkipsProbeForKnownPrefix(t *testing.T) {
	engine := fingerprint.NewEngine([]byte("test-key"))
	_, prefix, err := engine.FromURL("https://phish.example.com/login", 12)
	require.NoError(t, err)

	analyzer := &stubAnalyzer{score: models.AdvancedScore{Score: 0.1}}
	detector := newTestDetector(t, seededStore(prefix), floatPtr(0.0), analyzer)

	verdict, err := detector.Analyze(context.Background(), "https://phish.example.com/login")
	require.NoError(t, err)
	assert.Zero(t, analyzer.calls, "a feed hit needs no network probe")
	assert.Equal(t, models.LabelPhishing, verdict.Label)
	assert.Equal(t, models.MethodReputation, verdict.Method)
}

func TestAnalyzeMalformedURL(t *testing.T) {
	detector := newTestDetector(t, seededStore(), nil, nil)
	_, err := detector.Analyze(context.Background(), "   ")
	assert.Error(t, err)
}

func TestFingerprintURLDerivesAll(t *testing.T) {
	detector := newTestDetector(t, seededStore(), nil, nil)

	fp, prefix, fv, err := detector.FingerprintURL("https://example.com/login")
	require.NoError(t, err)
	assert.Len(t, fp, 128)
	assert.Equal(t, fp[:12], prefix)
	assert.Len(t, fv, len(features.Names))
}

func TestValidPrefix(t *testing.T) {
	assert.True(t, validPrefix("abc123def456"))
	assert.True(t, validPrefix("0123"))
	assert.False(t, validPrefix("012"))
	assert.False(t, validPrefix("ABC123DEF456"))
	assert.False(t, validPrefix("ghijklmnopqr"))
}
