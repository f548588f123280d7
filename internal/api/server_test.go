package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishguard/internal/classifier"
	"phishguard/internal/config"
	"phishguard/internal/fingerprint"
	"phishguard/internal/registry"
	"phishguard/internal/reputation"
	"phishguard/internal/scheduler"
	"phishguard/internal/services"
)

func newTestServer(t *testing.T, knownPrefixes ...string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment:    "test",
		PrefixLength:   12,
		MLWeight:       0.6,
		AdvancedWeight: 0.4,
		ModelKeepCount: 5,
		RateLimit:      10000,
		MaxURLLength:   2048,
	}

	engine := fingerprint.NewEngine([]byte("test-key"))
	store := reputation.NewStore()
	if len(knownPrefixes) > 0 {
		store.Load(context.Background(), &reputation.StaticFeed{FeedName: "seed", Prefixes: knownPrefixes})
	}

	dir := t.TempDir()
	metaStore := &registry.FileMetadataStore{Path: filepath.Join(dir, "registry.json")}
	reg, err := registry.Open(context.Background(), metaStore, filepath.Join(dir, "artifacts"), classifier.LoadStumpForest)
	require.NoError(t, err)

	detector := services.NewDetectorService(store, reg, engine, nil, nil, services.DetectorOptions{
		PrefixLength: cfg.PrefixLength,
	})
	pipeline := services.NewPipelineService(nil, engine, classifier.NewStumpTrainer(), reg, store, services.PipelineOptions{
		PrefixLength: cfg.PrefixLength,
	})
	sched := scheduler.New(pipeline, time.Hour)

	return NewServer(cfg, detector, pipeline, sched, reg, nil)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestFingerprintEndpoint(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodPost, "/api/v1/fingerprint", map[string]string{
		"url": "https://example.com/login",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp FingerprintResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Fingerprint, 128)
	assert.Equal(t, resp.Fingerprint[:12], resp.Prefix)
	assert.NotEmpty(t, resp.Features)
}

func TestFingerprintEndpointMalformed(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/fingerprint", map[string]string{"url": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, server, http.MethodPost, "/api/v1/fingerprint", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing url field")
}

func TestDetectEndpointInvalidPrefix(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodPost, "/api/v1/detect", map[string]any{
		"prefix": "NOT-HEX",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectEndpointReputationHit(t *testing.T) {
	server := newTestServer(t, "abc123def456")
	w := doJSON(t, server, http.MethodPost, "/api/v1/detect", map[string]any{
		"prefix": "abc123def456",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verdict))
	assert.Equal(t, "phishing", verdict["label"])
	assert.Equal(t, "reputation", verdict["method"])
	assert.Equal(t, 1.0, verdict["confidence"])
}

func TestCurrentModelNotLoaded(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodGet, "/api/v1/models/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not_loaded")
}

func TestRollbackUnknownModel(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodPost, "/api/v1/models/rollback/20000101_000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status scheduler.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "stopped", status.State, "the test scheduler is never started")
}

func TestHistoryUnavailableWithoutDatabase(t *testing.T) {
	server := newTestServer(t)

	for _, path := range []string{"/api/v1/history", "/api/v1/history/stats", "/api/v1/history/export", "/api/v1/stats"} {
		w := doJSON(t, server, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "path %s", path)
	}
}

func TestLegacyRoutes(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddlewareConcurrent(t *testing.T) {
	// The per-IP request log is shared by every in-flight handler; parallel
	// traffic from one client must be counted, not crash the process.
	server := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
				w := httptest.NewRecorder()
				server.Router().ServeHTTP(w, req)
				assert.Equal(t, http.StatusOK, w.Code)
			}
		}()
	}
	wg.Wait()
}

func TestRateLimitEnforced(t *testing.T) {
	server := newTestServer(t)
	server.config.RateLimit = 3

	var last int
	for i := 0; i < 5; i++ {
		w := doJSON(t, server, http.MethodGet, "/api/v1/health", nil)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestModelHistoryEmpty(t *testing.T) {
	server := newTestServer(t)
	w := doJSON(t, server, http.MethodGet, "/api/v1/models/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0.0, resp["totalModels"])
}
