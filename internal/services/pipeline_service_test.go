package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishguard/internal/classifier"
	"phishguard/internal/fingerprint"
	"phishguard/internal/reputation"
)

func writeFeed(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func newTestPipeline(t *testing.T, feedFile, prefixFeedFile string) (*PipelineService, *reputation.Store) {
	t.Helper()
	engine := fingerprint.NewEngine([]byte("test-key"))
	store := reputation.NewStore()
	svc := NewPipelineService(nil, engine, classifier.NewStumpTrainer(), testRegistry(t, nil), store, PipelineOptions{
		PrefixLength:   12,
		FeedFile:       feedFile,
		PrefixFeedFile: prefixFeedFile,
	})
	return svc, store
}

func TestReloadReputationFromURLFeed(t *testing.T) {
	feed := writeFeed(t, "https://phish.example.com/login\nhttps://scam.example.net/verify\n")
	svc, store := newTestPipeline(t, feed, "")

	result := svc.ReloadReputation(context.Background())
	assert.Equal(t, 2, result.Total)

	engine := fingerprint.NewEngine([]byte("test-key"))
	_, prefix, err := engine.FromURL("https://phish.example.com/login", 12)
	require.NoError(t, err)
	assert.True(t, store.IsKnown(prefix))
}

func TestReloadReputationMergesSources(t *testing.T) {
	urlFeed := writeFeed(t, "https://phish.example.com/login\n")
	prefixFeed := writeFeed(t, "0123456789abcdef\n")
	svc, store := newTestPipeline(t, urlFeed, prefixFeed)

	result := svc.ReloadReputation(context.Background())
	assert.Equal(t, 2, result.Total)
	assert.Len(t, result.Sources, 2)
	assert.True(t, store.IsKnown("0123456789ab"))
}

func TestReloadReputationMissingFeedKeepsGoing(t *testing.T) {
	prefixFeed := writeFeed(t, "0123456789abcdef\n")
	svc, store := newTestPipeline(t, filepath.Join(t.TempDir(), "absent.txt"), prefixFeed)

	result := svc.ReloadReputation(context.Background())
	assert.Equal(t, 1, result.Total, "one dead source must not block the others")
	assert.True(t, store.IsKnown("0123456789ab"))
}

func TestSyncFeedRequiresDatabase(t *testing.T) {
	svc, _ := newTestPipeline(t, writeFeed(t, "https://phish.example.com\n"), "")
	_, err := svc.SyncFeed(context.Background())
	assert.Error(t, err)
}

func TestRunWithoutDatabaseKeepsModelUntouched(t *testing.T) {
	feed := writeFeed(t, "https://phish.example.com/login\n")
	svc, store := newTestPipeline(t, feed, "")

	status := svc.Run(context.Background())

	assert.NotEmpty(t, status.RunID)
	assert.NotEmpty(t, status.ErrorSync)
	assert.NotEmpty(t, status.ErrorDataset)
	assert.Empty(t, status.ModelID, "no dataset means no new model")
	assert.False(t, status.Succeeded())
	// The reputation reload still ran off the file feed.
	assert.Equal(t, 1, status.PrefixCount)
	assert.Equal(t, 1, store.Size())
}
