// Package reputation maintains the set of fingerprint prefixes known to
// belong to phishing URLs. The active set is immutable; a reload builds a
// complete replacement and swaps it in atomically, so readers never observe
// a partially-built set.
package reputation

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// FeedSource yields entries for the reputation set. Entries returns
// ready-to-insert prefixes along with the number of malformed entries it
// skipped. A source that cannot be read at all returns an error and is
// skipped as a whole.
type FeedSource interface {
	Name() string
	Entries(ctx context.Context) (prefixes []string, skipped int, err error)
}

// SourceResult reports the outcome of loading one feed source.
type SourceResult struct {
	Source  string `json:"source"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// LoadResult aggregates the outcome of a full reload.
type LoadResult struct {
	Total   int            `json:"total"`
	Sources []SourceResult `json:"sources"`
}

// Store is the concurrent-safe prefix set. IsKnown is a lock-free read of
// the current set; Load is serialized and replaces the whole set at once.
type Store struct {
	current atomic.Pointer[map[string]struct{}]
	loadMu  sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	empty := make(map[string]struct{})
	s.current.Store(&empty)
	return s
}

// IsKnown reports whether the prefix is in the currently active set. Safe to
// call concurrently with Load; a reader sees either the old or the new set.
func (s *Store) IsKnown(prefix string) bool {
	set := *s.current.Load()
	_, ok := set[prefix]
	return ok
}

// Size returns the number of prefixes in the active set.
func (s *Store) Size() int {
	return len(*s.current.Load())
}

// Load reads every source, merges their prefixes into a fresh set and swaps
// it in. A source that fails to open is recorded and skipped; malformed
// entries inside a source are counted, never fatal. If every source fails
// the existing set is kept unchanged.
func (s *Store) Load(ctx context.Context, sources ...FeedSource) LoadResult {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	next := make(map[string]struct{})
	result := LoadResult{}
	anyLoaded := false

	for _, src := range sources {
		sr := SourceResult{Source: src.Name()}
		prefixes, skipped, err := src.Entries(ctx)
		sr.Skipped = skipped
		if err != nil {
			sr.Error = err.Error()
			log.Printf("reputation: skipping source %s: %v", src.Name(), err)
			result.Sources = append(result.Sources, sr)
			continue
		}
		for _, p := range prefixes {
			if p == "" {
				sr.Skipped++
				continue
			}
			next[p] = struct{}{}
			sr.Loaded++
		}
		anyLoaded = true
		result.Sources = append(result.Sources, sr)
	}

	if !anyLoaded && len(sources) > 0 {
		// Every source failed: keep serving the old set.
		result.Total = s.Size()
		return result
	}

	s.current.Store(&next)
	result.Total = len(next)
	return result
}
