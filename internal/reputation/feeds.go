package reputation

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"phishguard/internal/fingerprint"
	"phishguard/internal/models"
)

// URLFileFeed reads newline-separated raw URLs and fingerprints each one.
// Malformed lines are skipped and counted.
type URLFileFeed struct {
	Path      string
	Engine    *fingerprint.Engine
	PrefixLen int
}

func (f *URLFileFeed) Name() string { return "url-file:" + f.Path }

func (f *URLFileFeed) Entries(ctx context.Context) ([]string, int, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	var prefixes []string
	skipped := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, prefix, err := f.Engine.FromURL(line, f.PrefixLen)
		if err != nil {
			skipped++
			continue
		}
		prefixes = append(prefixes, prefix)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read feed: %w", err)
	}
	return prefixes, skipped, nil
}

// PrefixFileFeed reads newline-separated pre-computed prefixes, for
// intelligence feeds that share truncated fingerprints rather than URLs.
type PrefixFileFeed struct {
	Path      string
	PrefixLen int
}

func (f *PrefixFileFeed) Name() string { return "prefix-file:" + f.Path }

func (f *PrefixFileFeed) Entries(ctx context.Context) ([]string, int, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	var prefixes []string
	skipped := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Lookups are lowercase hex throughout; normalize so feeds that
		// publish uppercase digests still match.
		line = strings.ToLower(line)
		if !isHex(line) || len(line) < f.PrefixLen {
			skipped++
			continue
		}
		prefixes = append(prefixes, line[:f.PrefixLen])
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read feed: %w", err)
	}
	return prefixes, skipped, nil
}

// CorpusFeed reads phishing-labelled prefixes from the training corpus
// collection, so everything synced into the corpus also serves reputation
// lookups.
type CorpusFeed struct {
	Collection *mongo.Collection
}

func (f *CorpusFeed) Name() string { return "corpus" }

func (f *CorpusFeed) Entries(ctx context.Context) ([]string, int, error) {
	cursor, err := f.Collection.Find(ctx, bson.M{"label": models.LabelPhishing})
	if err != nil {
		return nil, 0, fmt.Errorf("query corpus: %w", err)
	}
	defer cursor.Close(ctx)

	var prefixes []string
	skipped := 0
	for cursor.Next(ctx) {
		var ex models.TrainingExample
		if err := cursor.Decode(&ex); err != nil {
			skipped++
			continue
		}
		if ex.Prefix == "" {
			skipped++
			continue
		}
		prefixes = append(prefixes, ex.Prefix)
	}
	if err := cursor.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read corpus: %w", err)
	}
	return prefixes, skipped, nil
}

// StaticFeed serves a fixed prefix list; used for bootstrap sets and tests.
type StaticFeed struct {
	FeedName string
	Prefixes []string
}

func (f *StaticFeed) Name() string { return f.FeedName }

func (f *StaticFeed) Entries(ctx context.Context) ([]string, int, error) {
	return f.Prefixes, 0, nil
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return len(s) > 0
}
