// Package registry versions trained classifier artifacts and exposes the
// single active model through a lock-free snapshot. Writers (register,
// rollback, prune) are serialized; the swap of the active snapshot is one
// atomic store, so concurrent readers always see either the previous or the
// next version, never an intermediate state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"phishguard/internal/classifier"
	"phishguard/internal/models"
)

// ErrVersionNotFound is returned by Rollback when the target version does
// not exist or its artifact is missing. The current model is left unchanged.
var ErrVersionNotFound = errors.New("model version not found")

// Snapshot pairs an active version with its loaded classifier.
type Snapshot struct {
	Version models.ModelVersion
	Model   classifier.Classifier
}

// Registry manages model versions. Construct with Open.
type Registry struct {
	mu           sync.Mutex // serializes writers and guards meta
	meta         models.RegistryMetadata
	store        MetadataStore
	artifactsDir string
	loader       classifier.Loader

	current atomic.Pointer[Snapshot]
}

// Open loads the persisted registry and activates the recorded current
// model. A corrupt record is logged loudly and treated as an empty registry;
// a current version whose artifact cannot be loaded leaves the registry
// serving with no model.
func Open(ctx context.Context, store MetadataStore, artifactsDir string, loader classifier.Loader) (*Registry, error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	meta, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptMetadata) {
			return nil, err
		}
		log.Printf("registry: METADATA CORRUPT, starting with empty registry (data loss): %v", err)
		meta = models.RegistryMetadata{}
	}

	r := &Registry{
		meta:         meta,
		store:        store,
		artifactsDir: artifactsDir,
		loader:       loader,
	}

	if meta.Current != "" {
		if snap, err := r.loadSnapshot(meta.Current); err != nil {
			log.Printf("registry: cannot load current model %s, serving without a model: %v", meta.Current, err)
		} else {
			r.current.Store(snap)
		}
	}
	return r, nil
}

// Current returns the active snapshot, or nil before the first registration
// (or after metadata loss). Lock-free.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Register persists the artifact, appends a new active version, demotes the
// previous active one and swaps the live snapshot in a single atomic step.
// This is the only way a newly trained model goes live.
func (r *Registry) Register(ctx context.Context, artifact []byte, metrics models.Metrics) (models.ModelVersion, error) {
	model, err := r.loader(artifact)
	if err != nil {
		return models.ModelVersion{}, fmt.Errorf("artifact rejected: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newVersionID()
	path := filepath.Join(r.artifactsDir, "model_"+id+".json")
	if err := os.WriteFile(path, artifact, 0o644); err != nil {
		return models.ModelVersion{}, fmt.Errorf("persist artifact: %w", err)
	}

	version := models.ModelVersion{
		ID:           id,
		ArtifactPath: path,
		CreatedAt:    time.Now().UTC(),
		Metrics:      metrics,
		Status:       models.StatusActive,
	}

	next := r.metaCopy()
	for i := range next.Models {
		if next.Models[i].Status == models.StatusActive {
			next.Models[i].Status = models.StatusSuperseded
		}
	}
	next.Models = append(next.Models, version)
	next.Current = id

	if err := r.store.Save(ctx, next); err != nil {
		os.Remove(path)
		return models.ModelVersion{}, fmt.Errorf("persist metadata: %w", err)
	}

	r.meta = next
	r.current.Store(&Snapshot{Version: version, Model: model})
	log.Printf("registry: registered model %s (accuracy %.4f)", id, metrics.Accuracy)
	return version, nil
}

// Rollback promotes a previous version to active. The swap has the same
// atomicity guarantee as Register; on any failure the current model is left
// untouched.
func (r *Registry) Rollback(ctx context.Context, id string) (models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, v := range r.meta.Models {
		if v.ID == id && v.Status != models.StatusDeleted {
			idx = i
			break
		}
	}
	if idx == -1 {
		return models.ModelVersion{}, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}

	snap, err := r.loadSnapshot(id)
	if err != nil {
		return models.ModelVersion{}, fmt.Errorf("%w: %s: %v", ErrVersionNotFound, id, err)
	}

	next := r.metaCopy()
	for i := range next.Models {
		switch {
		case next.Models[i].ID == id:
			next.Models[i].Status = models.StatusActive
		case next.Models[i].Status == models.StatusActive:
			next.Models[i].Status = models.StatusSuperseded
		}
	}
	next.Current = id

	if err := r.store.Save(ctx, next); err != nil {
		return models.ModelVersion{}, fmt.Errorf("persist metadata: %w", err)
	}

	r.meta = next
	snap.Version.Status = models.StatusActive
	r.current.Store(snap)
	log.Printf("registry: rolled back to model %s", id)
	return snap.Version, nil
}

// History returns versions newest-first, at most limit entries (all when
// limit <= 0).
func (r *Registry) History(limit int) []models.ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ModelVersion, len(r.meta.Models))
	copy(out, r.meta.Models)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune deletes artifacts and metadata of superseded versions beyond the
// keepCount most recent. The active version is never deleted, whatever the
// count.
func (r *Registry) Prune(ctx context.Context, keepCount int) (deleted int, err error) {
	if keepCount < 0 {
		keepCount = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded []models.ModelVersion
	for _, v := range r.meta.Models {
		if v.Status == models.StatusSuperseded {
			superseded = append(superseded, v)
		}
	}
	sort.Slice(superseded, func(i, j int) bool {
		return superseded[i].CreatedAt.After(superseded[j].CreatedAt)
	})
	if len(superseded) <= keepCount {
		return 0, nil
	}

	doomed := make(map[string]struct{})
	for _, v := range superseded[keepCount:] {
		doomed[v.ID] = struct{}{}
	}

	next := r.metaCopy()
	kept := next.Models[:0]
	for _, v := range next.Models {
		if _, gone := doomed[v.ID]; gone {
			continue
		}
		kept = append(kept, v)
	}
	next.Models = kept

	if err := r.store.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("persist metadata: %w", err)
	}
	r.meta = next

	// Artifact files go only after the metadata no longer references them.
	for _, v := range superseded[keepCount:] {
		if err := os.Remove(v.ArtifactPath); err != nil && !os.IsNotExist(err) {
			log.Printf("registry: failed to delete artifact %s: %v", v.ArtifactPath, err)
		}
	}
	log.Printf("registry: pruned %d old model versions, kept %d superseded", len(doomed), keepCount)
	return len(doomed), nil
}

// MetricsComparison summarizes all versions with the current and the
// best-by-accuracy highlighted.
func (r *Registry) MetricsComparison() map[string]any {
	versions := r.History(0)

	r.mu.Lock()
	currentID := r.meta.Current
	r.mu.Unlock()

	type row struct {
		ID        string         `json:"id"`
		CreatedAt time.Time      `json:"createdAt"`
		Metrics   models.Metrics `json:"metrics"`
		IsCurrent bool           `json:"isCurrent"`
	}

	out := map[string]any{
		"totalModels": len(versions),
	}
	rows := make([]row, 0, len(versions))
	bestAccuracy := -1.0
	var best *row
	for _, v := range versions {
		rw := row{ID: v.ID, CreatedAt: v.CreatedAt, Metrics: v.Metrics, IsCurrent: v.ID == currentID}
		rows = append(rows, rw)
		if rw.IsCurrent {
			out["currentModel"] = rw
		}
		if v.Metrics.Accuracy > bestAccuracy {
			bestAccuracy = v.Metrics.Accuracy
			b := rw
			best = &b
		}
	}
	out["models"] = rows
	if best != nil {
		out["bestModel"] = *best
	}
	return out
}

func (r *Registry) loadSnapshot(id string) (*Snapshot, error) {
	var version models.ModelVersion
	found := false
	for _, v := range r.meta.Models {
		if v.ID == id {
			version = v
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no metadata for %s", id)
	}
	artifact, err := os.ReadFile(version.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	model, err := r.loader(artifact)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return &Snapshot{Version: version, Model: model}, nil
}

// newVersionID derives a timestamp ID, suffixed when two registrations land
// in the same second.
func (r *Registry) newVersionID() string {
	base := time.Now().UTC().Format("20060102_150405")
	id := base
	for n := 1; r.hasVersion(id); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

func (r *Registry) hasVersion(id string) bool {
	for _, v := range r.meta.Models {
		if v.ID == id {
			return true
		}
	}
	return false
}

func (r *Registry) metaCopy() models.RegistryMetadata {
	out := models.RegistryMetadata{Current: r.meta.Current}
	out.Models = make([]models.ModelVersion, len(r.meta.Models))
	copy(out.Models, r.meta.Models)
	return out
}
