package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"phishguard/internal/models"
)

// MetadataStore persists the registry record as a whole unit. Load returns
// ErrCorruptMetadata when the record exists but cannot be decoded; a missing
// record is the empty registry, not an error.
type MetadataStore interface {
	Load(ctx context.Context) (models.RegistryMetadata, error)
	Save(ctx context.Context, meta models.RegistryMetadata) error
}

// ErrCorruptMetadata marks an unreadable registry record. The registry
// treats it as documented data loss and starts empty.
var ErrCorruptMetadata = errors.New("registry metadata is corrupt")

// FileMetadataStore keeps the record in a single JSON file, written through
// a temp file and rename so a crash never leaves a partial record.
type FileMetadataStore struct {
	Path string
}

func (s *FileMetadataStore) Load(ctx context.Context) (models.RegistryMetadata, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.RegistryMetadata{}, nil
		}
		return models.RegistryMetadata{}, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	var meta models.RegistryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.RegistryMetadata{}, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	return meta, nil
}

func (s *FileMetadataStore) Save(ctx context.Context, meta models.RegistryMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}

// MongoMetadataStore keeps the record as one document, replaced whole on
// every save.
type MongoMetadataStore struct {
	Collection *mongo.Collection
}

const registryDocID = "model-registry"

type registryDoc struct {
	ID   string                  `bson:"_id"`
	Meta models.RegistryMetadata `bson:"meta"`
}

func (s *MongoMetadataStore) Load(ctx context.Context) (models.RegistryMetadata, error) {
	var doc registryDoc
	err := s.Collection.FindOne(ctx, bson.M{"_id": registryDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RegistryMetadata{}, nil
		}
		return models.RegistryMetadata{}, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	return doc.Meta, nil
}

func (s *MongoMetadataStore) Save(ctx context.Context, meta models.RegistryMetadata) error {
	doc := registryDoc{ID: registryDocID, Meta: meta}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.Collection.ReplaceOne(ctx, bson.M{"_id": registryDocID}, doc, opts); err != nil {
		return fmt.Errorf("save registry metadata: %w", err)
	}
	return nil
}
