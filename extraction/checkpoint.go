package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"judgments-backend/models"
	"judgments-backend/storage"
)

// CheckpointStore persists the job cursor between invocations
type CheckpointStore interface {
	// Load returns nil and no error when there is no checkpoint
	Load(ctx context.Context) (*models.ExtractionCheckpoint, error)
	Save(ctx context.Context, cp models.ExtractionCheckpoint) error
	Delete(ctx context.Context) error
}

// StorageCheckpointStore keeps the checkpoint as a JSON object in a storage backend.
// Local storage gives a plain file; S3 or MinIO share it between hosts.
type StorageCheckpointStore struct {
	store storage.Storage
	key   string
}

// NewStorageCheckpointStore creates a checkpoint store writing to key
func NewStorageCheckpointStore(store storage.Storage, key string) *StorageCheckpointStore {
	return &StorageCheckpointStore{store: store, key: key}
}

// Load reads the checkpoint
func (s *StorageCheckpointStore) Load(ctx context.Context) (*models.ExtractionCheckpoint, error) {
	rc, err := s.store.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp models.ExtractionCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.key, err)
	}
	if cp.ResumeOffset < 0 || cp.TotalExtracted < 0 {
		return nil, fmt.Errorf("checkpoint %s has negative counters", s.key)
	}
	return &cp, nil
}

// Save overwrites the checkpoint
func (s *StorageCheckpointStore) Save(ctx context.Context, cp models.ExtractionCheckpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.store.Put(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint
func (s *StorageCheckpointStore) Delete(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
