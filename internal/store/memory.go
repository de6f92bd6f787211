package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/satdb/model"
)

// MemoryStore is an in-memory, thread-safe Store used by tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	elements map[model.Key]model.OrbitalElementRecord
	byObject map[int][]model.Key
	metadata map[int][]model.ObjectMetadata
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		elements: make(map[model.Key]model.OrbitalElementRecord),
		byObject: make(map[int][]model.Key),
		metadata: make(map[int][]model.ObjectMetadata),
	}
}

// InsertElements adds rec if its key is new.
func (s *MemoryStore) InsertElements(ctx context.Context, rec model.OrbitalElementRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if rec.CatalogID <= 0 {
		return false, fmt.Errorf("insert elements: catalog id %d must be positive", rec.CatalogID)
	}
	key := rec.Key()
	rec.Epoch = key.Epoch

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.elements[key]; exists {
		return false, nil
	}
	s.elements[key] = rec
	s.byObject[key.CatalogID] = append(s.byObject[key.CatalogID], key)
	return true, nil
}

// NearestElements scans the object's records for the closest epoch.
func (s *MemoryStore) NearestElements(ctx context.Context, catalogID int, at time.Time) (model.OrbitalElementRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.OrbitalElementRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byObject[catalogID]
	if len(keys) == 0 {
		return model.OrbitalElementRecord{}, fmt.Errorf("elements for catalog %d: %w", catalogID, ErrNotFound)
	}
	best := keys[0]
	for _, k := range keys[1:] {
		if closer(k.Epoch, best.Epoch, at) {
			best = k
		}
	}
	return s.elements[best], nil
}

// ElementHistory returns a snapshot of the objects' records.
func (s *MemoryStore) ElementHistory(ctx context.Context, catalogIDs []int) ([]model.OrbitalElementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.OrbitalElementRecord
	seen := make(map[int]bool, len(catalogIDs))
	for _, id := range catalogIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, k := range s.byObject[id] {
			res = append(res, s.elements[k])
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CatalogID != res[j].CatalogID {
			return res[i].CatalogID < res[j].CatalogID
		}
		return res[i].Epoch.Before(res[j].Epoch)
	})
	return res, nil
}

// SaveMetadata appends meta unless an identical entry exists.
func (s *MemoryStore) SaveMetadata(ctx context.Context, meta model.ObjectMetadata) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if meta.CatalogID <= 0 {
		return false, fmt.Errorf("save metadata: catalog id %d must be positive", meta.CatalogID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.metadata[meta.CatalogID] {
		if existing == meta {
			return false, nil
		}
	}
	s.metadata[meta.CatalogID] = append(s.metadata[meta.CatalogID], meta)
	return true, nil
}

// Metadata returns the last saved entry for the object.
func (s *MemoryStore) Metadata(ctx context.Context, catalogID int) (model.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return model.ObjectMetadata{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.metadata[catalogID]
	if len(entries) == 0 {
		return model.ObjectMetadata{}, fmt.Errorf("metadata for catalog %d: %w", catalogID, ErrNotFound)
	}
	return entries[len(entries)-1], nil
}

// Len returns the number of stored element records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}
