// Package store provides an in-process vector store with cosine-similarity
// search and a JSON snapshot on disk.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/embedworks/embedprep/util"
)

// Record is a stored vector with its identifier and optional payload.
type Record struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchResult is a single hit from Search, scored by cosine similarity.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// InvalidDimensionError is returned when a vector does not match the store
// dimension.
type InvalidDimensionError struct {
	Expected int
	Actual   int
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid vector dimension: expected %d, got %d", e.Expected, e.Actual)
}

// Store holds vectors of a fixed dimension. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]Record
	path      string
}

// New creates an empty store for vectors of the given dimension.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		records:   map[string]Record{},
	}
}

type snapshot struct {
	Dimension int      `json:"dimension"`
	Records   []Record `json:"records"`
}

// Open creates a store backed by a snapshot file. If the file exists its
// records are loaded, otherwise the store starts empty and the file is created
// on the first Save. A snapshot with a different dimension is an error.
func Open(path string, dimension int) (*Store, error) {
	s := New(dimension)
	s.path = path

	exists, err := util.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return s, nil
	}

	data, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := jsoniter.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("reading store snapshot %s: %w", path, err)
	}
	if snap.Dimension != dimension {
		return nil, &InvalidDimensionError{Expected: dimension, Actual: snap.Dimension}
	}
	for _, record := range snap.Records {
		s.records[record.ID] = record
	}
	return s, nil
}

// Dimension returns the vector dimension of the store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Upsert inserts or replaces records and returns their ids. Records without an
// id are assigned a random uuid. If any vector has the wrong dimension nothing
// is written.
func (s *Store) Upsert(records ...Record) ([]string, error) {
	for i := range records {
		if len(records[i].Vector) != s.dimension {
			return nil, &InvalidDimensionError{Expected: s.dimension, Actual: len(records[i].Vector)}
		}
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, record := range records {
		s.records[record.ID] = record
		ids = append(ids, record.ID)
	}
	return ids, nil
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok
}

// Delete removes the records with the given ids and returns how many existed.
func (s *Store) Delete(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted
}

// Search returns up to limit records most similar to the query vector, sorted
// by descending cosine similarity.
func (s *Store) Search(query []float32, limit int) ([]SearchResult, error) {
	if len(query) != s.dimension {
		return nil, &InvalidDimensionError{Expected: s.dimension, Actual: len(query)}
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	results := make([]SearchResult, 0, len(s.records))
	for _, record := range s.records {
		score, scoreErr := util.CosineSimilarity(query, record.Vector)
		if scoreErr != nil {
			s.mu.RUnlock()
			return nil, scoreErr
		}
		results = append(results, SearchResult{
			ID:      record.ID,
			Score:   score,
			Payload: record.Payload,
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Save writes the snapshot file. It is an error to call Save on a store that
// was not created with Open.
func (s *Store) Save() error {
	if s.path == "" {
		return errors.New("store has no snapshot path")
	}

	s.mu.RLock()
	snap := snapshot{Dimension: s.dimension, Records: make([]Record, 0, len(s.records))}
	for _, record := range s.records {
		snap.Records = append(snap.Records, record)
	}
	s.mu.RUnlock()
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ID < snap.Records[j].ID })

	data, err := jsoniter.Marshal(&snap)
	if err != nil {
		return err
	}
	return util.WriteFileBytes(s.path, data)
}
