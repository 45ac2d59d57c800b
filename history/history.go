// Package history keeps recent scan results in memory.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/assessment"
)

// DefaultCapacity bounds a Store created with a non-positive capacity.
const DefaultCapacity = 100

// ErrNotFound is returned for unknown entry ids.
var ErrNotFound = errors.New("history entry not found")

// Entry is one stored scan.
type Entry struct {
	ID            string                  `json:"id"`
	CreatedAt     time.Time               `json:"createdAt"`
	FileName      string                  `json:"fileName"`
	Class         string                  `json:"class"`
	Confidence    float32                 `json:"confidence"`
	RiskLevel     assessment.RiskLevel    `json:"riskLevel"`
	Counts        []assessment.ClassCount `json:"classCounts"`
	Detections    int                     `json:"detections"`
	InferenceTime float64                 `json:"inferenceTime"`
}

// Store is a bounded, concurrency-safe history. When full, the oldest entry
// is evicted.
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry // oldest first
	now      func() time.Time
}

// NewStore returns an empty store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, now: time.Now}
}

// Add stores e under a new id and returns the stored copy. ID and CreatedAt
// are assigned by the store.
func (s *Store) Add(e Entry) Entry {
	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()
	e.Counts = append([]assessment.ClassCount(nil), e.Counts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return e
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], nil
	}
	return Entry{}, errors.Wrapf(ErrNotFound, "id %s", id)
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Delete removes the entry with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) indexOf(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}
