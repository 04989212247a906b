package attemptlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Attempt
	index   map[string]int
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[string]int{}, now: time.Now}
}

func (s *MemoryStore) Append(_ context.Context, a Attempt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = uuid.NewString()
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	s.index[a.ID] = len(s.records)
	s.records = append(s.records, a)
	return a.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	p.apply(&s.records[idx])
	return nil
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(f.Matches, f.Limit), nil
}

func (s *MemoryStore) Failed(_ context.Context, maxRetryCount, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]int)
	for _, a := range s.records {
		if a.SendID == "" {
			continue
		}
		if n, ok := latest[a.SendID]; !ok || a.RetryCount > n {
			latest[a.SendID] = a.RetryCount
		}
	}
	return s.selectLocked(func(a Attempt) bool {
		return a.retryable(maxRetryCount, latest[a.SendID])
	}, limit), nil
}

func (s *MemoryStore) ByEntryID(ctx context.Context, entryID string) ([]Attempt, error) {
	if entryID == "" {
		return nil, nil
	}
	return s.Query(ctx, Filter{EntryID: entryID})
}

func (s *MemoryStore) ByCustomerID(ctx context.Context, customerID string) ([]Attempt, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.Query(ctx, Filter{CustomerID: customerID})
}

func (s *MemoryStore) CountOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.records {
		if a.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// selectLocked returns matches newest first; equal timestamps keep the most
// recently appended record first.
func (s *MemoryStore) selectLocked(match func(Attempt) bool, limit int) []Attempt {
	out := make([]Attempt, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if match(s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
