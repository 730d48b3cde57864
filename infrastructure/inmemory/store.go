// Package inmemory provides process-local record store and work queue
// implementations for local runs (RECORDS_BACKEND=memory, QUEUE_BACKEND=memory) and tests.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crosspost/domain/model"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*model.UploadRequest
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{records: make(map[string]*model.UploadRequest), now: time.Now}
}

// WithClock overrides the time source used for expiry checks and timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Create(ctx context.Context, rec *model.UploadRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.RequestID]; ok {
		return fmt.Errorf("create upload request %s: already exists", rec.RequestID)
	}
	s.records[rec.RequestID] = rec.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, requestID string) (*model.UploadRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[requestID]
	if !ok || rec.Expired(s.now()) {
		return nil, model.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) List(ctx context.Context, filter model.ListFilter) ([]*model.UploadRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]*model.UploadRequest, 0)
	for _, rec := range s.records {
		if rec.Expired(now) {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateDestination(ctx context.Context, requestID string, key model.DestinationKey, upd model.DestinationUpdate) (*model.UploadRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	rec, ok := s.records[requestID]
	if !ok || rec.Expired(now) {
		return nil, model.ErrRecordNotFound
	}
	dest, ok := rec.Destinations[key]
	if !ok {
		return nil, model.ErrDestinationNotFound
	}
	if upd.IfAttemptCount != nil && dest.AttemptCount != *upd.IfAttemptCount {
		return nil, model.ErrUpdateConflict
	}
	upd.Apply(dest, now)
	rec.Revision++
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

func (s *Store) SetStatus(ctx context.Context, requestID string, status model.Status, revision int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	rec, ok := s.records[requestID]
	if !ok || rec.Expired(now) {
		return false, model.ErrRecordNotFound
	}
	if rec.Revision != revision {
		return false, nil
	}
	rec.Status = status
	rec.UpdatedAt = now
	return true, nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len counts stored records, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
