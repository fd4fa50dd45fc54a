// Package snapshot holds the committed result of the latest aggregation
// cycle. Readers always see a whole snapshot; a cycle in progress is never
// visible.
package snapshot

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
)

// CycleMeta describes how a snapshot was produced.
type CycleMeta struct {
	SourcesOK          []models.Source       `json:"sources_ok"`
	SourcesUnavailable []models.Source       `json:"sources_unavailable"`
	SourcesReused      []models.Source       `json:"sources_reused,omitempty"` // served from the last good run
	Dropped            map[models.Source]int `json:"dropped"`
	EventCount         int                   `json:"event_count"`
	Duration           time.Duration         `json:"duration"`
}

// Snapshot is an immutable, versioned set of convictions and the events
// they were built from. Convictions are sorted by ticker.
type Snapshot struct {
	Version     uint64                    `json:"version"`
	CycleID     uuid.UUID                 `json:"cycle_id"`
	Profile     string                    `json:"profile"`
	AsOf        time.Time                 `json:"as_of"`
	CommittedAt time.Time                 `json:"committed_at"`
	Convictions []models.TickerConviction `json:"convictions"`
	Events      []models.SignalEvent      `json:"events"`
	Meta        CycleMeta                 `json:"meta"`

	// Stale is set when a later cycle failed and this snapshot was kept.
	Stale     bool   `json:"stale"`
	LastError string `json:"last_error,omitempty"`
}

// Conviction returns the conviction for ticker.
func (s *Snapshot) Conviction(ticker string) (models.TickerConviction, bool) {
	i := sort.Search(len(s.Convictions), func(i int) bool {
		return s.Convictions[i].Ticker >= ticker
	})
	if i < len(s.Convictions) && s.Convictions[i].Ticker == ticker {
		return s.Convictions[i], true
	}
	return models.TickerConviction{}, false
}

// Store publishes snapshots atomically.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex // serialises writers
	lastFailure error
	clock       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{clock: time.Now}
}

// Current returns the latest committed snapshot.
func (s *Store) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, apperrors.ErrNoSnapshot
	}
	return snap, nil
}

// Publish commits snap as the next version. The store takes ownership of
// snap; callers must not modify it afterwards.
func (s *Store) Publish(snap *Snapshot) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version + 1
	}

	snap.Version = version
	if snap.CycleID == uuid.Nil {
		snap.CycleID = uuid.New()
	}
	snap.CommittedAt = s.clock().UTC()
	snap.Stale = false
	snap.LastError = ""
	sort.Slice(snap.Convictions, func(i, j int) bool {
		return snap.Convictions[i].Ticker < snap.Convictions[j].Ticker
	})

	s.current.Store(snap)
	s.lastFailure = nil
	return snap
}

// MarkFailed records a failed cycle. The current snapshot stays readable
// with its stale flag set; its version does not change.
func (s *Store) MarkFailed(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFailure = err
	prev := s.current.Load()
	if prev == nil {
		return
	}
	next := *prev
	next.Stale = true
	next.LastError = err.Error()
	s.current.Store(&next)
}

// LastFailure returns the error of the most recent failed cycle, or nil when
// the latest cycle succeeded.
func (s *Store) LastFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

// Restore seeds the store from persistence. It is a no-op when the store
// already holds the same or a newer version. Later publishes continue from
// the restored version.
func (s *Store) Restore(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current.Load(); prev != nil && prev.Version >= snap.Version {
		return false
	}
	s.current.Store(snap)
	return true
}
