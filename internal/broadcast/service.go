// Package broadcast republishes the result store to live viewers: a full
// copy when a viewer connects, then periodic deltas of the new rows.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// Viewer events.
const (
	EventInitialize = "initialize_data"
	EventUpdate     = "update_data"
)

// Source is the store being republished.
type Source interface {
	ReadAll() ([]types.Record, error)
	Header() []string
}

// Message is the envelope of every viewer message.
type Message struct {
	Event string      `json:"event"`
	Data  []types.Row `json:"data"`
}

// Diff returns the rows of current that are absent from previous, compared
// by full tuple, in current order. Only the last limit rows are kept.
func Diff(previous, current []types.Record, limit int) []types.Record {
	seen := make(map[string]struct{}, len(previous))
	for _, r := range previous {
		seen[r.Key()] = struct{}{}
	}

	var delta []types.Record
	for _, r := range current {
		if _, ok := seen[r.Key()]; !ok {
			delta = append(delta, r)
		}
	}
	if limit > 0 && len(delta) > limit {
		delta = delta[len(delta)-limit:]
	}
	return delta
}

// Service polls the source and pushes deltas to the hub.
type Service struct {
	source   Source
	hub      *Hub
	interval time.Duration
	maxDelta int
	logger   *logger.Logger

	mu       sync.Mutex
	snapshot []types.Record
}

// NewService creates a service with an empty snapshot.
func NewService(source Source, hub *Hub, interval time.Duration, maxDelta int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		source:   source,
		hub:      hub,
		interval: interval,
		maxDelta: maxDelta,
		logger:   log,
	}
}

// Tick compares the source with the snapshot and broadcasts the new rows.
// It returns the delta that was sent, nil when nothing changed.
func (s *Service) Tick() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

// Prime sets the snapshot to the current content without broadcasting.
func (s *Service) Prime() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.source.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	s.snapshot = current
	return nil
}

// Snapshot returns a copy of the last-seen content.
func (s *Service) Snapshot() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Record, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Subscribe registers a viewer and returns its initial full copy. Pending
// changes are flushed to existing viewers first, so the new viewer's copy
// and the deltas that follow never overlap.
func (s *Service) Subscribe(queue int) (*Client, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshLocked()
	init, err := s.encode(EventInitialize, s.snapshot)
	if err != nil {
		return nil, nil, err
	}
	return s.hub.Add(queue), init, nil
}

// Run ticks every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Prime(); err != nil {
		s.logger.Warnw("Failed to prime snapshot", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Service) refreshLocked() []types.Record {
	current, err := s.source.ReadAll()
	if err != nil {
		s.logger.Errorw("Failed to read results", "error", err)
		return nil
	}
	if sameRecords(current, s.snapshot) {
		return nil
	}

	delta := Diff(s.snapshot, current, s.maxDelta)
	s.snapshot = current
	if len(delta) == 0 {
		return nil
	}

	msg, err := s.encode(EventUpdate, delta)
	if err != nil {
		s.logger.Errorw("Failed to encode update", "error", err)
		return delta
	}
	sent := s.hub.Broadcast(msg)
	s.logger.Debugw("Update broadcast", "rows", len(delta), "viewers", sent)
	return delta
}

func (s *Service) encode(event string, records []types.Record) ([]byte, error) {
	data, err := json.Marshal(Message{Event: event, Data: types.Rows(s.source.Header(), records)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return data, nil
}

func sameRecords(a, b []types.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
