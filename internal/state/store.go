// Package state persists the skip set: the search prefixes whose subtree has
// been fully enumerated, so a restarted crawl does not repeat them.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/armon/go-radix"
	"github.com/gofrs/flock"

	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

// Status tags a skip set entry.
type Status string

const (
	// StatusEmpty marks a prefix whose search returned no candidates.
	StatusEmpty Status = "empty"
	// StatusHarvested marks a prefix whose complete result batch was harvested.
	StatusHarvested Status = "harvested"
	// StatusDeferred marks a prefix whose search kept failing transiently.
	// Deferred prefixes are not processed and are retried by the next run.
	StatusDeferred Status = "deferred"
	// StatusProcessed is assigned to untagged entries of legacy documents.
	StatusProcessed Status = "processed"
)

// Processed reports whether the status means the subtree is complete.
func (s Status) Processed() bool {
	switch s {
	case StatusEmpty, StatusHarvested, StatusProcessed:
		return true
	default:
		return false
	}
}

// Entry is one skip set marker.
type Entry struct {
	Prefix string `json:"prefix"`
	Status Status `json:"status"`
}

// ErrEmptyPrefix is returned when marking an empty prefix.
var ErrEmptyPrefix = errors.New("prefix is empty")

// fingerprint identifies a version of the document on disk. Writers always
// rename a fresh file into place, so the file identity changes with every
// write even when size and modification time do not.
type fingerprint struct {
	exists  bool
	size    int64
	modTime time.Time
	info    os.FileInfo
}

func (f fingerprint) matches(o fingerprint) bool {
	if f.exists != o.exists {
		return false
	}
	if !f.exists {
		return true
	}
	return f.size == o.size && f.modTime.Equal(o.modTime) && os.SameFile(f.info, o.info)
}

// Store is the durable skip set backed by a JSON document.
//
// Reads reflect the current file content: the in-memory index is reloaded
// whenever the file is replaced or its size or modification time changes. Every write is a
// read-merge-write of the whole document under an in-process mutex and an OS
// file lock, followed by an atomic rename.
type Store struct {
	path   string
	flock  *flock.Flock
	logger *logger.Logger

	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	covered *radix.Tree // processed prefixes only
	seen    fingerprint
}

// Open creates the parent directory if needed and loads the document at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{
		path:    path,
		flock:   flock.New(path + ".lock"),
		logger:  log,
		index:   make(map[string]int),
		covered: radix.New(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	s.logger.Debugw("State store opened", "path", path, "entries", len(s.entries))
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// IsProcessed reports whether prefix itself is marked processed.
func (s *Store) IsProcessed(prefix string) (bool, error) {
	if err := s.refresh(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[prefix]
	return ok && s.entries[i].Status.Processed(), nil
}

// IsCovered reports whether prefix or one of its ancestors is processed.
func (s *Store) IsCovered(prefix string) (bool, error) {
	if err := s.refresh(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	s.covered.WalkPath(prefix, func(string, interface{}) bool {
		found = true
		return true
	})
	return found, nil
}

// SubtreeCovered reports whether every name starting with prefix falls under
// a processed entry: prefix is covered, or each of its children is.
// children lists the one-character extensions of a prefix.
func (s *Store) SubtreeCovered(prefix string, children func(string) []string) (bool, error) {
	if err := s.refresh(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtreeCoveredLocked(prefix, children), nil
}

func (s *Store) subtreeCoveredLocked(p string, children func(string) []string) bool {
	covered := false
	s.covered.WalkPath(p, func(string, interface{}) bool {
		covered = true
		return true
	})
	if covered {
		return true
	}

	// Nothing processed below p means nothing to recurse into
	below := false
	s.covered.WalkPrefix(p, func(string, interface{}) bool {
		below = true
		return true
	})
	if !below {
		return false
	}
	for _, c := range children(p) {
		if !s.subtreeCoveredLocked(c, children) {
			return false
		}
	}
	return true
}

// Status returns the tag recorded for prefix.
func (s *Store) Status(prefix string) (Status, bool, error) {
	if err := s.refresh(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[prefix]
	if !ok {
		return "", false, nil
	}
	return s.entries[i].Status, true, nil
}

// MarkEmpty records that prefix returned no candidates.
func (s *Store) MarkEmpty(prefix string) error {
	return s.MarkProcessed(prefix, StatusEmpty)
}

// MarkHarvested records that prefix's complete batch was harvested.
func (s *Store) MarkHarvested(prefix string) error {
	return s.MarkProcessed(prefix, StatusHarvested)
}

// MarkDeferred records that prefix must be retried by a later run.
func (s *Store) MarkDeferred(prefix string) error {
	return s.MarkProcessed(prefix, StatusDeferred)
}

// MarkProcessed persists prefix with status, merging with the document on
// disk. An existing processed entry is never downgraded to deferred, and
// entries are never removed.
func (s *Store) MarkProcessed(prefix string, status Status) error {
	if prefix == "" {
		return ErrEmptyPrefix
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warnw("Failed to unlock state file", "path", s.path, "error", err)
		}
	}()

	// Merge with whatever another writer left on disk
	if err := s.loadLocked(); err != nil {
		return err
	}

	if i, ok := s.index[prefix]; ok {
		current := s.entries[i].Status
		if current == status || (current.Processed() && !status.Processed()) {
			return nil
		}
		s.entries[i].Status = status
	} else {
		s.index[prefix] = len(s.entries)
		s.entries = append(s.entries, Entry{Prefix: prefix, Status: status})
	}
	if status.Processed() {
		s.covered.Insert(prefix, struct{}{})
	}

	if err := s.writeLocked(); err != nil {
		return err
	}

	s.logger.Debugw("Prefix marked", "prefix", prefix, "status", status)
	return nil
}

// Entries returns a copy of all entries in insertion order.
func (s *Store) Entries() ([]Entry, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Summary counts entries per status.
func (s *Store) Summary() (map[Status]int, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	return counts, nil
}

// Deferred returns the deferred prefixes in sorted order.
func (s *Store) Deferred() ([]string, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Status == StatusDeferred {
			out = append(out, e.Prefix)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Reset deletes the document so the next crawl starts from scratch.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = s.flock.Unlock() }()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	s.entries = nil
	s.index = make(map[string]int)
	s.covered = radix.New()
	s.seen = fingerprint{}

	s.logger.Infow("State store reset", "path", s.path)
	return nil
}

// refresh reloads the index if the file changed since it was last read.
func (s *Store) refresh() error {
	current, err := s.stat()
	if err != nil {
		return err
	}

	s.mu.RLock()
	fresh := current.matches(s.seen)
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) stat() (fingerprint, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fingerprint{}, nil
	}
	if err != nil {
		return fingerprint{}, fmt.Errorf("failed to stat state file: %w", err)
	}
	return fingerprint{exists: true, size: info.Size(), modTime: info.ModTime(), info: info}, nil
}

// loadLocked replaces the in-memory index with the document on disk.
func (s *Store) loadLocked() error {
	fp, err := s.stat()
	if err != nil {
		return err
	}

	var entries []Entry
	if fp.exists {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("failed to read state file: %w", err)
		}
		entries, err = decodeDocument(data)
		if err != nil {
			return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
		}
	}

	s.entries = s.entries[:0]
	s.index = make(map[string]int, len(entries))
	s.covered = radix.New()
	for _, e := range entries {
		if i, ok := s.index[e.Prefix]; ok {
			if !s.entries[i].Status.Processed() {
				s.entries[i].Status = e.Status
			}
		} else {
			s.index[e.Prefix] = len(s.entries)
			s.entries = append(s.entries, e)
		}
	}
	for _, e := range s.entries {
		if e.Status.Processed() {
			s.covered.Insert(e.Prefix, struct{}{})
		}
	}
	s.seen = fp
	return nil
}

// writeLocked atomically replaces the document with the in-memory entries.
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	fp, err := s.stat()
	if err != nil {
		return err
	}
	s.seen = fp
	return nil
}

// decodeDocument accepts a single marker string, a single entry object, or a
// list mixing marker strings and entry objects.
func decodeDocument(data []byte) ([]Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(items))
		for i, item := range items {
			e, err := decodeEntry(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			entries = append(entries, e)
		}
		return entries, nil
	default:
		e, err := decodeEntry(data)
		if err != nil {
			return nil, err
		}
		return []Entry{e}, nil
	}
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return Entry{}, err
		}
		if p == "" {
			return Entry{}, ErrEmptyPrefix
		}
		return Entry{Prefix: p, Status: StatusProcessed}, nil
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	if e.Prefix == "" {
		return Entry{}, ErrEmptyPrefix
	}
	switch e.Status {
	case StatusEmpty, StatusHarvested, StatusDeferred, StatusProcessed:
	case "":
		e.Status = StatusProcessed
	default:
		return Entry{}, fmt.Errorf("unknown status %q for prefix %q", e.Status, e.Prefix)
	}
	return e, nil
}
