// Package results persists harvested records as a CSV file with a fixed header.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// ErrHeaderMismatch is returned when an existing file carries a different header.
var ErrHeaderMismatch = errors.New("results header mismatch")

// Store is an append-only CSV accumulator shared by all workers.
// Appends never read or deduplicate; FinalizeDedup does that once per run.
type Store struct {
	path   string
	header []string
	logger *logger.Logger

	mu sync.RWMutex
}

// Open prepares the file at path. A missing or empty file gets the header
// written; an existing file must start with the same header.
func Open(path string, header []string, log *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("results file path is empty")
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("results header is empty")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	s := &Store{
		path:   path,
		header: append([]string(nil), header...),
		logger: log,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHeaderLocked(); err != nil {
		return nil, err
	}

	log.Debugw("Results store opened", "path", path)
	return s, nil
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Header returns a copy of the column names.
func (s *Store) Header() []string {
	return append([]string(nil), s.header...)
}

// Append writes records at the end of the file.
func (s *Store) Append(records ...types.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := r.Validate(s.header); err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}

	w := csv.NewWriter(f)
	for _, r := range records {
		if err := w.Write(r); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close results file: %w", err)
	}
	return nil
}

// ReadAll returns every data row in file order.
func (s *Store) ReadAll() ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked()
}

// Count returns the number of data rows.
func (s *Store) Count() (int, error) {
	records, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// FinalizeDedup rewrites the file keeping the first occurrence of every
// record in original order and returns how many duplicates were removed.
func (s *Store) FinalizeDedup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(records))
	unique := make([]types.Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, r)
	}

	removed := len(records) - len(unique)
	if removed == 0 {
		return 0, nil
	}
	if err := s.rewriteLocked(unique); err != nil {
		return 0, err
	}

	s.logger.Infow("Results deduplicated", "path", s.path, "kept", len(unique), "removed", removed)
	return removed, nil
}

// Reset truncates the file to just the header.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rewriteLocked(nil); err != nil {
		return err
	}
	s.logger.Infow("Results store reset", "path", s.path)
	return nil
}

func (s *Store) ensureHeaderLocked() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		return s.rewriteLocked(nil)
	}
	if err != nil {
		return fmt.Errorf("failed to stat results file: %w", err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	got, err := csv.NewReader(f).Read()
	if err != nil {
		return fmt.Errorf("failed to read results header: %w", err)
	}
	if strings.Join(got, ",") != strings.Join(s.header, ",") {
		return fmt.Errorf("%w: %s has %q, want %q", ErrHeaderMismatch, s.path, got, s.header)
	}
	return nil
}

func (s *Store) readLocked() ([]types.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(s.header)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results header: %w", err)
	}

	var records []types.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read results row: %w", err)
		}
		records = append(records, types.Record(row))
	}
	return records, nil
}

// rewriteLocked atomically replaces the file with the header and records.
func (s *Store) rewriteLocked(records []types.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp results file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(s.header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write results header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp results file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}
