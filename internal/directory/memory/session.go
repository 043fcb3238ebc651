package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// Session is a directory.Session over a Directory. Opening a candidate that
// is not part of the last listing fails with ErrStaleReference.
type Session struct {
	dir *Directory

	mu      sync.Mutex
	listing map[string]bool
	closed  bool
}

var _ directory.Session = (*Session)(nil)

// Search runs a capped search and remembers the listing.
func (s *Session) Search(ctx context.Context, namePrefix, category string) (directory.ResultHandle, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	listing, err := s.dir.Search(namePrefix, category)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", namePrefix, err)
	}

	s.mu.Lock()
	s.listing = make(map[string]bool, len(listing))
	for _, c := range listing {
		s.listing[c.ID] = true
	}
	s.mu.Unlock()
	return listing, nil
}

// Open returns the detail view of ref.
func (s *Session) Open(ctx context.Context, ref directory.CandidateRef) (directory.DetailView, error) {
	if err := s.check(ctx); err != nil {
		return directory.DetailView{}, err
	}

	s.mu.Lock()
	live := s.listing[ref.ID]
	s.mu.Unlock()
	if !live {
		return directory.DetailView{}, fmt.Errorf("open %q: %w", ref.Label, directory.ErrStaleReference)
	}

	fields, err := s.dir.Lookup(ref.ID)
	if err != nil {
		return directory.DetailView{}, fmt.Errorf("open %q: %w", ref.Label, err)
	}
	return directory.DetailView{Ref: ref, Fields: fields}, nil
}

// Extract builds the record shown by view.
func (s *Session) Extract(ctx context.Context, view directory.DetailView) (types.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return directory.ExtractFields(view)
}

// ReturnToList is a no-op: the listing stays live until the next search.
func (s *Session) ReturnToList(ctx context.Context) error {
	return s.check(ctx)
}

// Close ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return directory.ErrSessionClosed
	}
	return nil
}
