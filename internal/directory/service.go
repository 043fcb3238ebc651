// Package directory defines the session contract the crawler uses to query a
// remote directory, and the error taxonomy that classifies its failures.
package directory

import (
	"context"
	"errors"

	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// Failures of one session operation. All of them except ErrSessionClosed
// are transient: the same operation may succeed when attempted again.
var (
	// ErrStaleReference means a candidate reference no longer points at a live row.
	ErrStaleReference = errors.New("stale candidate reference")
	// ErrClickIntercepted means the candidate could not be opened because
	// something obscured it.
	ErrClickIntercepted = errors.New("candidate obscured")
	// ErrElementMissing means an expected element or field was absent.
	ErrElementMissing = errors.New("element missing")
	// ErrTimeout means the detail view did not become ready in time.
	ErrTimeout = errors.New("operation timed out")
	// ErrUnavailable means the directory answered with a temporary failure.
	ErrUnavailable = errors.New("directory unavailable")
	// ErrSessionClosed means the session can no longer be used.
	ErrSessionClosed = errors.New("session closed")
)

// CandidateRef points at one row of the current result listing.
type CandidateRef struct {
	ID    string
	Label string
}

// DetailView is an opened candidate whose fields are ready to be extracted.
type DetailView struct {
	Ref    CandidateRef
	Fields map[string]string
}

// ResultHandle is the listing returned by a search.
type ResultHandle interface {
	// Count is the number of candidates returned, already capped.
	Count() int
	Candidates() []CandidateRef
}

// Session is an exclusive, sequential connection to the directory.
// A session is never shared between workers.
type Session interface {
	Search(ctx context.Context, namePrefix, category string) (ResultHandle, error)
	Open(ctx context.Context, ref CandidateRef) (DetailView, error)
	Extract(ctx context.Context, view DetailView) (types.Record, error)
	ReturnToList(ctx context.Context) error
	Close() error
}

// SessionFactory opens a fresh session per worker.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Listing is a static ResultHandle.
type Listing []CandidateRef

// Count returns the number of candidates.
func (l Listing) Count() int { return len(l) }

// Candidates returns the candidates in listing order.
func (l Listing) Candidates() []CandidateRef { return l }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrSessionClosed) {
		return false
	}
	return errors.Is(err, ErrStaleReference) ||
		errors.Is(err, ErrClickIntercepted) ||
		errors.Is(err, ErrElementMissing) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ExtractFields builds a record from a detail view's named fields.
// A view without a full name is reported as ErrElementMissing.
func ExtractFields(view DetailView) (types.Record, error) {
	if view.Fields[types.FieldFullName] == "" {
		return nil, ErrElementMissing
	}
	return types.NewRecord(view.Fields), nil
}
