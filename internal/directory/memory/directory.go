// Package memory provides a deterministic in-process directory used for
// tests, dry runs and the mock HTTP directory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// Query is one search seen by the directory.
type Query struct {
	Prefix   string
	Category string
	Count    int
	Err      error
}

type fault struct {
	err       error
	remaining int // <= 0 means every time
}

// Directory serves a fixed record set through capped prefix searches.
type Directory struct {
	cap     int
	records []types.Record

	mu           sync.Mutex
	searchFaults map[string]*fault
	openFaults   map[string]*fault
	queries      []Query
}

// New builds a directory over records. Listings are ordered by full name
// then license number, like the upstream result table.
func New(records []types.Record, resultCap int) *Directory {
	sorted := make([]types.Record, len(records))
	copy(sorted, records)
	name := indexOf(types.FieldFullName)
	number := indexOf(types.FieldLicenseNumber)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i][name] != sorted[j][name] {
			return sorted[i][name] < sorted[j][name]
		}
		return sorted[i][number] < sorted[j][number]
	})

	return &Directory{
		cap:          resultCap,
		records:      sorted,
		searchFaults: make(map[string]*fault),
		openFaults:   make(map[string]*fault),
	}
}

// Cap returns the maximum number of candidates per search.
func (d *Directory) Cap() int {
	return d.cap
}

// Records returns every record in listing order.
func (d *Directory) Records() []types.Record {
	out := make([]types.Record, len(d.records))
	copy(out, d.records)
	return out
}

// Matching returns how many records a search would match before the cap.
func (d *Directory) Matching(namePrefix, category string) int {
	n := 0
	for _, r := range d.records {
		if matches(r, namePrefix, category) {
			n++
		}
	}
	return n
}

// Search returns at most Cap candidates whose name starts with namePrefix and
// whose profession contains category. Configured faults are returned first.
func (d *Directory) Search(namePrefix, category string) (directory.Listing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := take(d.searchFaults, namePrefix); err != nil {
		d.queries = append(d.queries, Query{Prefix: namePrefix, Category: category, Err: err})
		return nil, err
	}

	var listing directory.Listing
	for i, r := range d.records {
		if !matches(r, namePrefix, category) {
			continue
		}
		listing = append(listing, directory.CandidateRef{ID: strconv.Itoa(i), Label: Label(r)})
		if d.cap > 0 && len(listing) == d.cap {
			break
		}
	}
	d.queries = append(d.queries, Query{Prefix: namePrefix, Category: category, Count: len(listing)})
	return listing, nil
}

// Lookup returns the detail fields of the candidate with id.
func (d *Directory) Lookup(id string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := strconv.Atoi(id)
	if err != nil || i < 0 || i >= len(d.records) {
		return nil, fmt.Errorf("%w: no licensee %q", directory.ErrElementMissing, id)
	}
	r := d.records[i]
	if err := take(d.openFaults, Label(r)); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(types.Header))
	for j, name := range types.Header {
		fields[name] = r[j]
	}
	return fields, nil
}

// FailSearch makes the next times searches for prefix fail with err.
// A non-positive times fails every search.
func (d *Directory) FailSearch(prefix string, err error, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.searchFaults[prefix] = &fault{err: err, remaining: times}
}

// FailOpen makes opening the candidate labelled label fail with err.
func (d *Directory) FailOpen(label string, err error, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openFaults[label] = &fault{err: err, remaining: times}
}

// Queries returns the search log in arrival order.
func (d *Directory) Queries() []Query {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Query, len(d.queries))
	copy(out, d.queries)
	return out
}

// QueryCount returns how many times prefix was searched.
func (d *Directory) QueryCount(prefix string) int {
	n := 0
	for _, q := range d.Queries() {
		if q.Prefix == prefix {
			n++
		}
	}
	return n
}

// ResetQueries clears the search log.
func (d *Directory) ResetQueries() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = nil
}

// NewSession opens a session over the directory.
func (d *Directory) NewSession(ctx context.Context) (directory.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Session{dir: d}, nil
}

// Label renders a record the way the result listing shows it.
func Label(r types.Record) string {
	return r.Get(types.Header, types.FieldFullName) + ", " + r.Get(types.Header, types.FieldLicenseType)
}

func matches(r types.Record, namePrefix, category string) bool {
	name := r.Get(types.Header, types.FieldFullName)
	if !strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(namePrefix)) {
		return false
	}
	if category == "" {
		return true
	}
	profession := r.Get(types.Header, types.FieldProfessional)
	return strings.Contains(strings.ToLower(profession), strings.ToLower(category))
}

func take(faults map[string]*fault, key string) error {
	f, ok := faults[key]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(faults, key)
		}
	}
	return f.err
}

func indexOf(field string) int {
	for i, h := range types.Header {
		if h == field {
			return i
		}
	}
	return -1
}
