package crawler

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// Reporter is told about every traversal decision.
type Reporter interface {
	Skipped(prefix string, depth int)
	Empty(prefix string, depth int)
	Harvesting(prefix string, depth, count int)
	Expanding(prefix string, depth, count int)
	Deferred(prefix string, depth int, err error)
	Record(prefix string, depth int, rec types.Record)
	CandidateFailed(prefix string, depth int, ref directory.CandidateRef, err error)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Skipped(string, int)                                        {}
func (NopReporter) Empty(string, int)                                          {}
func (NopReporter) Harvesting(string, int, int)                                {}
func (NopReporter) Expanding(string, int, int)                                 {}
func (NopReporter) Deferred(string, int, error)                                {}
func (NopReporter) Record(string, int, types.Record)                           {}
func (NopReporter) CandidateFailed(string, int, directory.CandidateRef, error) {}

var (
	prefixStyle  = color.New(color.FgYellow)
	emptyStyle   = color.New(color.FgBlack, color.BgLightRed)
	countStyle   = color.New(color.FgLightRed, color.BgLightBlue)
	manyStyle    = color.New(color.FgLightCyan, color.BgLightMagenta)
	skipStyle    = color.New(color.FgDarkGray)
	deferStyle   = color.New(color.FgBlack, color.BgYellow)
	recordStyle  = color.New(color.FgLightGreen)
	failStyle    = color.New(color.FgLightRed)
	workerStyles = []color.Style{
		color.New(color.FgCyan),
		color.New(color.FgMagenta),
		color.New(color.FgBlue),
		color.New(color.FgGreen),
	}
)

// prefixColumn is the display width reserved for a prefix and its branch.
const prefixColumn = 24

// TreeReporter prints the traversal as an indented tree. Workers share one
// writer; each line is written whole.
type TreeReporter struct {
	mu     *sync.Mutex
	w      io.Writer
	worker int
}

// NewTreeReporter prints to w.
func NewTreeReporter(w io.Writer) *TreeReporter {
	return &TreeReporter{mu: &sync.Mutex{}, w: w}
}

// ForWorker returns a reporter sharing the writer that tags lines with id.
func (t *TreeReporter) ForWorker(id int) *TreeReporter {
	return &TreeReporter{mu: t.mu, w: t.w, worker: id}
}

func (t *TreeReporter) Skipped(p string, depth int) {
	t.line(depth, p, skipStyle.Sprint("done"))
}

func (t *TreeReporter) Empty(p string, depth int) {
	t.line(depth, p, emptyStyle.Sprint("EMPTY"))
}

func (t *TreeReporter) Harvesting(p string, depth, count int) {
	t.line(depth, p, countStyle.Sprintf(" %d ", count))
}

func (t *TreeReporter) Expanding(p string, depth, count int) {
	t.line(depth, p, manyStyle.Sprintf("MANY (%d)", count))
}

func (t *TreeReporter) Deferred(p string, depth int, err error) {
	t.line(depth, p, deferStyle.Sprint("DEFERRED")+" "+err.Error())
}

func (t *TreeReporter) Record(_ string, depth int, rec types.Record) {
	parts := make([]string, 0, len(types.Header))
	for i, name := range types.Header {
		if i < len(rec) {
			parts = append(parts, strings.ToLower(name)+": "+rec[i])
		}
	}
	t.write(indent(depth+1) + recordStyle.Sprint(strings.Join(parts, ", ")))
}

func (t *TreeReporter) CandidateFailed(_ string, depth int, ref directory.CandidateRef, err error) {
	t.write(indent(depth+1) + failStyle.Sprintf("%s: %v", ref.Label, err))
}

func (t *TreeReporter) line(depth int, p, status string) {
	head := runewidth.FillRight(indent(depth)+p, prefixColumn)
	t.write(prefixStyle.Sprint(head) + " : " + status)
}

func (t *TreeReporter) write(s string) {
	tag := ""
	if t.worker > 0 {
		style := workerStyles[(t.worker-1)%len(workerStyles)]
		tag = style.Sprintf("[w%d] ", t.worker)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.w, tag+s)
}

// indent draws the tree branch for depth: roots are flush left.
func indent(depth int) string {
	switch depth {
	case 0:
		return ""
	case 1:
		return "├── "
	default:
		return "│" + strings.Repeat("    ", depth-1) + "└── "
	}
}
