package httpdir

import (
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/directory/memory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

// HandlerOption configures the mock directory handler.
type HandlerOption func(*handler)

// WithPendingPolls makes every detail answer 202 for the first n requests,
// the way the upstream detail page takes a while to render.
func WithPendingPolls(n int) HandlerOption {
	return func(h *handler) { h.pending = n }
}

// WithLogger logs every request.
func WithLogger(log *logger.Logger) HandlerOption {
	return func(h *handler) { h.logger = log }
}

type handler struct {
	dir     *memory.Directory
	pending int
	logger  *logger.Logger

	mu    sync.Mutex
	polls map[string]int
}

// NewHandler exposes dir over the JSON directory API.
func NewHandler(dir *memory.Directory, opts ...HandlerOption) http.Handler {
	h := &handler{
		dir:   dir,
		polls: make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if h.logger != nil {
		e.Use(h.logRequests)
	}

	e.GET("/api/search", h.search)
	e.GET("/api/licensees/:id", h.licensee)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func (h *handler) search(c echo.Context) error {
	listing, err := h.dir.Search(c.QueryParam("name"), c.QueryParam("category"))
	if err != nil {
		return h.fail(c, err)
	}

	resp := SearchResponse{Total: listing.Count(), Candidates: make([]Candidate, 0, listing.Count())}
	for _, ref := range listing.Candidates() {
		resp.Candidates = append(resp.Candidates, Candidate{ID: ref.ID, Label: ref.Label})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) licensee(c echo.Context) error {
	id := c.Param("id")

	h.mu.Lock()
	n := h.polls[id]
	ready := n >= h.pending
	if ready {
		delete(h.polls, id)
	} else {
		h.polls[id] = n + 1
	}
	h.mu.Unlock()
	if !ready {
		return c.NoContent(http.StatusAccepted)
	}

	fields, err := h.dir.Lookup(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, fields)
}

func (h *handler) fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, directory.ErrElementMissing):
		code = http.StatusNotFound
	case errors.Is(err, directory.ErrStaleReference):
		code = http.StatusGone
	case errors.Is(err, directory.ErrClickIntercepted):
		code = http.StatusConflict
	case errors.Is(err, directory.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, directory.ErrUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, directory.ErrSessionClosed):
		code = http.StatusForbidden
	}
	return c.JSON(code, ErrorResponse{Message: err.Error()})
}

func (h *handler) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		h.logger.Debugw("Mock directory request",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"status", c.Response().Status,
		)
		return err
	}
}
