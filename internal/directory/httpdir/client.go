// Package httpdir talks to a directory exposed as a small JSON API, and
// serves a memory directory over the same API.
//
//	GET {base}/api/search?name={prefix}&category={category}
//	GET {base}/api/licensees/{id}
package httpdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// SearchResponse is the body of a search.
type SearchResponse struct {
	Total      int         `json:"total"`
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one listed licensee.
type Candidate struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Client opens sessions against one directory base URL.
type Client struct {
	base           *url.URL
	http           *http.Client
	requestTimeout time.Duration
	detailTimeout  time.Duration
	pollInterval   time.Duration
	logger         *logger.Logger
}

// New creates a client from the directory configuration.
func New(cfg *config.DirectoryConfig, log *logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory base_url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("directory base_url %q is not absolute", cfg.BaseURL)
	}
	if log == nil {
		log = logger.NewDefault()
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.RequestTimeout

	return &Client{
		base:           base,
		http:           httpClient,
		requestTimeout: cfg.RequestTimeout,
		detailTimeout:  cfg.DetailTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         log.WithComponent("httpdir"),
	}, nil
}

// NewSession opens a session. Sessions share the connection pool but keep
// their own listing.
func (c *Client) NewSession(ctx context.Context) (directory.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Session{client: c}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Session is a directory.Session over HTTP.
type Session struct {
	client *Client

	mu      sync.Mutex
	listing map[string]bool
	closed  bool
}

var _ directory.Session = (*Session)(nil)

// Search queries the listing for namePrefix.
func (s *Session) Search(ctx context.Context, namePrefix, category string) (directory.ResultHandle, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("name", namePrefix)
	q.Set("category", category)

	var body SearchResponse
	status, err := s.client.get(ctx, "/api/search", q, &body)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", namePrefix, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status %d: %w", namePrefix, status, directory.ErrUnavailable)
	}

	listing := make(directory.Listing, 0, len(body.Candidates))
	live := make(map[string]bool, len(body.Candidates))
	for _, c := range body.Candidates {
		listing = append(listing, directory.CandidateRef{ID: c.ID, Label: c.Label})
		live[c.ID] = true
	}

	s.mu.Lock()
	s.listing = live
	s.mu.Unlock()
	return listing, nil
}

// Open polls the detail endpoint until the view is ready or the detail
// timeout passes.
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

	deadline := time.Now().Add(s.client.detailTimeout)
	path := "/api/licensees/" + url.PathEscape(ref.ID)
	for {
		var fields map[string]string
		status, err := s.client.get(ctx, path, nil, &fields)
		if err != nil {
			return directory.DetailView{}, fmt.Errorf("open %q: %w", ref.Label, err)
		}
		if status == http.StatusOK {
			return directory.DetailView{Ref: ref, Fields: fields}, nil
		}

		// 202: the detail page is still loading
		if time.Now().Add(s.client.pollInterval).After(deadline) {
			return directory.DetailView{}, fmt.Errorf("open %q: detail not ready after %s: %w",
				ref.Label, s.client.detailTimeout, directory.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return directory.DetailView{}, ctx.Err()
		case <-time.After(s.client.pollInterval):
		}
	}
}

// Extract builds the record shown by view.
func (s *Session) Extract(ctx context.Context, view directory.DetailView) (types.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return directory.ExtractFields(view)
}

// ReturnToList is a no-op: the API is stateless between requests.
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

// get issues one bounded GET and decodes a 200 body into out. It returns the
// status for 200 and 202 and maps every other status to a directory error.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, fmt.Errorf("%w: %v", directory.ErrTimeout, err)
		}
		return 0, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Directory request", "path", path, "status", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("%w: failed to decode response: %v", directory.ErrUnavailable, err)
		}
		return resp.StatusCode, nil
	case http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	var body ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return 0, statusError(resp.StatusCode, body.Message)
}

// statusError maps a failed response to the directory error taxonomy.
func statusError(code int, message string) error {
	if message == "" {
		message = http.StatusText(code)
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", directory.ErrElementMissing, message)
	case code == http.StatusGone:
		return fmt.Errorf("%w: %s", directory.ErrStaleReference, message)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", directory.ErrClickIntercepted, message)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", directory.ErrTimeout, message)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s", directory.ErrUnavailable, message)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", directory.ErrSessionClosed, message)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, message)
	}
}
