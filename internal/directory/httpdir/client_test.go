package httpdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/directory/memory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

func licensee(name string) types.Record {
	return types.NewRecord(map[string]string{
		types.FieldFullName:      name,
		types.FieldLicenseType:   "MD",
		types.FieldLicenseNumber: "L-" + name,
		types.FieldStatus:        "Active",
		types.FieldProfessional:  "Physician and Surgeon",
		types.FieldIssued:        "01/02/2003",
		types.FieldExpired:       "01/02/2033",
	})
}

func testConfig(baseURL string) *config.DirectoryConfig {
	return &config.DirectoryConfig{
		Driver:         config.DriverHTTP,
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		DetailTimeout:  500 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
}

func newSession(t *testing.T, handler http.Handler) directory.Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(testConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	sess, err := client.NewSession(context.Background())
	require.NoError(t, err)
	return sess
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(testConfig("not-a-url"), logger.NewNop())
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := memory.New([]types.Record{licensee("ADAMSANNA"), licensee("ADLERBEN"), licensee("BROWNCARL")}, 50)
	sess := newSession(t, NewHandler(dir, WithPendingPolls(2)))

	res, err := sess.Search(ctx, "AD", "Physician")
	require.NoError(t, err)
	require.Equal(t, 2, res.Count())
	assert.Equal(t, "ADAMSANNA, MD", res.Candidates()[0].Label)

	view, err := sess.Open(ctx, res.Candidates()[1])
	require.NoError(t, err, "detail becomes ready after pending polls")
	rec, err := sess.Extract(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, licensee("ADLERBEN"), rec)
	require.NoError(t, sess.ReturnToList(ctx))

	q := dir.Queries()
	require.Len(t, q, 1)
	assert.Equal(t, "Physician", q[0].Category)
}

func TestSearch_Cap(t *testing.T) {
	dir := memory.New(memory.Generate(120, 5), 50)
	sess := newSession(t, NewHandler(dir))

	res, err := sess.Search(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Count())
}

func TestOpen_DetailTimeout(t *testing.T) {
	ctx := context.Background()
	dir := memory.New([]types.Record{licensee("ADAMSANNA")}, 50)
	sess := newSession(t, NewHandler(dir, WithPendingPolls(1000)))

	res, err := sess.Search(ctx, "A", "")
	require.NoError(t, err)

	_, err = sess.Open(ctx, res.Candidates()[0])
	assert.ErrorIs(t, err, directory.ErrTimeout)
	assert.True(t, directory.IsTransient(err))
}

func TestOpen_StaleReference(t *testing.T) {
	dir := memory.New([]types.Record{licensee("ADAMSANNA")}, 50)
	sess := newSession(t, NewHandler(dir))

	_, err := sess.Open(context.Background(), directory.CandidateRef{ID: "0", Label: "ADAMSANNA, MD"})
	assert.ErrorIs(t, err, directory.ErrStaleReference)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		transient bool
	}{
		{"not found", http.StatusNotFound, directory.ErrElementMissing, true},
		{"gone", http.StatusGone, directory.ErrStaleReference, true},
		{"conflict", http.StatusConflict, directory.ErrClickIntercepted, true},
		{"gateway timeout", http.StatusGatewayTimeout, directory.ErrTimeout, true},
		{"unavailable", http.StatusServiceUnavailable, directory.ErrUnavailable, true},
		{"internal", http.StatusInternalServerError, directory.ErrUnavailable, true},
		{"throttled", http.StatusTooManyRequests, directory.ErrUnavailable, true},
		{"forbidden", http.StatusForbidden, directory.ErrSessionClosed, false},
		{"bad request", http.StatusBadRequest, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))

			_, err := sess.Search(context.Background(), "A", "Physician")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.transient, directory.IsTransient(err))
		})
	}
}

func TestSearch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(testConfig(url), logger.NewNop())
	require.NoError(t, err)
	sess, err := client.NewSession(context.Background())
	require.NoError(t, err)

	_, err = sess.Search(context.Background(), "A", "")
	assert.ErrorIs(t, err, directory.ErrUnavailable)
}

func TestSession_Closed(t *testing.T) {
	dir := memory.New(nil, 50)
	sess := newSession(t, NewHandler(dir))
	require.NoError(t, sess.Close())

	_, err := sess.Search(context.Background(), "A", "")
	assert.ErrorIs(t, err, directory.ErrSessionClosed)
}

func TestHandler_Faults(t *testing.T) {
	dir := memory.New([]types.Record{licensee("ADAMSANNA")}, 50)
	dir.FailSearch("Z", directory.ErrUnavailable, 1)
	dir.FailOpen("ADAMSANNA, MD", directory.ErrClickIntercepted, 1)
	h := NewHandler(dir)

	tests := []struct {
		path string
		want int
	}{
		{"/api/search?name=Z", http.StatusServiceUnavailable},
		{"/api/search?name=Z", http.StatusOK},
		{"/api/licensees/0", http.StatusConflict},
		{"/api/licensees/0", http.StatusOK},
		{"/api/licensees/99", http.StatusNotFound},
		{"/healthz", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}
