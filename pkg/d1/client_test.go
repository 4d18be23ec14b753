package d1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/deals/internal/resilience"
)

const importPath = "/accounts/acc-1/d1/database/db-1/import"

// fakeD1 emulates the import endpoint and the object store upload URL.
type fakeD1 struct {
	t *testing.T

	mu        sync.Mutex
	actions   []string
	uploaded  []byte
	initBody  string
	uploadTag func(body []byte) string
	polls     []string
	failFirst int
}

func (f *fakeD1) handler(srvURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+importPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		assert.Equal(f.t, "Bearer key-1", r.Header.Get("Authorization"))
		var req importRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.actions = append(f.actions, req.Action)

		if f.failFirst > 0 {
			f.failFirst--
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}

		switch req.Action {
		case "init":
			if f.initBody != "" {
				_, _ = io.WriteString(w, f.initBody)
				return
			}
			writeResult(w, InitResult{UploadURL: srvURL() + "/upload/abc", Filename: "file-abc.sql"})
		case "ingest":
			assert.Equal(f.t, "file-abc.sql", req.Filename)
			assert.Equal(f.t, ETag(f.uploaded), req.Etag)
			writeResult(w, IngestResult{Success: true, Status: "active", AtBookmark: "bm-1"})
		case "poll":
			if len(f.polls) == 0 {
				writeResult(w, PollResult{Success: false, Status: "active", AtBookmark: req.CurrentBookmark})
				return
			}
			next := f.polls[0]
			f.polls = f.polls[1:]
			switch next {
			case "active":
				writeResult(w, PollResult{Success: false, Status: "active", AtBookmark: "bm-2"})
			case "complete":
				writeResult(w, PollResult{Success: true, Status: "complete", AtBookmark: "bm-3"})
			case "idle":
				writeResult(w, PollResult{Success: false, Error: NotImporting})
			case "error":
				writeResult(w, PollResult{Success: false, Status: "error", Error: "near \"INSRT\": syntax error"})
			}
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("PUT /upload/abc", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)
		f.mu.Lock()
		f.uploaded = body
		tag := `"` + ETag(body) + `"`
		if f.uploadTag != nil {
			tag = f.uploadTag(body)
		}
		f.mu.Unlock()
		w.Header().Set("ETag", tag)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func writeResult[T any](w http.ResponseWriter, v T) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope[T]{Success: true, Result: &v})
}

func newFake(t *testing.T, f *fakeD1) Client {
	t.Helper()
	f.t = t
	var srv *httptest.Server
	srv = httptest.NewServer(f.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	return NewClient("acc-1", "db-1", "key-1",
		WithBaseURL(srv.URL+"/"),
		WithRateLimit(rate.Inf, 1),
		WithRetry(resilience.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}),
	)
}

func fastPoll() []PollOption {
	return []PollOption{WithPollInterval(time.Millisecond), WithPollCap(2 * time.Millisecond)}
}

func TestETag(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ETag(nil))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", ETag([]byte("hello")))
}

func TestImport_HappyPath(t *testing.T) {
	f := &fakeD1{polls: []string{"active", "active", "complete"}}
	c := newFake(t, f)

	payload := []byte("INSERT INTO product (sku, name) VALUES ('A', 'Alpha');\n")
	res, err := Import(context.Background(), c, payload, fastPoll()...)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, payload, f.uploaded)
	assert.Equal(t, []string{"init", "ingest", "poll", "poll", "poll"}, f.actions)
}

func TestImport_NotImportingEndsPolling(t *testing.T) {
	f := &fakeD1{polls: []string{"active", "idle"}}
	res, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), fastPoll()...)
	require.NoError(t, err)
	assert.Equal(t, NotImporting, res.Error)
}

func TestImport_ETagMismatch(t *testing.T) {
	f := &fakeD1{uploadTag: func([]byte) string { return `"deadbeef"` }}
	_, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), fastPoll()...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrETagMismatch))
	assert.Equal(t, []string{"init"}, f.actions, "ingest is never started")
}

func TestImport_MissingUploadURL(t *testing.T) {
	f := &fakeD1{initBody: `{"success":true,"result":{"filename":"x.sql"}}`}
	_, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), fastPoll()...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingUploadURL))
}

func TestImport_EmptyInitResult(t *testing.T) {
	f := &fakeD1{initBody: `{"success":false,"errors":[{"code":7500,"message":"not authorized"}],"result":null}`}
	_, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d1: init upload")
	assert.Contains(t, err.Error(), "not authorized")
}

func TestImport_PollExhausted(t *testing.T) {
	f := &fakeD1{}
	opts := append(fastPoll(), WithPollAttempts(4))
	_, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), opts...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollExhausted))
	assert.Equal(t, []string{"init", "ingest", "poll", "poll", "poll", "poll"}, f.actions)
}

func TestImport_PollReportsError(t *testing.T) {
	f := &fakeD1{polls: []string{"error"}}
	_, err := Import(context.Background(), newFake(t, f), []byte("SELECT 1;"), fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	f := &fakeD1{failFirst: 2}
	c := newFake(t, f)

	res, err := c.Init(context.Background(), "etag")
	require.NoError(t, err)
	assert.NotEmpty(t, res.UploadURL)
	assert.Equal(t, []string{"init", "init", "init"}, f.actions)
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	f := &fakeD1{failFirst: 10}
	c := newFake(t, f)

	_, err := c.Init(context.Background(), "etag")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Len(t, f.actions, 3)
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	f := &fakeD1{}
	c := newFake(t, f)

	_, err := call[PollResult](context.Background(), c.(*httpClient), importRequest{Action: "bogus"})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Len(t, f.actions, 1)
}

func TestPollImport_ContextCancelled(t *testing.T) {
	f := &fakeD1{}
	c := newFake(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PollImport(ctx, c, "bm-1", WithPollInterval(time.Hour))
	require.Error(t, err)
}
