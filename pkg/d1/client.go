// Package d1 is a client for the Cloudflare D1 SQL import API.
package d1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/deals/internal/resilience"
)

// DefaultBaseURL is the Cloudflare v4 API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client defines the D1 import operations.
type Client interface {
	Init(ctx context.Context, etag string) (*InitResult, error)
	Upload(ctx context.Context, uploadURL string, payload []byte) (string, error)
	Ingest(ctx context.Context, etag, filename string) (*IngestResult, error)
	Poll(ctx context.Context, bookmark string) (*PollResult, error)
}

type importRequest struct {
	Action          string `json:"action"`
	Etag            string `json:"etag,omitempty"`
	Filename        string `json:"filename,omitempty"`
	CurrentBookmark string `json:"current_bookmark,omitempty"`
}

// envelope is the standard Cloudflare API response wrapper.
type envelope[T any] struct {
	Success bool         `json:"success"`
	Errors  []APIMessage `json:"errors"`
	Result  *T           `json:"result"`
}

// APIMessage is one entry of a Cloudflare errors or messages list.
type APIMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InitResult is the result of the init action.
type InitResult struct {
	UploadURL string `json:"upload_url"`
	Filename  string `json:"filename"`
}

// IngestResult is the result of the ingest action.
type IngestResult struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	AtBookmark string `json:"at_bookmark"`
	Error      string `json:"error"`
}

// PollResult is the result of the poll action.
type PollResult struct {
	Success    bool     `json:"success"`
	Status     string   `json:"status"`
	AtBookmark string   `json:"at_bookmark"`
	Error      string   `json:"error"`
	Messages   []string `json:"messages"`
}

// APIError is returned when D1 responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("d1: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces API calls to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithRetry sets the retry policy for transient API failures.
func WithRetry(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey    string
	importURL string
	baseURL   string
	accountID string
	dbID      string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.Policy
}

// NewClient creates a D1 import client for one database.
func NewClient(accountID, databaseID, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   DefaultBaseURL,
		accountID: accountID,
		dbID:      databaseID,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(4), 1),
		retry:   resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetry("d1", "import")
	}
	c.importURL = fmt.Sprintf("%s/accounts/%s/d1/database/%s/import", c.baseURL, c.accountID, c.dbID)
	return c
}

func (c *httpClient) Init(ctx context.Context, etag string) (*InitResult, error) {
	res, err := call[InitResult](ctx, c, importRequest{Action: "init", Etag: etag})
	if err != nil {
		return nil, eris.Wrap(err, "d1: init upload")
	}
	return res, nil
}

func (c *httpClient) Ingest(ctx context.Context, etag, filename string) (*IngestResult, error) {
	res, err := call[IngestResult](ctx, c, importRequest{Action: "ingest", Etag: etag, Filename: filename})
	if err != nil {
		return nil, eris.Wrap(err, "d1: start ingest")
	}
	return res, nil
}

func (c *httpClient) Poll(ctx context.Context, bookmark string) (*PollResult, error) {
	res, err := call[PollResult](ctx, c, importRequest{Action: "poll", CurrentBookmark: bookmark})
	if err != nil {
		return nil, eris.Wrap(err, "d1: poll import")
	}
	return res, nil
}

// Upload PUTs payload to the pre-signed URL from Init and returns the ETag
// reported by the object store, without quotes.
func (c *httpClient) Upload(ctx context.Context, uploadURL string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "d1: create upload request")
	}
	req.ContentLength = int64(len(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "d1: upload")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", eris.Wrap(&APIError{StatusCode: resp.StatusCode, Body: string(body)}, "d1: upload")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return strings.ReplaceAll(resp.Header.Get("ETag"), `"`, ""), nil
}

// call posts one import action, retrying transient failures.
func call[T any](ctx context.Context, c *httpClient, body importRequest) (*T, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*T, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.importURL, bytes.NewReader(buf))
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		var env envelope[T]
		if err := c.do(req, &env); err != nil {
			return nil, err
		}
		if env.Result == nil {
			return nil, eris.Errorf("empty result (success=%t, errors=%v)", env.Success, env.Errors)
		}
		return env.Result, nil
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.TransientStatus(resp.StatusCode) {
			return resilience.Transient(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
