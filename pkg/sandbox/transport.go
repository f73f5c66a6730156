package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/metrics"
)

// Transport is the wire protocol to the analysis service. Implementations
// must be safe for concurrent use.
type Transport interface {
	// LookupHash returns the cached report for a content hash. An unknown
	// hash yields an error for which errors.IsNotFoundError is true.
	LookupHash(ctx context.Context, hash string) (*Report, error)

	// Submit uploads a file and returns the analysis job id.
	Submit(ctx context.Context, path string) (string, error)

	// GetAnalysis returns the current state of an analysis job.
	GetAnalysis(ctx context.Context, jobID string) (*Report, error)
}

// Endpoint names used as metric labels.
const (
	endpointFiles    = "files"
	endpointUpload   = "upload"
	endpointAnalyses = "analyses"
)

// HTTPTransport talks to a VirusTotal v3 compatible API.
type HTTPTransport struct {
	baseURL       string
	apiKey        string
	userAgent     string
	lookupTimeout time.Duration
	uploadTimeout time.Duration
	httpClient    *http.Client
	limiter       *rate.Limiter
	metrics       metrics.Collector
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport from cfg. Per-call deadlines come
// from cfg; the http.Client itself has no global timeout so uploads of
// large files are bounded only by UploadTimeout.
func NewHTTPTransport(cfg *Config, collector metrics.Collector) *HTTPTransport {
	c := *cfg
	c.applyDefaults()

	t := &HTTPTransport{
		baseURL:       c.BaseURL,
		apiKey:        c.APIKey,
		userAgent:     c.UserAgent,
		lookupTimeout: c.LookupTimeout,
		uploadTimeout: c.UploadTimeout,
		httpClient:    &http.Client{},
		metrics:       metrics.OrNop(collector),
	}
	if c.RequestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(float64(c.RequestsPerMinute)/60.0), 1)
	}
	return t
}

// LookupHash implements Transport.
func (t *HTTPTransport) LookupHash(ctx context.Context, hash string) (*Report, error) {
	if err := t.wait(ctx); err != nil {
		return nil, errors.Wrap(err, "sandbox.LookupHash")
	}
	ctx, cancel := context.WithTimeout(ctx, t.lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/files/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, errors.E(errors.KindInternal, "sandbox.LookupHash", "create request", err)
	}
	body, err := t.do(req, endpointFiles)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox.LookupHash")
	}
	return ParseReport(body)
}

// GetAnalysis implements Transport.
func (t *HTTPTransport) GetAnalysis(ctx context.Context, jobID string) (*Report, error) {
	if err := t.wait(ctx); err != nil {
		return nil, errors.Wrap(err, "sandbox.GetAnalysis")
	}
	ctx, cancel := context.WithTimeout(ctx, t.lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/analyses/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, errors.E(errors.KindInternal, "sandbox.GetAnalysis", "create request", err)
	}
	body, err := t.do(req, endpointAnalyses)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox.GetAnalysis")
	}
	return ParseReport(body)
}

// Submit implements Transport. The file is streamed into the multipart
// body, never held in memory.
func (t *HTTPTransport) Submit(ctx context.Context, path string) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", errors.Wrap(err, "sandbox.Submit")
	}
	ctx, cancel := context.WithTimeout(ctx, t.uploadTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return "", errors.E(errors.KindInvalidInput, "sandbox.Submit", "cannot open file", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/files", pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", errors.E(errors.KindInternal, "sandbox.Submit", "create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := t.do(req, endpointUpload)
	pr.Close()
	if err != nil {
		return "", errors.Wrap(err, "sandbox.Submit")
	}
	return parseJobID(body)
}

// wait blocks until the limiter grants a request. It runs under the
// caller's context so queueing for a token does not eat into the per-call
// deadline.
func (t *HTTPTransport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.E(errors.KindTimeout, "rate limit wait", ctx.Err())
		}
		return errors.E(errors.KindRateLimit, "rate limit wait", err)
	}
	return nil
}

// do sends a single request. There is no retry here: the scan state
// machine decides what is retried.
func (t *HTTPTransport) do(req *http.Request, endpoint string) ([]byte, error) {
	ctx := req.Context()
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("x-apikey", t.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	timer := metrics.NewTimer(t.metrics, metrics.HTTPRequestDuration.Name, "endpoint", endpoint)
	resp, err := t.httpClient.Do(req)
	timer.ObserveDuration()
	if err != nil {
		t.metrics.CounterInc(metrics.HTTPRequestsTotal.Name, "endpoint", endpoint, "status", "error")
		return nil, errors.E(errors.KindNetwork, "http request", err)
	}
	defer resp.Body.Close()
	t.metrics.CounterInc(metrics.HTTPRequestsTotal.Name, "endpoint", endpoint, "status", strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(errors.KindNetwork, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data, requestID)
	}
	return data, nil
}

// apiError decodes the service's {"error": {"code", "message"}} body when
// present.
func apiError(status int, body []byte, requestID string) *errors.APIError {
	e := &errors.APIError{StatusCode: status, RequestID: requestID}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Code != "" {
		e.Code = payload.Error.Code
		e.Message = payload.Error.Message
		return e
	}
	e.Message = truncate(string(body), 200)
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id that is sent as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
