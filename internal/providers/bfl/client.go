package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crafter/internal/imagegen"
	"crafter/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("bfl: %w", imagegen.ErrMissingAPIKey)

const (
	DefaultBaseURL = "http://localhost:3001/api/bfl"
	DefaultModel   = "flux-pro-1.1"
	userAgent      = "Character-Crafter-AI/1.0"

	// DefaultMaxImageBytes bounds a downloaded sample.
	DefaultMaxImageBytes = 32 << 20
)

// Options configures the Black Forest Labs client. BaseURL points at either the
// local relay (`/api/bfl`) or the upstream API (`/v1`).
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	MaxImageBytes  int64
}

// Client submits FLUX generation jobs and polls them.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
	maxImage   int64
}

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

type pollResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

type pollResult struct {
	Sample string `json:"sample"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	maxImage := opts.MaxImageBytes
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		maxImage:   maxImage,
	}
}

// Model returns the default model used when a request does not name one.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit sends one generation request and returns the deferred job id.
// Failures are classified so callers can decide whether to retry.
func (c *Client) Submit(ctx context.Context, req imagegen.Request) (imagegen.SubmitResult, error) {
	if !c.HasCredentials() {
		return imagegen.SubmitResult{}, ErrMissingAPIKey
	}
	if err := req.Validate(); err != nil {
		return imagegen.SubmitResult{}, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	body, err := BuildRequestBody(model, req)
	if err != nil {
		return imagegen.SubmitResult{}, err
	}
	raw, status, err := c.postJSON(ctx, c.baseURL+"/"+url.PathEscape(model), body)
	if err != nil {
		if ctx.Err() != nil {
			return imagegen.SubmitResult{}, ctx.Err()
		}
		return imagegen.SubmitResult{}, imagegen.Transient(0, err)
	}
	if status >= 300 {
		err := fmt.Errorf("bfl: status %d: %s", status, strings.TrimSpace(string(raw)))
		if status >= 500 || status == http.StatusTooManyRequests {
			return imagegen.SubmitResult{}, imagegen.Transient(status, err)
		}
		return imagegen.SubmitResult{}, imagegen.Terminal(status, err)
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return imagegen.SubmitResult{}, imagegen.Transient(status, fmt.Errorf("bfl: decode response: %w", err))
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return imagegen.SubmitResult{}, imagegen.Transient(status, errors.New("bfl: response missing task id"))
	}
	c.logger.Debug().
		Str("model", model).
		Str("job_id", decoded.ID).
		Msg("bfl: generation submitted")
	return imagegen.Deferred(decoded.ID), nil
}

// PollOnce queries the job status once. On Ready the sample image is downloaded.
func (c *Client) PollOnce(ctx context.Context, jobID string) (imagegen.Tick, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: errors.New("bfl: job id is required")}
	}
	if !c.HasCredentials() {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: ErrMissingAPIKey}
	}
	endpoint := c.baseURL + "/get_result?id=" + url.QueryEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: fmt.Errorf("bfl: build poll request: %w", err)}
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: fmt.Errorf("bfl: poll request: %w", err)}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: fmt.Errorf("bfl: read poll response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return imagegen.Tick{}, &imagegen.PollTransportError{
			JobID: jobID,
			Err:   fmt.Errorf("bfl: poll status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}
	var decoded pollResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return imagegen.Tick{}, &imagegen.PollTransportError{JobID: jobID, Err: fmt.Errorf("bfl: decode poll response: %w", err)}
	}

	status := MapStatus(decoded.Status)
	if status != imagegen.JobReady {
		if status == imagegen.JobFailed {
			c.logger.Warn().Str("job_id", jobID).Str("status", decoded.Status).Msg("bfl: job failed")
		}
		return imagegen.Tick{Status: status}, nil
	}

	sample := sampleURL(decoded.Result)
	if sample == "" {
		return imagegen.Tick{}, &imagegen.ArtifactResolutionError{JobID: jobID, Err: errors.New("bfl: ready result has no sample url")}
	}
	artifact, err := c.download(ctx, sample)
	if err != nil {
		return imagegen.Tick{}, &imagegen.ArtifactResolutionError{JobID: jobID, URL: sample, Err: err}
	}
	c.logger.Debug().
		Str("job_id", jobID).
		Int("bytes", len(artifact.Data)).
		Msg("bfl: sample downloaded")
	return imagegen.Tick{Status: imagegen.JobReady, Artifact: &artifact}, nil
}

// ProbeResult describes the upstream answer to a connectivity probe.
type ProbeResult struct {
	StatusCode int
	TaskID     string
	Body       string
}

// Probe submits a small fixed request to verify the key and connectivity.
// Non-2xx answers are reported in the result, not as an error.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	if !c.HasCredentials() {
		return ProbeResult{}, ErrMissingAPIKey
	}
	width, height := 512, 512
	body := RequestBody{
		Prompt:          "test image",
		Width:           &width,
		Height:          &height,
		SafetyTolerance: MaxSafetyTolerance,
		OutputFormat:    "jpeg",
	}
	raw, status, err := c.postJSON(ctx, c.baseURL+"/"+DefaultModel, body)
	if err != nil {
		return ProbeResult{}, err
	}
	result := ProbeResult{StatusCode: status, Body: string(raw)}
	if status < 300 {
		var decoded submitResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return result, fmt.Errorf("bfl: decode probe response: %w", err)
		}
		result.TaskID = decoded.ID
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("bfl: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("bfl: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("bfl: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("bfl: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-key", c.apiKey)
}

func (c *Client) download(ctx context.Context, imageURL string) (imagegen.Artifact, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return imagegen.Artifact{}, fmt.Errorf("bfl: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return imagegen.Artifact{}, fmt.Errorf("bfl: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return imagegen.Artifact{}, fmt.Errorf("bfl: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return imagegen.Artifact{}, fmt.Errorf("bfl: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
	if err != nil {
		return imagegen.Artifact{}, fmt.Errorf("bfl: read image: %w", err)
	}
	if int64(len(data)) > c.maxImage {
		return imagegen.Artifact{}, fmt.Errorf("bfl: image exceeds %d bytes", c.maxImage)
	}
	if len(data) == 0 {
		return imagegen.Artifact{}, errors.New("bfl: empty image body")
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	mime = strings.TrimSpace(mime)
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return imagegen.Artifact{SourceURL: parsed.String(), MIMEType: mime, Data: data}, nil
}

func sampleURL(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var result pollResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ""
	}
	return strings.TrimSpace(result.Sample)
}

// MapStatus folds the provider's status vocabulary onto the three job states.
// Unknown values are treated as still in progress.
func MapStatus(raw string) imagegen.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ready":
		return imagegen.JobReady
	case "failed", "error", "request moderated", "content moderated", "task not found":
		return imagegen.JobFailed
	default:
		return imagegen.JobPending
	}
}
