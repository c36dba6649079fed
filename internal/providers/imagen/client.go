package imagen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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
var ErrMissingAPIKey = fmt.Errorf("imagen: %w", imagegen.ErrMissingAPIKey)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "imagen-4.0-generate-001"
)

// Options controls how the Imagen client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the Imagen predict endpoint. Generation is synchronous, so
// Submit always yields an immediate artifact and the client has no PollOnce.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount    int    `json:"sampleCount"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	OutputMimeType string `json:"outputMimeType,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
		RAIFilteredReason  string `json:"raiFilteredReason"`
	} `json:"predictions"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs an Imagen client. A nil HTTP client gets a default with
// a generous timeout since generation happens inside the request.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit generates one image and returns it immediately.
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
	payload := predictRequest{
		Instances: []predictInstance{{Prompt: req.Prompt}},
		Parameters: predictParameters{
			SampleCount:    1,
			AspectRatio:    string(req.AspectRatio),
			OutputMimeType: "image/jpeg",
		},
	}
	var decoded predictResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:predict", url.PathEscape(model)), payload, &decoded); err != nil {
		return imagegen.SubmitResult{}, err
	}
	for _, p := range decoded.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.BytesBase64Encoded)
		if err != nil {
			return imagegen.SubmitResult{}, imagegen.Terminal(0, fmt.Errorf("imagen: decode image bytes: %w", err))
		}
		mime := p.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		c.logger.Debug().
			Str("model", model).
			Int("bytes", len(data)).
			Msg("imagen: generated image")
		return imagegen.Immediate(imagegen.Artifact{MIMEType: mime, Data: data}), nil
	}
	reason := "no image returned"
	if len(decoded.Predictions) > 0 && decoded.Predictions[0].RAIFilteredReason != "" {
		reason = decoded.Predictions[0].RAIFilteredReason
	}
	return imagegen.SubmitResult{}, imagegen.Terminal(0, fmt.Errorf("imagen: %s", reason))
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("imagen: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("imagen: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return imagegen.Transient(0, fmt.Errorf("imagen: invoke: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return imagegen.Transient(resp.StatusCode, fmt.Errorf("imagen: read response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(raw))
		var apiErr errorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		err := fmt.Errorf("imagen: status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return imagegen.Transient(resp.StatusCode, err)
		}
		return imagegen.Terminal(resp.StatusCode, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return imagegen.Transient(resp.StatusCode, fmt.Errorf("imagen: decode response: %w", err))
	}
	return nil
}

var _ imagegen.Provider = (*Client)(nil)
