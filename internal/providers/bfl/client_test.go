package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crafter/internal/imagegen"
	"crafter/internal/notify"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestBuildRequestBodyPerTier(t *testing.T) {
	seed := 42
	base := imagegen.Request{Prompt: "a fox", AspectRatio: imagegen.AspectLandscape, SafetyTolerance: 2}
	tests := []struct {
		name    string
		model   string
		seed    *int
		present []string
		absent  []string
	}{
		{
			name:    "ultra",
			model:   "flux-pro-1.1-ultra",
			present: []string{"prompt", "aspect_ratio", "safety_tolerance", "output_format"},
			absent:  []string{"width", "height", "steps", "guidance", "prompt_upsampling", "seed"},
		},
		{
			name:    "pro 1.1",
			model:   "flux-pro-1.1",
			present: []string{"prompt", "width", "height", "prompt_upsampling", "safety_tolerance", "output_format"},
			absent:  []string{"aspect_ratio", "steps", "guidance", "seed"},
		},
		{
			name:    "standard with seed",
			model:   "flux-dev",
			seed:    &seed,
			present: []string{"prompt", "width", "height", "steps", "guidance", "prompt_upsampling", "seed"},
			absent:  []string{"aspect_ratio"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			req.Seed = tc.seed
			body, err := BuildRequestBody(tc.model, req)
			if err != nil {
				t.Fatalf("BuildRequestBody: %v", err)
			}
			raw, _ := json.Marshal(body)
			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for _, key := range tc.present {
				if _, ok := fields[key]; !ok {
					t.Fatalf("%s missing from %s", key, raw)
				}
			}
			for _, key := range tc.absent {
				if _, ok := fields[key]; ok {
					t.Fatalf("%s should be omitted from %s", key, raw)
				}
			}
			if fields["output_format"] != "jpeg" || fields["safety_tolerance"] != float64(2) {
				t.Fatalf("fixed fields wrong: %s", raw)
			}
		})
	}
}

func TestBuildRequestBodyUltraUsesNearestRatio(t *testing.T) {
	body, err := BuildRequestBody("flux-pro-1.1-ultra", imagegen.Request{Prompt: "x", AspectRatio: imagegen.AspectTall, SafetyTolerance: 6})
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}
	if body.AspectRatio != "3:4" {
		t.Fatalf("aspect_ratio = %q, want 3:4", body.AspectRatio)
	}
}

func TestBuildRequestBodyStandardDefaults(t *testing.T) {
	body, err := BuildRequestBody("flux-pro", imagegen.Request{Prompt: "x", AspectRatio: imagegen.AspectSquare, SafetyTolerance: 6})
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}
	if *body.Steps != 20 || *body.Guidance != 3.5 {
		t.Fatalf("steps/guidance = %d/%v", *body.Steps, *body.Guidance)
	}
	if *body.Width != 1024 || *body.Height != 1024 {
		t.Fatalf("size = %dx%d", *body.Width, *body.Height)
	}
}

func TestBuildRequestBodyRejectsToleranceOutOfRange(t *testing.T) {
	if _, err := BuildRequestBody("flux-pro", imagegen.Request{Prompt: "x", AspectRatio: imagegen.AspectSquare, SafetyTolerance: 7}); err == nil {
		t.Fatalf("expected error for tolerance 7")
	}
}

func TestSubmitFoxScenario(t *testing.T) {
	var captured map[string]any
	var path, key string
	client := NewClient(Options{
		APIKey:  "secret",
		BaseURL: "http://relay.test/api/bfl",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			path = r.URL.Path
			key = r.Header.Get("x-key")
			if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			return jsonResponse(http.StatusOK, `{"id":"job-1"}`), nil
		})},
	})

	res, err := client.Submit(context.Background(), imagegen.Request{
		Prompt:          "a fox",
		Model:           "flux-pro-1.1",
		AspectRatio:     imagegen.AspectLandscape,
		SafetyTolerance: 6,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id, ok := res.JobID(); !ok || id != "job-1" {
		t.Fatalf("job id = %q, %v", id, ok)
	}
	if path != "/api/bfl/flux-pro-1.1" || key != "secret" {
		t.Fatalf("path = %s key = %s", path, key)
	}
	if captured["width"] != float64(1440) || captured["height"] != float64(810) {
		t.Fatalf("size fields = %v x %v", captured["width"], captured["height"])
	}
	if _, ok := captured["aspect_ratio"]; ok {
		t.Fatalf("aspect_ratio should be absent")
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transport error
		transient bool
	}{
		{name: "server error", status: 502, body: "bad gateway", transient: true},
		{name: "rate limited", status: 429, body: "slow down", transient: true},
		{name: "malformed success", status: 200, body: "not json", transient: true},
		{name: "missing id", status: 200, body: `{}`, transient: true},
		{name: "network", transport: errors.New("connection reset"), transient: true},
		{name: "bad request", status: 422, body: `{"detail":"invalid"}`, transient: false},
		{name: "unauthorized", status: 403, body: "forbidden", transient: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(Options{
				APIKey: "k",
				HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
					if tc.transport != nil {
						return nil, tc.transport
					}
					return jsonResponse(tc.status, tc.body), nil
				})},
			})
			_, err := client.Submit(context.Background(), imagegen.Request{Prompt: "p", AspectRatio: imagegen.AspectSquare, SafetyTolerance: 6})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := imagegen.IsTransient(err); got != tc.transient {
				t.Fatalf("transient = %v, want %v (err %v)", got, tc.transient, err)
			}
		})
	}
}

func TestSubmitWithoutKeyIsTerminal(t *testing.T) {
	_, err := NewClient(Options{}).Submit(context.Background(), imagegen.Request{Prompt: "p", AspectRatio: imagegen.AspectSquare})
	if !errors.Is(err, imagegen.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if imagegen.IsTransient(err) {
		t.Fatalf("missing key must not be retried")
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]imagegen.JobStatus{
		"Ready":             imagegen.JobReady,
		"Pending":           imagegen.JobPending,
		"Queued":            imagegen.JobPending,
		"Processing":        imagegen.JobPending,
		"SomethingNew":      imagegen.JobPending,
		"Error":             imagegen.JobFailed,
		"Failed":            imagegen.JobFailed,
		"Request Moderated": imagegen.JobFailed,
		"Content Moderated": imagegen.JobFailed,
		"Task not found":    imagegen.JobFailed,
	}
	for raw, want := range tests {
		if got := MapStatus(raw); got != want {
			t.Fatalf("MapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestPollOnceReadyDownloadsSample(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	client := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Host == "x" && r.URL.Path == "/y.jpg" {
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Content-Type": []string{"image/jpeg"}},
					Body:       io.NopCloser(bytes.NewReader(image)),
				}, nil
			}
			if got := r.URL.Query().Get("id"); got != "job-1" {
				t.Fatalf("poll id = %q", got)
			}
			return jsonResponse(http.StatusOK, `{"status":"Ready","result":{"sample":"https://x/y.jpg"}}`), nil
		})},
	})

	tick, err := client.PollOnce(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if tick.Status != imagegen.JobReady || tick.Artifact == nil {
		t.Fatalf("tick = %+v", tick)
	}
	if !bytes.Equal(tick.Artifact.Data, image) || tick.Artifact.SourceURL != "https://x/y.jpg" {
		t.Fatalf("artifact = %+v", tick.Artifact)
	}
}

func TestPollOnceErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    roundTripFunc
		maxImage   int64
		resolution bool
	}{
		{
			name: "non 2xx",
			handler: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusInternalServerError, "oops"), nil
			},
		},
		{
			name: "undecodable",
			handler: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, "<html>"), nil
			},
		},
		{
			name: "network",
			handler: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp: refused")
			},
		},
		{
			name: "ready without sample",
			handler: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"status":"Ready","result":null}`), nil
			},
			resolution: true,
		},
		{
			name: "sample download fails",
			handler: func(r *http.Request) (*http.Response, error) {
				if r.URL.Host == "cdn.test" {
					return jsonResponse(http.StatusNotFound, "gone"), nil
				}
				return jsonResponse(http.StatusOK, `{"status":"Ready","result":{"sample":"https://cdn.test/a.jpg"}}`), nil
			},
			resolution: true,
		},
		{
			name: "sample over size limit",
			handler: func(r *http.Request) (*http.Response, error) {
				if r.URL.Host == "cdn.test" {
					return &http.Response{
						StatusCode: http.StatusOK,
						Header:     http.Header{"Content-Type": []string{"image/jpeg"}},
						Body:       io.NopCloser(strings.NewReader("too-large")),
					}, nil
				}
				return jsonResponse(http.StatusOK, `{"status":"Ready","result":{"sample":"https://cdn.test/a.jpg"}}`), nil
			},
			maxImage:   4,
			resolution: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(Options{APIKey: "k", HTTPClient: &http.Client{Transport: tc.handler}, MaxImageBytes: tc.maxImage})
			_, err := client.PollOnce(context.Background(), "job-1")
			var transportErr *imagegen.PollTransportError
			var resolveErr *imagegen.ArtifactResolutionError
			switch {
			case tc.resolution && !errors.As(err, &resolveErr):
				t.Fatalf("err = %v, want ArtifactResolutionError", err)
			case !tc.resolution && !errors.As(err, &transportErr):
				t.Fatalf("err = %v, want PollTransportError", err)
			}
		})
	}
}

func TestProbeReportsUpstreamStatus(t *testing.T) {
	var captured RequestBody
	client := NewClient(Options{
		APIKey:  "k",
		BaseURL: "https://api.bfl.ml/v1",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/flux-pro-1.1" {
				t.Fatalf("probe path = %s", r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&captured)
			return jsonResponse(http.StatusOK, `{"id":"task-9"}`), nil
		})},
	})
	res, err := client.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.TaskID != "task-9" || res.StatusCode != http.StatusOK {
		t.Fatalf("result = %+v", res)
	}
	if captured.Width == nil || *captured.Width != 512 || captured.Prompt != "test image" {
		t.Fatalf("probe body = %+v", captured)
	}
}

type countingNotifier struct {
	mu     sync.Mutex
	levels []notify.Level
}

func (c *countingNotifier) Notify(level notify.Level, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, level)
}

func TestCoordinatorWithClientEndToEnd(t *testing.T) {
	var polls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/bfl/flux-pro-1.1":
			_, _ = w.Write([]byte(`{"id":"job-1"}`))
		case r.URL.Path == "/api/bfl/get_result":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":"Pending"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"Ready","result":{"sample":"` + server.URL + `/y.jpg"}}`))
		case r.URL.Path == "/y.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: server.URL + "/api/bfl"})
	rec := &countingNotifier{}
	coord := imagegen.NewCoordinator(imagegen.WithRetry(client, imagegen.DefaultRetryPolicy, nil), imagegen.Options{
		Notifier:     rec,
		PollInterval: time.Millisecond,
	})

	var out imagegen.Outcome
	select {
	case out = <-coord.Start(context.Background(), imagegen.Request{Prompt: "a fox", Model: "flux-pro-1.1", AspectRatio: imagegen.AspectLandscape, SafetyTolerance: 6}):
	case <-time.After(5 * time.Second):
		t.Fatalf("generation did not finish")
	}
	if out.Lifecycle != imagegen.LifecycleSuccess {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Artifact.DataURL() != "data:image/jpeg;base64,anBlZw==" {
		t.Fatalf("data url = %s", out.Artifact.DataURL())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	success := 0
	for _, l := range rec.levels {
		if l == notify.LevelSuccess {
			success++
		}
	}
	if success != 1 {
		t.Fatalf("success notifications = %d, want 1", success)
	}
}
