// Package relay is the local HTTP server that forwards browser and CLI image
// requests to provider APIs, adding CORS and uniform JSON transport errors.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"crafter/internal/infra"
	"crafter/internal/middleware"
	"crafter/internal/providers/bfl"
)

// Options configures the relay router.
type Options struct {
	BFLTargetURL    string
	AllowedOrigins  []string
	ProxyTimeout    time.Duration
	RateLimitPerMin int
	// Transport overrides the outbound transport for proxied and probe requests.
	Transport http.RoundTripper
	Logger    *infra.Logger
}

// Server holds the relay's routes and upstreams.
type Server struct {
	upstreams []Upstream
	bflTarget *url.URL
	client    *http.Client
	timeout   time.Duration
	logger    *infra.Logger
	now       func() time.Time
	opts      Options
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	target, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BFLTargetURL), "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("relay: invalid bfl target %q", opts.BFLTargetURL)
	}
	timeout := opts.ProxyTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Server{
		upstreams: []Upstream{{Name: "BFL", Prefix: "/api/bfl", Target: target, RewritePrefix: "/v1"}},
		bflTarget: target,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		timeout:   timeout,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		now:       time.Now,
		opts:      opts,
	}, nil
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*s.logger),
		middleware.CORS(s.opts.AllowedOrigins),
		middleware.RateLimit(s.opts.RateLimitPerMin, time.Minute),
	)

	r.Get("/health", s.health)
	r.Post("/test-bfl", s.testBFL)

	for _, u := range s.upstreams {
		proxy := newProxy(u, s.client.Transport, s.timeout, s.logger, s.now)
		r.Handle(u.Prefix, proxy)
		r.Handle(u.Prefix+"/*", proxy)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": timestamp(s.now())})
}

type testRequest struct {
	APIKey string `json:"apiKey"`
}

type testResponse struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// testBFL submits a tiny generation directly to the provider to check the key.
func (s *Server) testBFL(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)
	if strings.TrimSpace(req.APIKey) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "API key is required"})
		return
	}
	s.logger.Info().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Int("key_length", len(req.APIKey)).
		Msg("relay: testing bfl connection")

	client := bfl.NewClient(bfl.Options{
		APIKey:     req.APIKey,
		BaseURL:    s.bflTarget.String() + "/v1",
		HTTPClient: s.client,
		Logger:     s.logger,
	})
	res, err := client.Probe(r.Context())
	if err != nil {
		code, _ := classify("BFL", err)
		writeJSON(w, http.StatusInternalServerError, testResponse{
			Success: false,
			Error:   err.Error(),
			Code:    code,
			Message: "Failed to test BFL API connection",
		})
		return
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		writeJSON(w, http.StatusOK, testResponse{
			Success: true,
			Status:  res.StatusCode,
			TaskID:  res.TaskID,
			Message: "BFL API connection successful",
		})
		return
	}
	writeJSON(w, http.StatusOK, testResponse{
		Success: false,
		Status:  res.StatusCode,
		Error:   res.Body,
		Message: "BFL API returned error",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
