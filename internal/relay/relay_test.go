package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newRelay(t *testing.T, target string, timeout time.Duration) http.Handler {
	t.Helper()
	srv, err := New(Options{
		BFLTargetURL:   target,
		AllowedOrigins: []string{"http://localhost:3000"},
		ProxyTimeout:   timeout,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC) }
	return srv.Router()
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestProxyRewritesPathAndHost(t *testing.T) {
	var gotPath, gotQuery, gotHost, gotKey, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotHost, gotKey = r.URL.Path, r.URL.RawQuery, r.Host, r.Header.Get("x-key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"task-1"}`))
	}))
	defer upstream.Close()

	h := newRelay(t, upstream.URL, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/bfl/flux-pro-1.1", strings.NewReader(`{"prompt":"a fox"}`))
	req.Header.Set("x-key", "secret")
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	u, _ := url.Parse(upstream.URL)
	if gotPath != "/v1/flux-pro-1.1" || gotHost != u.Host || gotKey != "secret" || gotBody != `{"prompt":"a fox"}` {
		t.Fatalf("upstream saw path=%s host=%s key=%s body=%s", gotPath, gotHost, gotKey, gotBody)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing cors header")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/bfl/get_result?id=task-1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if gotPath != "/v1/get_result" || gotQuery != "id=task-1" {
		t.Fatalf("poll forwarded to %s?%s", gotPath, gotQuery)
	}
}

func TestProxyConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	h := newRelay(t, target, time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bfl/flux-pro-1.1", strings.NewReader(`{}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec.Body)
	if body["code"] != "ECONNREFUSED" || body["timestamp"] != "2026-10-14T09:30:00.000Z" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(body["error"].(string), "refused the connection") || body["details"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestProxyTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	h := newRelay(t, upstream.URL, 50*time.Millisecond)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bfl/get_result?id=x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec.Body); body["code"] != "ETIMEDOUT" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	h := newRelay(t, "https://api.bfl.ml", time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	body := decode(t, rec.Body)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["timestamp"] != "2026-10-14T09:30:00.000Z" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
}

func TestTestBFL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/flux-pro-1.1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] != "test image" || body["width"] != float64(512) || body["height"] != float64(512) {
			t.Errorf("probe body = %v", body)
		}
		if r.Header.Get("x-key") == "good" {
			_, _ = w.Write([]byte(`{"id":"task-42"}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
	}))
	defer upstream.Close()
	h := newRelay(t, upstream.URL, time.Second)

	post := func(payload string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test-bfl", strings.NewReader(payload)))
		return rec.Code, decode(t, rec.Body)
	}

	code, body := post(`{}`)
	if code != http.StatusBadRequest || body["error"] != "API key is required" {
		t.Fatalf("missing key = %d %v", code, body)
	}

	code, body = post(`{"apiKey":"good"}`)
	if code != http.StatusOK || body["success"] != true || body["taskId"] != "task-42" || body["message"] != "BFL API connection successful" {
		t.Fatalf("good key = %d %v", code, body)
	}

	code, body = post(`{"apiKey":"bad"}`)
	if code != http.StatusOK || body["success"] != false || body["status"] != float64(403) || body["message"] != "BFL API returned error" {
		t.Fatalf("bad key = %d %v", code, body)
	}
	if !strings.Contains(body["error"].(string), "Not authenticated") {
		t.Fatalf("error body = %v", body["error"])
	}
}

func TestNewRejectsBadTarget(t *testing.T) {
	if _, err := New(Options{BFLTargetURL: "not a url"}); err == nil {
		t.Fatalf("expected error")
	}
}
