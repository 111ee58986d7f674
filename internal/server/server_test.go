package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ayusman/stationeye/internal/metrics"
)

func serve(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := New(Config{Session: "session-1"})

	rec := serve(s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var health struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Uptime == "" || health.SessionID != "session-1" {
		t.Errorf("unexpected health %+v", health)
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if rec := serve(s, method, "/api/health", nil); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s /api/health = %d, want %d", method, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>stationeye</body></html>"
	css := "canvas { position: absolute; }"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "viewer.css"), []byte(css), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		static string
		path   string
		code   int
		body   string
	}{
		{"index at root", dir, "/", http.StatusOK, index},
		{"asset", dir, "/viewer.css", http.StatusOK, css},
		{"missing asset", dir, "/missing.html", http.StatusNotFound, ""},
		{"unknown api path", dir, "/api/nonexistent", http.StatusNotFound, ""},
		{"no static dir", "", "/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(New(Config{StaticDir: tt.static}), http.MethodGet, tt.path, nil)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestServer_CORS(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"http://viewer.local"}})

	rec := serve(s, http.MethodGet, "/api/health", http.Header{"Origin": {"http://viewer.local"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://viewer.local" {
		t.Errorf("expected allowed origin header, got %q", got)
	}

	rec = serve(s, http.MethodGet, "/api/health", http.Header{"Origin": {"http://elsewhere.example"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header for foreign origin, got %q", got)
	}
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.FramesCaptured.Add(3)

	rec := serve(New(Config{Metrics: m}), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "stationeye_frames_captured_total 3") {
		t.Errorf("metrics output missing frames counter:\n%s", rec.Body.String())
	}
}

func TestServer_UnconfiguredRoutes(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/source", "/api/upload", "/api/pause", "/api/settings", "/api/stats", "/api/session", "/api/stream", "/api/events", "/metrics"} {
		if rec := serve(s, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}
