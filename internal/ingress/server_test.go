package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/docstore"
	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/ingress/auth"
	"github.com/janovincze/tributary/internal/ingress/models"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingCapturer struct {
	mu  sync.Mutex
	got []export.Mutation
}

func (r *recordingCapturer) Handle(_ context.Context, m export.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return nil
}

func (r *recordingCapturer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func testConfig() *config.Config {
	return &config.Config{
		Version:     "test",
		Environment: "test",
		Export: config.ExportConfig{
			CollectionPath:  "posts",
			ProjectID:       "demo",
			MaxPayloadBytes: 1 << 20,
		},
		Ingress: config.IngressConfig{
			ListenAddr:   ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			JWTIssuer:    "tributary",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *recordingCapturer, *queue.MemoryQueue) {
	t.Helper()
	capturer := &recordingCapturer{}
	q := queue.NewMemoryQueue(queue.DefaultConfig())
	s := NewServer(ServerConfig{
		Config:      cfg,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Capturer:    capturer,
		Queue:       q,
		DeadLetters: queue.NewMemoryDeadLetters(),
		State:       state.NewMemoryStore("test"),
		Documents:   docstore.NewMemoryStore(),
	})
	return s, capturer, q
}

func request(s *Server, method, target, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServer_HealthEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			w := request(s, http.MethodGet, path, "", "")
			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", w.Code)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestServer_Version(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())

	w := request(s, http.MethodGet, "/v1/version", "", "")
	var resp models.VersionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
}

func TestServer_DocumentWritesCaptured(t *testing.T) {
	tests := []struct {
		name       string
		walEnabled bool
		want       int
	}{
		{"direct capture", false, 1},
		{"wal source observes writes", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Source.WALEnabled = tt.walEnabled
			s, capturer, _ := newTestServer(t, cfg)

			w := request(s, http.MethodPut, "/v1/documents/posts/p1", `{"data":{"title":"hi"}}`, "")
			if w.Code != http.StatusCreated {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			if capturer.count() != tt.want {
				t.Errorf("captured %d, want %d", capturer.count(), tt.want)
			}
		})
	}
}

func TestServer_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Ingress.AuthEnabled = true
	cfg.Ingress.JWTSecret = "secret"
	s, _, q := newTestServer(t, cfg)

	signer, err := auth.NewSigner("secret", "tributary")
	if err != nil {
		t.Fatal(err)
	}
	captureToken, _, _ := signer.Issue("loader", []string{auth.ScopeCapture}, time.Hour)
	adminToken, _, _ := signer.Issue("ops", []string{auth.ScopeAdmin}, time.Hour)

	mutation := `{"after":{"path":"posts/p1","id":"p1","exists":true,"data":{"a":1}}}`

	tests := []struct {
		name   string
		method string
		target string
		body   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"mutation without token", http.MethodPost, "/v1/mutations", mutation, "", http.StatusUnauthorized},
		{"mutation with capture token", http.MethodPost, "/v1/mutations", mutation, captureToken, http.StatusAccepted},
		{"setup with capture token", http.MethodPost, "/v1/setup", "", captureToken, http.StatusForbidden},
		{"setup with admin token", http.MethodPost, "/v1/setup", "", adminToken, http.StatusAccepted},
		{"queues with admin token", http.MethodGet, "/v1/queues", "", adminToken, http.StatusOK},
		{"garbage token", http.MethodGet, "/v1/queues", "", "garbage", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := request(s, tt.method, tt.target, tt.body, tt.token); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if depth, _ := q.Depth(context.Background(), queue.QueueInit); depth != 1 {
		t.Errorf("init depth = %d, want 1", depth)
	}
}

func TestServer_NotFoundRoute(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	if w := request(s, http.MethodGet, "/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
