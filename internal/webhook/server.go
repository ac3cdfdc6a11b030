package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stellarlinkco/dayplan/internal/config"
	"github.com/stellarlinkco/dayplan/internal/ingest"
)

const maxBodyBytes = 1 << 20

// Ingestor accepts one calendar push.
type Ingestor interface {
	Ingest(req ingest.Request) (ingest.Result, error)
}

// Server receives calendar pushes and, in webhook mode, Telegram updates.
type Server struct {
	cfg      config.WebhookConfig
	ingestor Ingestor
	mux      *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	addr   string
}

func NewServer(cfg config.WebhookConfig, ingestor Ingestor) *Server {
	s := &Server{
		cfg:      cfg,
		ingestor: ingestor,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle(config.DefaultIngestPath, s.requireAPIKey(http.HandlerFunc(s.handleIngest)))
	return s
}

// Handle mounts an extra handler, e.g. the Telegram webhook intake.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.server = srv
	s.mu.Unlock()

	go func() {
		log.Printf("[webhook] listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[webhook] server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown webhook server: %w", err)
	}
	log.Printf("[webhook] stopped")
	return nil
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(config.DefaultAPIKeyHeader)
		if s.cfg.APIKey == "" || !secureCompare(key, s.cfg.APIKey) {
			log.Printf("[webhook] rejected %s %s from %s: bad api key", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ingest.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := s.ingestor.Ingest(req)
	if err != nil {
		log.Printf("[webhook] ingest for %s failed: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	status := http.StatusOK
	if res.Status == ingest.StatusInvalidDay {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
