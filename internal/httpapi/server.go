// Package httpapi exposes the proxy's HTTP surface: chat completions,
// session, workspace, tool, search and admin endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wishmasterff/animara/internal/agent"
	"github.com/wishmasterff/animara/internal/mcp"
	"github.com/wishmasterff/animara/internal/memory"
	"github.com/wishmasterff/animara/internal/providers"
	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/router"
	"github.com/wishmasterff/animara/internal/session"
	"github.com/wishmasterff/animara/internal/tools"
)

// Version is reported on /health.
const Version = "1.0.0"

// Deps are the startup-composed collaborators the handlers reach.
type Deps struct {
	Engine          *agent.Engine
	Sessions        *session.Manager
	Workspace       *memory.Workspace
	Registry        *tools.Registry
	BM25            *retrieval.BM25Index
	Retriever       *retrieval.Retriever
	Classifier      *router.Classifier
	MCP             *mcp.Manager
	Local           *providers.LocalProvider
	Premium         *providers.PremiumProvider
	DefaultCallerID string
	SearchTopK      int
}

// Server is the HTTP front of the proxy.
type Server struct {
	deps       Deps
	authToken  string
	ready      atomic.Bool
	httpServer *http.Server

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rpm       int
}

// NewServer builds the server. Call SetReady once initialization
// completes; requests before that get 503.
func NewServer(host string, port int, authToken string, rateLimitRPM int, deps Deps) *Server {
	s := &Server{
		deps:      deps,
		authToken: authToken,
		limiters:  make(map[string]*rate.Limiter),
		rpm:       rateLimitRPM,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.requireReady(s.handleChatCompletions))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.requireReady(s.handleModels))
	mux.HandleFunc("GET /session/{caller_id}", s.requireReady(s.handleGetSession))
	mux.HandleFunc("POST /session/{caller_id}/end", s.requireReady(s.handleEndSession))
	mux.HandleFunc("POST /session/{caller_id}/flush", s.requireReady(s.handleFlushSession))
	mux.HandleFunc("GET /workspace", s.requireReady(s.handleWorkspace))
	mux.HandleFunc("POST /workspace/write", s.requireReady(s.handleWorkspaceWrite))
	mux.HandleFunc("GET /tools", s.requireReady(s.handleListTools))
	mux.HandleFunc("POST /tools/{name}", s.requireReady(s.handleExecuteTool))
	mux.HandleFunc("POST /bm25/rebuild", s.requireReady(s.handleRebuildBM25))
	mux.HandleFunc("GET /search", s.requireReady(s.handleSearch))
	mux.HandleFunc("GET /godmode", s.requireReady(s.handleGodmodeStatus))
	mux.HandleFunc("POST /godmode/model", s.requireReady(s.handleGodmodeModel))
	mux.HandleFunc("POST /godmode/refresh", s.requireReady(s.handleGodmodeRefresh))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.withAuth(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetReady flips the server out of the 503 state.
func (s *Server) SetReady() { s.ready.Store(true) }

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.URL.Path != "/health" {
			if extractBearerToken(r) != s.authToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireReady(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "initializing"})
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("%.200v", rec)})
			}
		}()
		next(w, r)
	}
}

// allowCaller applies the per-caller rate limit. rpm <= 0 disables it.
func (s *Server) allowCaller(callerID string) bool {
	if s.rpm <= 0 {
		return true
	}
	s.limiterMu.Lock()
	limiter, ok := s.limiters[callerID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(s.rpm)/60.0), 5)
		s.limiters[callerID] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
