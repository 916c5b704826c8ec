// Package server exposes the dispatch engine over stdio, HTTP and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// Transport labels attached to dispatched calls.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportMCP   = "mcp"
)

// Engine is the dispatch surface every transport drives.
// *dispatch.Dispatcher implements it.
type Engine interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response
	Registry() *tool.Registry
	Stats() dispatch.Stats
}

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Engine Engine
	// Index enables GET /tools/search when set.
	Index *catalog.Index
	// Metrics enables GET /metrics when set.
	Metrics *Metrics
	// MCP is mounted at /mcp when set.
	MCP        http.Handler
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the petalstat HTTP API server.
type Server struct {
	engine     Engine
	index      *catalog.Index
	metrics    *Metrics
	mcp        http.Handler
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		engine:     cfg.Engine,
		index:      cfg.Index,
		metrics:    cfg.Metrics,
		mcp:        cfg.MCP,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the call and catalogue routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /call", s.handleCall)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("GET /tools/search", s.handleSearchTools)
	mux.HandleFunc("GET /tools/{name}", s.handleGetTool)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError wraps non-call failures in the same error body calls use.
type apiError struct {
	Error dispatch.ErrorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, apiError{Error: dispatch.ErrorBody{Kind: kind, Message: message}})
}

func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
