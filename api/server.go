// Package api serves the local real-time dashboard: a read-only snapshot
// surface, an SSE push channel, and a small set of token-gated, rate-
// limited mutation endpoints over the monitored-symbol set (spec §6).
// Grounded on api/server.go's plain net/http.ServeMux + Go 1.22 method-
// pattern routing and gzip/cors/logging middleware chain, narrowed from
// the teacher's ~20-route stock dashboard to this spec's snapshot/
// history/mutation surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"liqwatch/analyzers"
	"liqwatch/buffer"
	"liqwatch/database"
	"liqwatch/market"
	"liqwatch/realtime"
)

// TierResolver maps a symbol to its configured tier, supplied by the
// config package at wiring time.
type TierResolver func(symbol string) market.Tier

// Server holds every dependency the dashboard surface reads from.
type Server struct {
	store        *database.Store
	buf          *buffer.Manager
	orderFlow    *analyzers.OrderFlowAnalyzer
	broker       *realtime.Broker
	symbols      *SymbolSet
	tierOf       TierResolver
	apiToken     string
	corsOrigins  []string
	mutationRate *perAddressLimiter
}

// Config bundles Server's construction parameters.
type Config struct {
	Store           *database.Store
	Buffer          *buffer.Manager
	OrderFlow       *analyzers.OrderFlowAnalyzer
	Broker          *realtime.Broker
	Symbols         *SymbolSet
	TierOf          TierResolver
	APIToken        string
	CORSOrigins     []string
	RateLimitPerMin int
}

// NewServer builds a dashboard server from cfg (spec default
// rate_limit_per_min=30).
func NewServer(cfg Config) *Server {
	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 30
	}
	return &Server{
		store: cfg.Store, buf: cfg.Buffer, orderFlow: cfg.OrderFlow,
		broker: cfg.Broker, symbols: cfg.Symbols, tierOf: cfg.TierOf,
		apiToken: cfg.APIToken, corsOrigins: cfg.CORSOrigins,
		mutationRate: newPerAddressLimiter(limit, time.Minute),
	}
}

// Start runs the HTTP server on port, blocking until it exits.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/orderflow", s.handleOrderFlow)
	mux.HandleFunc("GET /api/signals/history", s.handleSignalHistory)
	mux.Handle("GET /api/events", s.authMiddleware(http.HandlerFunc(s.handleEvents)))

	mux.Handle("POST /api/symbols", s.authMiddleware(s.rateLimited(http.HandlerFunc(s.handleAddSymbol))))
	mux.Handle("DELETE /api/symbols/{symbol}", s.authMiddleware(s.rateLimited(http.HandlerFunc(s.handleRemoveSymbol))))
	mux.Handle("POST /api/symbols/{symbol}/toggle", s.authMiddleware(s.rateLimited(http.HandlerFunc(s.handleToggleSymbol))))

	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 dashboard API starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// authMiddleware gates a handler behind the shared bearer token, compared
// with constant-time equality (spec §6).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited gates a handler behind the per-remote-address rate limit.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr
		if !s.mutationRate.allow(addr, time.Now()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.broker.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
