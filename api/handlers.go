package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"liqwatch/analyzers"
)

// handleSnapshot returns the aggregate dashboard snapshot: monitored
// symbols, buffer health, and the most recent signals (spec §6).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	recent, err := s.store.RecentSignals(20)
	if err != nil {
		http.Error(w, "failed to load recent signals", http.StatusInternalServerError)
		return
	}

	symbols := s.symbols.Active()
	flows := make(map[string]analyzers.Summary, len(symbols))
	for _, sym := range symbols {
		flows[sym] = s.orderFlow.Summarize(sym, s.tierOf(sym), now)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generated_at":          now,
		"symbols":               s.symbols.All(),
		"rejected_out_of_order": s.buf.RejectedOutOfOrder(),
		"order_flow":            flows,
		"recent_signals":        recent,
	})
}

// handleOrderFlow returns the order-flow summary for a single symbol,
// given as a query parameter.
func (s *Server) handleOrderFlow(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol query parameter required", http.StatusBadRequest)
		return
	}
	sum := s.orderFlow.Summarize(symbol, s.tierOf(symbol), time.Now())
	writeJSON(w, http.StatusOK, sum)
}

// handleSignalHistory returns the most recent signals, optionally bounded
// by a "limit" query parameter (default 50).
func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	signals, err := s.store.RecentSignals(limit)
	if err != nil {
		http.Error(w, "failed to load signal history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Symbol == "" {
		http.Error(w, "symbol field required", http.StatusBadRequest)
		return
	}
	s.symbols.Add(body.Symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "added", "symbol": body.Symbol})
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	s.symbols.Remove(symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "symbol": symbol})
}

func (s *Server) handleToggleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	enabled := s.symbols.Toggle(symbol)
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "enabled": enabled})
}
