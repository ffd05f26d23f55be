// Package server exposes a read-only HTTP status surface for the
// running loop, plus the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"intraday-trader/internal/engine"
	"intraday-trader/internal/ledger"
	"intraday-trader/internal/models"
	"intraday-trader/internal/scanner"
)

// Server serves loop status over HTTP. It never mutates trading state.
type Server struct {
	addr    string
	orch    *engine.Orchestrator
	ledger  ledger.DecisionLedger
	scanner *scanner.Scanner
	logger  zerolog.Logger
	http    *http.Server
	now     func() time.Time
}

// New creates a status server.
func New(addr string, orch *engine.Orchestrator, led ledger.DecisionLedger, scan *scanner.Scanner, logger zerolog.Logger) *Server {
	s := &Server{
		addr:    addr,
		orch:    orch,
		ledger:  led,
		scanner: scan,
		logger:  logger.With().Str("component", "server").Logger(),
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ledger/today", s.handleLedgerToday)
	mux.HandleFunc("POST /stocks-to-trade", s.handleStocksToTrade)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("Status server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusReply struct {
	Time        time.Time        `json:"time"`
	State       string           `json:"position_state"`
	Position    *models.Position `json:"position,omitempty"`
	TradesToday int              `json:"trades_today"`
	RealizedPnL float64          `json:"realized_pnl"`
	Halted      bool             `json:"halted"`
	HaltReason  string           `json:"halt_reason,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	halted, reason := s.orch.Halted()
	writeJSON(w, http.StatusOK, statusReply{
		Time:        s.now(),
		State:       string(s.orch.Machine().State()),
		Position:    s.orch.Machine().Position(),
		TradesToday: s.orch.TradesToday(),
		RealizedPnL: s.orch.DayPnL(),
		Halted:      halted,
		HaltReason:  reason,
	})
}

func (s *Server) handleLedgerToday(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.GetDay(r.Context(), s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

type stocksRequest struct {
	AvailableMargin float64 `json:"available_margin"`
}

// handleStocksToTrade runs the affordability-and-ranking scan for a
// hypothetical margin without touching the live loop.
func (s *Server) handleStocksToTrade(w http.ResponseWriter, r *http.Request) {
	var req stocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AvailableMargin <= 0 {
		writeError(w, http.StatusBadRequest, "available_margin must be positive")
		return
	}

	instrument, err := s.scanner.Pick(r.Context(), req.AvailableMargin)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":     instrument.Symbol,
		"exchange":   instrument.Exchange,
		"last_price": instrument.LastPrice,
		"lot_size":   instrument.LotSize,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
