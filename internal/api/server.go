package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/model"
)

// Commander accepts commands for a bridge handle.
type Commander interface {
	Submit(cmd model.Command) error
	Encoder() *bridge.Encoder
}

// Config holds the server settings.
type Config struct {
	Address            string
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the REST API + WebSocket server.
type Server struct {
	commands Commander
	recent   *Recent
	status   func() any
	gatherer prometheus.Gatherer
	limits   *limiterStore
	hub      *Hub
	logger   *zap.Logger
	mux      *http.ServeMux
	srv      *http.Server
	address  string
	ctx      context.Context
}

// NewServer creates an API server. recent may be nil.
func NewServer(cfg Config, commands Commander, recent *Recent, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recent == nil {
		recent = NewRecent(1)
	}
	s := &Server{
		commands: commands,
		recent:   recent,
		gatherer: prometheus.DefaultGatherer,
		limits:   newLimiterStore(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		hub:      NewHub(logger),
		logger:   logger,
		mux:      http.NewServeMux(),
		address:  cfg.Address,
		ctx:      context.Background(),
	}
	s.registerRoutes()
	return s
}

// Hub returns the WebSocket hub for broadcasting.
func (s *Server) Hub() *Hub {
	return s.hub
}

// SetStatus sets the function serving /api/status.
func (s *Server) SetStatus(fn func() any) {
	s.status = fn
}

// SetGatherer sets the registry served on /metrics.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	if g != nil {
		s.gatherer = g
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/records", s.handleRecords)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// Run starts the HTTP server and the WebSocket hub. It blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	go s.hub.Run(ctx)

	s.srv = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_server_started", zap.String("address", s.address))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, model.APIResponse{
			Error:     "status unavailable",
			Timestamp: time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      s.status(),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, model.APIResponse{
				Error:     "invalid limit " + strconv.Quote(v),
				Timestamp: time.Now(),
			})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      s.recent.Snapshot(limit),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, model.APIResponse{
			Error:     "POST required",
			Timestamp: time.Now(),
		})
		return
	}
	if !s.limits.allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, model.APIResponse{
			Error:     "rate limit exceeded",
			Timestamp: time.Now(),
		})
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.APIResponse{
			Error:     "invalid JSON: " + err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	cmd, err := req.command(s.commands.Encoder())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, model.APIResponse{
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	if err := s.commands.Submit(cmd); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, bridge.ErrClosed) {
			status = http.StatusGone
		}
		writeJSON(w, status, model.APIResponse{
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	s.logger.Info("api_command",
		zap.String("type", string(cmd.Kind())),
		zap.String("remote", clientKey(r)),
	)

	writeJSON(w, http.StatusAccepted, model.APIResponse{
		Data:      map[string]string{"status": "queued", "type": string(cmd.Kind())},
		Timestamp: time.Now(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleUpgrade(s.ctx, w, r)
}

// commandRequest is the JSON body of POST /api/command.
type commandRequest struct {
	Type           model.CommandKind `json:"type"`
	ReqID          int               `json:"reqId"`
	ScanCode       string            `json:"scanCode"`
	LocationCode   string            `json:"locationCode"`
	PriceAbove     float64           `json:"priceAbove"`
	Symbol         string            `json:"symbol"`
	EndDateTime    string            `json:"endDateTime"`
	DurationStr    string            `json:"durationStr"`
	BarSizeSetting string            `json:"barSizeSetting"`
	WhatToShow     string            `json:"whatToShow"`
	UseRTH         *int              `json:"useRTH"`
	AccountCode    string            `json:"accountCode"`
}

// command encodes the request. An omitted useRTH means regular trading hours.
func (c commandRequest) command(enc *bridge.Encoder) (model.Command, error) {
	switch c.Type {
	case model.CommandDisconnect:
		return enc.Disconnect(), nil
	case model.CommandStartScanner:
		return enc.StartScanner(c.ReqID, c.ScanCode, c.LocationCode, c.PriceAbove), nil
	case model.CommandCancelScanner:
		return enc.CancelScanner(c.ReqID), nil
	case model.CommandRequestHistoricalData:
		useRTH := 1
		if c.UseRTH != nil {
			useRTH = *c.UseRTH
		}
		return enc.HistoricalData(c.ReqID, c.Symbol, c.EndDateTime, c.DurationStr, c.BarSizeSetting, c.WhatToShow, useRTH), nil
	case model.CommandRequestAccountData:
		return enc.AccountData(c.AccountCode), nil
	case "":
		return nil, errors.New("command type is required")
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
