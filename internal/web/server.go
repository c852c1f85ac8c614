// Package web serves the terminal state as JSON endpoints and a server-sent
// event stream.
package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/clients"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/market/indicators"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/matcher"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/positions"
	"github.com/cuong-tay/web-trade-crypto-sub000/internal/services/stream"
)

const (
	heartbeatInterval = 30 * time.Second
	maxReplay         = 100
	defaultCertCache  = "cert-cache"
	switchTimeout     = 30 * time.Second
)

type terminal interface {
	Selection() (domain.Pair, domain.Granularity)
	MarketType() domain.MarketType
	Series() []domain.Bar
	Indicators() []indicators.Point
	FeedUnavailable() bool
	LatestPrice() (decimal.Decimal, bool)
	Wallet() domain.WalletSnapshot
	RefreshWallet(ctx context.Context) error
	Orders() []domain.PendingOrder
	TrackOrder(order domain.PendingOrder) error
	CancelOrder(ctx context.Context, id string) error
	ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal) (domain.ExecutionResult, error)
	SwitchInstrument(ctx context.Context, instrument domain.Pair, granularity domain.Granularity) error
	Subscribe(ctx context.Context) internal.Updates
	Journal() internal.WalletJournal
}

// Server exposes the terminal over HTTP.
type Server struct {
	Addr      string
	terminal  terminal
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewServer creates a new web server instance.
func NewServer(addr string, t terminal, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, terminal: t, logger: logger, heartbeat: heartbeatInterval}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /bars", s.handleBars)
	mux.HandleFunc("GET /indicators", s.handleIndicators)
	mux.HandleFunc("GET /wallet", s.handleWallet)
	mux.HandleFunc("POST /wallet/refresh", s.handleWalletRefresh)
	mux.HandleFunc("GET /orders", s.handleOrders)
	mux.HandleFunc("POST /orders", s.handleTrackOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /positions/{id}/close", s.handleClosePosition)
	mux.HandleFunc("POST /instrument", s.handleInstrument)
	mux.HandleFunc("GET /stream", s.handleStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates. A plain HTTP
// server on port 80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCache
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("ACME server shutdown failed", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("HTTPS server shutdown failed", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ACME server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Web server listening with TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

type statusResponse struct {
	Instrument      string             `json:"instrument"`
	Granularity     domain.Granularity `json:"granularity"`
	MarketType      domain.MarketType  `json:"market_type"`
	Price           *decimal.Decimal   `json:"price,omitempty"`
	FeedUnavailable bool               `json:"feed_unavailable"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	instrument, granularity := s.terminal.Selection()
	resp := statusResponse{
		Instrument:      instrument.String(),
		Granularity:     granularity,
		MarketType:      s.terminal.MarketType(),
		FeedUnavailable: s.terminal.FeedUnavailable(),
	}
	if price, ok := s.terminal.LatestPrice(); ok {
		resp.Price = &price
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type barsResponse struct {
	Instrument  string             `json:"instrument"`
	Granularity domain.Granularity `json:"granularity"`
	Bars        []domain.Bar       `json:"bars"`
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	instrument, granularity := s.terminal.Selection()
	s.writeJSON(w, http.StatusOK, barsResponse{
		Instrument:  instrument.String(),
		Granularity: granularity,
		Bars:        tail(s.terminal.Series(), limit),
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tail(s.terminal.Indicators(), limit))
}

func (s *Server) handleWallet(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.terminal.Wallet())
}

func (s *Server) handleWalletRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.terminal.RefreshWallet(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.terminal.Wallet())
}

type orderView struct {
	domain.PendingOrder
	Instrument   string          `json:"instrument"`
	EstimatedFee decimal.Decimal `json:"estimated_fee"`
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	orders := s.terminal.Orders()
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			PendingOrder: o,
			Instrument:   o.Instrument.String(),
			EstimatedFee: domain.EstimatedFee(o.Side, o.Quantity, o.LimitPrice),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

// trackRequest is a limit order the trading backend has just acknowledged.
type trackRequest struct {
	ID        string          `json:"id"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Leverage  int             `json:"leverage"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Server) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode order"))
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	instrument, _ := s.terminal.Selection()
	if req.Pair != "" {
		pair, err := domain.ParsePair(req.Pair)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if pair != instrument {
			s.writeError(w, http.StatusConflict, errors.Errorf("order %s is for %s, terminal follows %s", req.ID, pair, instrument))
			return
		}
	}
	if side.MarketType() != s.terminal.MarketType() {
		s.writeError(w, http.StatusConflict, errors.Errorf("%s order on a %s terminal", side, s.terminal.MarketType()))
		return
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	order := domain.PendingOrder{
		ID:         req.ID,
		Instrument: instrument,
		Side:       side,
		LimitPrice: req.Price,
		Quantity:   req.Quantity,
		Leverage:   req.Leverage,
		Status:     domain.OrderStatusPending,
		CreatedAt:  createdAt,
	}
	if err := s.terminal.TrackOrder(order); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, orderView{
		PendingOrder: order,
		Instrument:   instrument.String(),
		EstimatedFee: domain.EstimatedFee(side, order.Quantity, order.LimitPrice),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.terminal.CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closeRequest struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
}

type closeResponse struct {
	Status string                `json:"status"`
	Wallet domain.BalanceUpdates `json:"wallet_updates,omitempty"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	// an empty body closes at the latest price
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode close request"))
		return
	}

	result, err := s.terminal.ClosePosition(r.Context(), r.PathValue("id"), req.ExitPrice)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, closeResponse{Status: result.Status, Wallet: result.Wallet})
}

type instrumentRequest struct {
	Pair        string `json:"pair"`
	Granularity string `json:"granularity"`
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode instrument request"))
		return
	}

	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var granularity domain.Granularity
	if req.Granularity != "" {
		if granularity, err = domain.ParseGranularity(req.Granularity); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	// a client that goes away must not abort the switch half way
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), switchTimeout)
	defer cancel()

	if err := s.terminal.SwitchInstrument(ctx, pair, granularity); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.handleStatus(w, r)
}

// handleStream pushes price, feed, order and wallet events. Wallet snapshots
// carry their journal index as the event id so a reconnecting client resumes
// from Last-Event-ID.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ctx := r.Context()
	updates := s.terminal.Subscribe(ctx)
	journal := s.terminal.Journal()
	sse := &eventWriter{w: w, flusher: flusher}

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	sendWallet := func(snapshot domain.WalletSnapshot) {
		if journal != nil {
			records, err := journal.SnapshotsAfter(lastIndex)
			if err != nil {
				s.logger.Warn("Wallet journal read failed", zap.Error(err))
			} else if len(records) > 0 {
				if len(records) > maxReplay {
					records = records[len(records)-maxReplay:]
				}
				for _, rec := range records {
					sse.send(strconv.FormatUint(rec.Index, 10), "wallet", rec.Wallet)
					lastIndex = rec.Index
				}
				return
			}
		}
		// journal disabled, or the snapshot was not persisted
		if snapshot != nil {
			sse.send("", "wallet", snapshot)
		}
	}

	sendWallet(s.terminal.Wallet())
	if price, ok := s.terminal.LatestPrice(); ok {
		instrument, _ := s.terminal.Selection()
		sse.send("", "price", stream.PriceUpdate{Instrument: instrument.String(), Price: price, Time: time.Now()})
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			sse.comment("ping")
		case p, ok := <-updates.Prices:
			if !ok {
				return
			}
			sse.send("", "price", p)
		case e, ok := <-updates.Feed:
			if !ok {
				return
			}
			sse.send("", "feed", e)
		case e, ok := <-updates.Orders:
			if !ok {
				return
			}
			sse.send("", "order", orderEventView{OrderEvent: e, Instrument: e.Order.Instrument.String()})
		case snapshot, ok := <-updates.Wallet:
			if !ok {
				return
			}
			sendWallet(snapshot)
		}
		if sse.err != nil {
			s.logger.Debug("Stream client gone", zap.Error(sse.err))
			return
		}
	}
}

type orderEventView struct {
	domain.OrderEvent
	Instrument string `json:"instrument"`
}

type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func (e *eventWriter) send(id, event string, v any) {
	if e.err != nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.err = err
		return
	}
	if id != "" {
		fmt.Fprintf(e.w, "id: %s\n", id)
	}
	fmt.Fprintf(e.w, "event: %s\n", event)
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		e.err = err
		return
	}
	e.flusher.Flush()
}

func (e *eventWriter) comment(text string) {
	if e.err != nil {
		return
	}
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		e.err = err
		return
	}
	e.flusher.Flush()
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Writing response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, matcher.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, matcher.ErrOrderFilling),
		errors.Is(err, domain.ErrOrderNotPending),
		errors.Is(err, positions.ErrNoPrice):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownGranularity):
		return http.StatusBadRequest
	case clients.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

// tail returns the last n items, or all of them when n is zero.
func tail[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}

// parseLastEventID reads the SSE resume point from the Last-Event-ID header,
// falling back to a query parameter for manual reconnects.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
