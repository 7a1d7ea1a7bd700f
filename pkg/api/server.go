package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdex/pkg/app/core/engine"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = 0

// Server handles REST API and WebSocket connections
type Server struct {
	app       *dex.App
	router    *mux.Router
	hub       *Hub // WebSocket hub
	logger    *zap.Logger
	gatherer  prometheus.Gatherer
	faucet    *custody.Vault // nil disables POST /faucet
	faucetMax int64
	origins   []string
}

// Option configures a Server
type Option func(*Server)

// WithFaucet enables POST /api/v1/faucet on a devnet vault, minting at most
// max per request
func WithFaucet(v *custody.Vault, max int64) Option {
	return func(s *Server) {
		s.faucet = v
		s.faucetMax = max
	}
}

// WithGatherer serves the collectors of g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithCORSOrigins sets the allowed browser origins
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a new API server
func NewServer(app *dex.App, hub *Hub, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		app:      app,
		router:   mux.NewRouter(),
		hub:      hub,
		logger:   logger,
		gatherer: prometheus.DefaultGatherer,
		origins:  []string{"http://localhost:3000", "http://localhost:3001"},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID, s.logRequests)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Assets
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/assets", s.handleRegisterAsset).Methods("POST")

	// Custody
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// Orders
	api.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")

	// Books (depth before {side} so it is not taken for a side)
	api.HandleFunc("/books/{ticker}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/books/{ticker}/{side}", s.handleGetOrders).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{ticker}", s.handleGetBalance).Methods("GET")

	// Markets
	api.HandleFunc("/markets/{ticker}/trades", s.handleGetTrades).Methods("GET")

	// State
	api.HandleFunc("/state/hash", s.handleStateHash).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves HTTP on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_server_starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("api_server_stopping")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.app.ListAssets()
	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = toAssetInfo(a)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	ticker, err := asset.ParseTicker(req.Ticker)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var token common.Address
	if req.Token != "" {
		if !common.IsHexAddress(req.Token) {
			respondError(w, r, http.StatusBadRequest, "invalid token address", req.Token)
			return
		}
		token = common.HexToAddress(req.Token)
	}

	if err := s.app.RegisterAsset(ticker, token, req.IsQuote); err != nil {
		s.respondErr(w, r, err)
		return
	}
	a, err := s.app.ResolveAsset(ticker)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAssetInfo(a))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	trader, ticker, amount, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := s.app.Deposit(r.Context(), trader, ticker, amount); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondBalance(w, r, trader, ticker)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	trader, ticker, amount, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := s.app.Withdraw(r.Context(), trader, ticker, amount); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondBalance(w, r, trader, ticker)
}

// handleFaucet mints into the trader's wallet and approves the exchange to
// pull it, so a following deposit succeeds
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if s.faucet == nil {
		respondError(w, r, http.StatusNotFound, "faucet disabled", "")
		return
	}
	trader, ticker, amount, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}
	if amount > s.faucetMax {
		respondError(w, r, http.StatusUnprocessableEntity, "faucet limit exceeded", strconv.FormatInt(s.faucetMax, 10))
		return
	}
	a, err := s.app.ResolveAsset(ticker)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.faucet.Faucet(a.Token, trader, amount); err != nil {
		s.respondErr(w, r, err)
		return
	}
	allowance := s.faucet.Allowance(a.Token, trader) + amount
	if err := s.faucet.Approve(a.Token, trader, allowance); err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Info("faucet",
		zap.String("trader", trader.Hex()),
		zap.String("ticker", ticker.String()),
		zap.Int64("amount", amount),
	)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trader":    trader.Hex(),
		"ticker":    ticker.String(),
		"wallet":    s.faucet.BalanceOf(a.Token, trader),
		"allowance": allowance,
	})
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, ticker, ok := s.parseTraderTicker(w, r, req.Trader, req.Ticker)
	if !ok {
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	o, err := s.app.CreateLimitOrder(r.Context(), trader, ticker, req.Amount, req.Price, side)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.broadcastBook(ticker)
	respondJSON(w, http.StatusCreated, toOrderInfo(o))
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, ticker, ok := s.parseTraderTicker(w, r, req.Trader, req.Ticker)
	if !ok {
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	report, err := s.app.CreateMarketOrder(r.Context(), trader, ticker, req.Amount, side)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.broadcastBook(ticker)
	respondJSON(w, http.StatusOK, toMarketOrderResponse(report))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ticker, err := asset.ParseTicker(vars["ticker"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	side, err := orderbook.ParseSide(vars["side"])
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	orders, err := s.app.GetOrders(ticker, side)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	ticker, err := asset.ParseTicker(mux.Vars(r)["ticker"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	snap, err := s.depthSnapshot(ticker)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseAddress(w, r, mux.Vars(r)["address"])
	if !ok {
		return
	}
	balances := s.app.Balances(trader)
	response := make([]BalanceInfo, len(balances))
	for i, b := range balances {
		response[i] = toBalanceInfo(b)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trader, ticker, ok := s.parseTraderTicker(w, r, vars["address"], vars["ticker"])
	if !ok {
		return
	}
	s.respondBalance(w, r, trader, ticker)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker, err := asset.ParseTicker(mux.Vars(r)["ticker"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid limit", v)
			return
		}
	}

	trades, err := s.app.RecentTrades(ticker, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTradeInfos(trades))
}

func (s *Server) handleStateHash(w http.ResponseWriter, r *http.Request) {
	h := s.app.StateHash()
	respondJSON(w, http.StatusOK, StateHashResponse{Hash: hexutil.Encode(h[:])})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"assets":    len(s.app.ListAssets()),
		"wsClients": s.hub.Clients(),
	})
}

// ==============================
// Broadcast Methods
// ==============================

// broadcastBook pushes the current depth of ticker to "orderbook:<TICKER>"
func (s *Server) broadcastBook(ticker asset.Ticker) {
	snap, err := s.depthSnapshot(ticker)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+ticker.String(), OrderbookUpdate{Type: "orderbook", DepthSnapshot: snap})
}

func (s *Server) depthSnapshot(ticker asset.Ticker) (DepthSnapshot, error) {
	bids, err := s.app.Depth(ticker, orderbook.Buy)
	if err != nil {
		return DepthSnapshot{}, err
	}
	asks, err := s.app.Depth(ticker, orderbook.Sell)
	if err != nil {
		return DepthSnapshot{}, err
	}
	return DepthSnapshot{
		Ticker:    ticker.String(),
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		LastPrice: s.app.LastPrice(ticker),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// ==============================
// Middleware
// ==============================

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade through the wrapper
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", requestIDFrom(r)),
		)
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request) (common.Address, asset.Ticker, int64, bool) {
	var req TransferRequest
	if !s.decode(w, r, &req) {
		return common.Address{}, asset.Ticker{}, 0, false
	}
	trader, ticker, ok := s.parseTraderTicker(w, r, req.Trader, req.Ticker)
	return trader, ticker, req.Amount, ok
}

func (s *Server) parseTraderTicker(w http.ResponseWriter, r *http.Request, addr, symbol string) (common.Address, asset.Ticker, bool) {
	trader, ok := parseAddress(w, r, addr)
	if !ok {
		return common.Address{}, asset.Ticker{}, false
	}
	ticker, err := asset.ParseTicker(symbol)
	if err != nil {
		s.respondErr(w, r, err)
		return common.Address{}, asset.Ticker{}, false
	}
	return trader, ticker, true
}

func parseAddress(w http.ResponseWriter, r *http.Request, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, r, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (s *Server) respondBalance(w http.ResponseWriter, r *http.Request, trader common.Address, ticker asset.Ticker) {
	b, err := s.app.Balance(trader, ticker)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBalanceInfo(b))
}

// respondErr maps domain errors onto HTTP statuses
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondError(w, r, status, http.StatusText(status), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, asset.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, asset.ErrInvalidTicker):
		return http.StatusBadRequest
	case errors.Is(err, asset.ErrDuplicateAsset), errors.Is(err, asset.ErrQuoteAlreadySet):
		return http.StatusConflict
	case engine.IsRejection(err),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, custody.ErrInsufficientAllowance),
		errors.Is(err, custody.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}
