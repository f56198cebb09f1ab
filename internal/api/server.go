// Package api exposes the exchange over HTTP and WebSocket. Every request
// that moves funds runs as a job on the scheduler; reads go straight to the
// store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"exchange/internal/amm"
	"exchange/internal/engine"
	"exchange/internal/fault"
	"exchange/internal/jobs"
	"exchange/internal/market"
	"exchange/internal/store"
)

// Options tune the HTTP surface.
type Options struct {
	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

type Server struct {
	engine      *engine.Engine
	pool        *jobs.Pool
	store       *store.Store
	sessions    *SessionStore
	hub         *Hub
	rateLimiter *RateLimiter
	log         *zap.Logger
	upgrader    websocket.Upgrader
	corsOrigins []string
}

func NewServer(log *zap.Logger, eng *engine.Engine, pool *jobs.Pool, st *store.Store, hub *Hub, opts Options) *Server {
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		engine:      eng,
		pool:        pool,
		store:       st,
		sessions:    NewSessionStore(st, log),
		hub:         hub,
		rateLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		log:         log,
		corsOrigins: opts.CORSOrigins,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// Hub returns the server's WebSocket fan-out, which is also an event
// publisher.
func (s *Server) Hub() *Hub {
	return s.hub
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	// Empty list = allow all (development mode)
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		// Public market data
		r.Get("/markets", s.getMarkets)
		r.Get("/book", s.getBook)
		r.Get("/pool", s.getPool)
		r.Get("/candles", s.getCandles)
		r.Get("/trades", s.getTrades)

		// Account routes (auth required)
		r.Get("/balances", s.getBalances)
		r.Get("/orders", s.getOrders)
		r.Post("/orders", s.submitOrder)
		r.Post("/orders/batch", s.submitBatch)
		r.Delete("/orders/{id}", s.cancelOrder)
		r.Post("/liquidity/mint", s.mintLiquidity)
		r.Post("/liquidity/burn", s.burnLiquidity)
		r.Post("/swap", s.swap)
		r.Get("/transfers", s.getTransfers)
		r.Post("/wallet/deposit", s.deposit)
		r.Post("/wallet/withdraw", s.withdraw)
	})

	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.health)

	return r
}

// requestLogger logs one line per request with zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if err := s.pool.Admit(); err != nil {
		status = http.StatusServiceUnavailable
		state = err.Error()
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"queued":  s.pool.QueueLen(),
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a WebSocket handshake, so the session
	// token may come as a query parameter.
	var userID string
	if token := r.URL.Query().Get("token"); token != "" {
		session, ok := s.sessions.Get(r.Context(), token)
		if !ok {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
		userID = session.UserID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// Shutdown stops internal goroutines (session cleanup, rate limiter, hub)
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.rateLimiter.Stop()
	s.hub.Stop()
}

// run admits fn and settles it as a job, waiting for the outcome. It writes
// the error response itself and reports whether the caller should continue.
func run[T any](s *Server, w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context) (T, error)) (T, bool) {
	var zero T
	if err := s.pool.Admit(); err != nil {
		s.writeError(w, err)
		return zero, false
	}
	v, err := jobs.Await(r.Context(), s.pool, name, fn)
	if err != nil {
		s.writeError(w, err)
		return zero, false
	}
	return v, true
}

// writeError maps settlement errors onto status codes. Business errors are
// shown to the caller; anything else is logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	http.Error(w, msg, status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, fault.ErrOverloaded), errors.Is(err, fault.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrOrderNotFound), errors.Is(err, store.ErrTransferNotFound),
		errors.Is(err, amm.ErrPoolNotFound), errors.Is(err, market.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotOwner):
		return http.StatusForbidden
	case fault.IsBusiness(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body, writing 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
