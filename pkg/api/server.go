package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/minexhq/minex/pkg/broadcast"
	"github.com/minexhq/minex/pkg/exchange"
	"github.com/minexhq/minex/pkg/stream"
	"github.com/minexhq/minex/pkg/util"
)

// TradeQuerier answers the recent-trades endpoint from the durable store.
type TradeQuerier interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error)
}

// Server is the front door: REST order submission and read endpoints, plus
// the websocket endpoint subscribers connect to. Submissions are validated
// here and handed to the order stream; the server never touches the book
// directly except for read-only snapshots.
type Server struct {
	engine   *exchange.Engine
	orders   stream.OrderSink
	trades   TradeQuerier
	registry broadcast.ConnectionRegistry
	hub      *Hub
	router   *mux.Router
	clock    util.Clock
	log      *zap.Logger
}

func NewServer(
	engine *exchange.Engine,
	orders stream.OrderSink,
	trades TradeQuerier,
	registry broadcast.ConnectionRegistry,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		orders:   orders,
		trades:   trades,
		registry: registry,
		clock:    util.RealClock{},
		log:      log.Named("api"),
	}
	s.hub = NewHub(registry, s.log)
	s.router = mux.NewRouter()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the websocket hub so the broadcaster can push through it.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the fully wrapped HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves HTTP until the listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.log.Info("server starting", zap.String("addr", addr))
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber() // exact decimals, no float round-trip

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	order, err := exchange.ValidateSubmission(raw, s.clock.Now())
	if err != nil {
		var ve *exchange.ValidationError
		if errors.As(err, &ve) {
			respondError(w, http.StatusBadRequest, ve.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.orders.PublishOrder(ctx, order); err != nil {
		s.log.Error("order publish failed", zap.String("order_id", order.ID), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "order delivery unavailable")
		return
	}

	s.log.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side.String()))

	respondJSON(w, http.StatusCreated, SubmitOrderResponse{
		Message: "Order submitted successfully",
		OrderID: order.ID,
		Order:   order,
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	book := s.engine.Book(symbol)
	if book == nil {
		respondError(w, http.StatusNotFound, "unknown symbol")
		return
	}

	respondJSON(w, http.StatusOK, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      book.BidLevels(),
		Asks:      book.AskLevels(),
		Timestamp: s.clock.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	trades, err := s.trades.RecentTrades(r.Context(), symbol, limit)
	if err != nil {
		s.log.Error("trade query failed", zap.String("symbol", symbol), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "trade store unavailable")
		return
	}
	if trades == nil {
		trades = []exchange.Trade{}
	}

	respondJSON(w, http.StatusOK, TradesResponse{Symbol: symbol, Trades: trades})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}
