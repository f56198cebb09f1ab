package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"exchange/internal/engine"
	"exchange/internal/fault"
	"exchange/internal/jobs"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

const maxBatch = 100

// Amounts and prices in requests are human decimals ("1.5"). Responses
// carry raw integers scaled by 1e18.
type OrderRequest struct {
	Pair   string `json:"pair"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	// Mode is "limit" (default), "ioc" or "fok".
	Mode string `json:"mode"`
}

type BatchRequest struct {
	Orders []OrderRequest `json:"orders"`
}

// BatchItem is the outcome of one order of a batch.
type BatchItem struct {
	Result *engine.OrderResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type MintRequest struct {
	Pair    string `json:"pair"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

type BurnRequest struct {
	Pair   string `json:"pair"`
	Shares string `json:"shares"`
}

type SwapRequest struct {
	Pair string `json:"pair"`
	// Side "buy" pays the primary coin for the secondary.
	Side      string `json:"side"`
	Input     string `json:"input"`
	MinOutput string `json:"min_output"`
}

type DepositRequest struct {
	Coin   string `json:"coin"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash"`
}

type WithdrawRequest struct {
	Coin    string `json:"coin"`
	Amount  string `json:"amount"`
	Address string `json:"address"`
}

type BalanceResponse struct {
	Coin    string            `json:"coin"`
	Balance safemath.SafeUint `json:"balance"`
}

type MarketResponse struct {
	Pair     string            `json:"pair"`
	MinOrder safemath.SafeUint `json:"min_order"`
}

func parseFillMode(s string) (orderbook.FillMode, error) {
	switch strings.ToLower(s) {
	case "", "limit":
		return orderbook.Limit, nil
	case "ioc":
		return orderbook.ImmediateOrCancel, nil
	case "fok":
		return orderbook.FillOrKill, nil
	}
	return 0, orderbook.ErrInvalidFillMode
}

// parseAmount parses a decimal request field; empty means zero.
func parseAmount(field, s string) (safemath.SafeUint, error) {
	if s == "" {
		return safemath.Zero, nil
	}
	v, err := safemath.ParseDecimal(s)
	if err != nil {
		return safemath.Zero, fault.Wrap(fault.Business, err, "invalid "+field)
	}
	return v, nil
}

func (req OrderRequest) parse(user string) (engine.OrderRequest, error) {
	pair, err := market.ParsePair(req.Pair)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	mode, err := parseFillMode(req.Mode)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	return engine.OrderRequest{
		User:   user,
		Pair:   pair,
		Side:   side,
		Price:  price,
		Amount: amount,
		Mode:   mode,
	}, nil
}

// pairParam reads the required ?pair= query parameter.
func (s *Server) pairParam(w http.ResponseWriter, r *http.Request) (market.Pair, bool) {
	pair, err := market.ParsePair(r.URL.Query().Get("pair"))
	if err != nil {
		s.writeError(w, err)
		return market.Pair{}, false
	}
	return pair, true
}

func intParam(r *http.Request, name string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && n > 0 {
		return n
	}
	return def
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body OrderRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := body.parse(user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, ok := run(s, w, r, "place_order", func(ctx context.Context) (engine.OrderResult, error) {
		return s.engine.PlaceOrder(ctx, req)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// submitBatch settles each order as its own job. The jobs are queued
// together so they settle in request order relative to other traffic, but
// one order failing does not affect the others.
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body BatchRequest
	if !decode(w, r, &body) {
		return
	}
	if len(body.Orders) == 0 || len(body.Orders) > maxBatch {
		http.Error(w, "batch must hold 1-"+strconv.Itoa(maxBatch)+" orders", http.StatusBadRequest)
		return
	}
	if err := s.pool.Admit(); err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]BatchItem, len(body.Orders))
	batch := make([]*jobs.Job, 0, len(body.Orders))
	index := make([]int, 0, len(body.Orders))
	for i, o := range body.Orders {
		req, err := o.parse(user)
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		batch = append(batch, jobs.New("place_order", func(ctx context.Context) (any, error) {
			return s.engine.PlaceOrder(ctx, req)
		}))
		index = append(index, i)
	}
	s.pool.EnqueueBatch(batch...)

	for k, j := range batch {
		i := index[k]
		v, err := j.WaitContext(r.Context())
		if err != nil {
			if statusOf(err) == http.StatusInternalServerError {
				s.writeError(w, err)
				return
			}
			items[i].Error = err.Error()
			continue
		}
		res := v.(engine.OrderResult)
		items[i].Result = &res
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	refunded, ok := run(s, w, r, "cancel_order", func(ctx context.Context) (safemath.SafeUint, error) {
		return s.engine.CancelOrder(ctx, user, id)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "refunded": refunded})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	orders, err := s.engine.OpenOrders(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []orderbook.Row{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) getBalances(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	balances, err := s.engine.Balances(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		resp = append(resp, BalanceResponse{Coin: b.Coin, Balance: b.Balance})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	all := s.engine.Markets().All()
	resp := make([]MarketResponse, 0, len(all))
	for _, m := range all {
		resp = append(resp, MarketResponse{Pair: m.Pair.String(), MinOrder: m.MinOrder})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Book(r.Context(), pair, intParam(r, "depth", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	info, err := s.engine.Pool(r.Context(), pair)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) getCandles(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	interval := time.Minute
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid interval", http.StatusBadRequest)
			return
		}
		interval = d
	}
	candles, err := s.engine.Candles(r.Context(), pair, interval, intParam(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if candles == nil {
		candles = []store.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	trades, err := s.engine.Trades(r.Context(), pair, intParam(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) mintLiquidity(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body MintRequest
	if !decode(w, r, &body) {
		return
	}
	pair, err := market.ParsePair(body.Pair)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a0, err := parseAmount("amount0", body.Amount0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a1, err := parseAmount("amount1", body.Amount1)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, ok := run(s, w, r, "mint_lp", func(ctx context.Context) (engine.LiquidityResult, error) {
		return s.engine.MintLP(ctx, user, pair, a0, a1)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) burnLiquidity(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body BurnRequest
	if !decode(w, r, &body) {
		return
	}
	pair, err := market.ParsePair(body.Pair)
	if err != nil {
		s.writeError(w, err)
		return
	}
	shares, err := parseAmount("shares", body.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, ok := run(s, w, r, "burn_lp", func(ctx context.Context) (engine.LiquidityResult, error) {
		return s.engine.BurnLP(ctx, user, pair, shares)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) swap(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body SwapRequest
	if !decode(w, r, &body) {
		return
	}
	pair, err := market.ParsePair(body.Pair)
	if err != nil {
		s.writeError(w, err)
		return
	}
	side, err := orderbook.ParseSide(body.Side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	input, err := parseAmount("input", body.Input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	minOut, err := parseAmount("min_output", body.MinOutput)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req := engine.SwapRequest{
		User:      user,
		Pair:      pair,
		Buy:       side == orderbook.Buy,
		Input:     input,
		MinOutput: minOut,
	}

	trade, ok := run(s, w, r, "swap", func(ctx context.Context) (orderbook.Trade, error) {
		return s.engine.Swap(ctx, req)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Server) getTransfers(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	transfers, err := s.engine.Transfers(r.Context(), user, intParam(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if transfers == nil {
		transfers = []*store.Transfer{}
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body DepositRequest
	if !decode(w, r, &body) {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tr, ok := run(s, w, r, "request_deposit", func(ctx context.Context) (*store.Transfer, error) {
		return s.engine.RequestDeposit(ctx, user, body.Coin, amount, body.TxHash)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, tr)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == "" {
		return
	}
	var body WithdrawRequest
	if !decode(w, r, &body) {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tr, ok := run(s, w, r, "request_withdrawal", func(ctx context.Context) (*store.Transfer, error) {
		return s.engine.RequestWithdrawal(ctx, user, body.Coin, amount, body.Address)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, tr)
}
