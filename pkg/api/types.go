package api

import (
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/engine"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// API response types for REST endpoints and WebSocket messages
// Amounts and prices are integers in the asset's smallest unit.

// ==============================
// REST Response Types
// ==============================

// AssetInfo represents a registered asset
type AssetInfo struct {
	Ticker  string `json:"ticker"`  // e.g., "REP"
	Token   string `json:"token"`   // custody handle (ERC20 address)
	IsQuote bool   `json:"isQuote"` // quote asset: deposit/withdraw only
}

// OrderInfo represents a resting limit order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"` // "buy" or "sell"
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// TradeInfo represents one fill
type TradeInfo struct {
	ID        uint64 `json:"id"`
	OrderID   uint64 `json:"orderId"` // maker order
	Ticker    string `json:"ticker"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Side      string `json:"side"` // taker side
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// MarketOrderResponse is the fill report of a market order
type MarketOrderResponse struct {
	Ticker    string      `json:"ticker"`
	Side      string      `json:"side"`
	Requested int64       `json:"requested"`
	Filled    int64       `json:"filled"`
	Cost      int64       `json:"cost"` // quote moved
	Fills     []TradeInfo `json:"fills"`
}

// BalanceInfo represents one asset balance of a trader
type BalanceInfo struct {
	Trader    string `json:"trader"`
	Ticker    string `json:"ticker"`
	Balance   int64  `json:"balance"`   // total, reserved part included
	Locked    int64  `json:"locked"`    // reserved by resting orders
	Available int64  `json:"available"` // free for orders and withdrawals
}

// PriceLevel represents an aggregated book level
type PriceLevel struct {
	Price  int64 `json:"price"`
	Size   int64 `json:"size"`
	Orders int   `json:"orders"`
}

// DepthSnapshot represents current book depth of one asset
type DepthSnapshot struct {
	Ticker    string       `json:"ticker"`
	Bids      []PriceLevel `json:"bids"` // Sorted high to low
	Asks      []PriceLevel `json:"asks"` // Sorted low to high
	LastPrice int64        `json:"lastPrice"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// StateHashResponse carries the 0x-prefixed state hash
type StateHashResponse struct {
	Hash string `json:"hash"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:REP", "trades:REP"]
}

// OrderbookUpdate is broadcast after every accepted order
type OrderbookUpdate struct {
	Type string `json:"type"` // "orderbook"
	DepthSnapshot
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type string `json:"type"` // "trade"
	TradeInfo
}

// ==============================
// REST Request Types
// ==============================

// RegisterAssetRequest is the payload for POST /api/v1/assets
type RegisterAssetRequest struct {
	Ticker  string `json:"ticker"`
	Token   string `json:"token,omitempty"` // derived from the ticker when empty
	IsQuote bool   `json:"isQuote"`
}

// TransferRequest is the payload for deposits, withdrawals and the faucet
type TransferRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

// LimitOrderRequest is the payload for POST /api/v1/orders/limit
type LimitOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"` // "buy"/"sell" or 0/1
	Amount int64  `json:"amount"`
	Price  int64  `json:"price"`
}

// MarketOrderRequest is the payload for POST /api/v1/orders/market
type MarketOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// Conversions
// ==============================

func toAssetInfo(a asset.Asset) AssetInfo {
	return AssetInfo{Ticker: a.Ticker.String(), Token: a.Token.Hex(), IsQuote: a.IsQuote}
}

func toOrderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Ticker:    o.Ticker.String(),
		Side:      o.Side.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Timestamp: o.Date.UnixMilli(),
	}
}

func toTradeInfo(f orderbook.Fill) TradeInfo {
	return TradeInfo{
		ID:        f.TradeID,
		OrderID:   f.OrderID,
		Ticker:    f.Ticker.String(),
		Buyer:     f.Buyer().Hex(),
		Seller:    f.Seller().Hex(),
		Side:      f.TakerSide.String(),
		Price:     f.Price,
		Size:      f.Amount,
		Timestamp: f.Date.UnixMilli(),
	}
}

func toTradeInfos(fills []orderbook.Fill) []TradeInfo {
	out := make([]TradeInfo, len(fills))
	for i, f := range fills {
		out[i] = toTradeInfo(f)
	}
	return out
}

func toMarketOrderResponse(r engine.FillReport) MarketOrderResponse {
	return MarketOrderResponse{
		Ticker:    r.Ticker.String(),
		Side:      r.Side.String(),
		Requested: r.Requested,
		Filled:    r.Filled,
		Cost:      r.Cost,
		Fills:     toTradeInfos(r.Fills),
	}
}

func toBalanceInfo(b ledger.Balance) BalanceInfo {
	return BalanceInfo{
		Trader:    b.Trader.Hex(),
		Ticker:    b.Ticker.String(),
		Balance:   b.Total,
		Locked:    b.Locked,
		Available: b.Available(),
	}
}

func toPriceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty, Orders: l.Orders}
	}
	return out
}
