package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// Side of an order. Values match the on-chain enum (BUY=0, SELL=1).
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSide accepts "buy"/"sell" (any case) or the numeric enum "0"/"1"
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "0":
		return Buy, nil
	case "sell", "1":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

// Order is a resting limit order
// Price is in quote units per unit of asset; Amount and Filled in asset units.
type Order struct {
	ID     uint64         `json:"id"`
	Trader common.Address `json:"trader"`
	Ticker asset.Ticker   `json:"ticker"`
	Side   Side           `json:"side"`
	Price  int64          `json:"price"`
	Amount int64          `json:"amount"`
	Filled int64          `json:"filled"`
	Seq    uint64         `json:"seq"` // insertion sequence within the book, tie-break at equal price
	Date   time.Time      `json:"date"`
}

// Remaining returns unfilled quantity
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// IsFilled returns true once the order has been matched completely
func (o *Order) IsFilled() bool {
	return o.Filled >= o.Amount
}

// Fill is one match between an incoming market order (taker) and a resting order (maker)
type Fill struct {
	TradeID   uint64         `json:"tradeId"`
	OrderID   uint64         `json:"orderId"` // maker order
	Ticker    asset.Ticker   `json:"ticker"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	TakerSide Side           `json:"side"`
	Amount    int64          `json:"amount"`
	Price     int64          `json:"price"`
	Date      time.Time      `json:"date"`
}

// Buyer returns the counterparty receiving the asset
func (f Fill) Buyer() common.Address {
	if f.TakerSide == Buy {
		return f.Taker
	}
	return f.Maker
}

// Seller returns the counterparty delivering the asset
func (f Fill) Seller() common.Address {
	if f.TakerSide == Buy {
		return f.Maker
	}
	return f.Taker
}
