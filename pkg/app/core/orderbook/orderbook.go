package orderbook

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/tidwall/btree"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrCostOverflow = errors.New("quote cost overflows")
)

// PriceLevel aggregates resting quantity at one price
type PriceLevel struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"` // total remaining qty at this price level
	Orders int   `json:"orders"`
}

// OrderBook holds the resting limit orders of one asset
// Bids are ordered by price desc then seq asc, asks by price asc then seq asc,
// so the head of each side is the order that matches first.
//
// OrderBook is not safe for concurrent use; the engine serializes access.
type OrderBook struct {
	ticker asset.Ticker
	bids   *btree.BTreeG[*Order]
	asks   *btree.BTreeG[*Order]
	seq    uint64

	lastPrice int64 // most recent fill price
}

func bidLess(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.Seq < b.Seq
}

func askLess(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.Seq < b.Seq
}

// New creates an empty order book for ticker
func New(ticker asset.Ticker) *OrderBook {
	opts := btree.Options{NoLocks: true}
	return &OrderBook{
		ticker: ticker,
		bids:   btree.NewBTreeGOptions(bidLess, opts),
		asks:   btree.NewBTreeGOptions(askLess, opts),
	}
}

// Ticker returns the asset this book trades
func (ob *OrderBook) Ticker() asset.Ticker {
	return ob.ticker
}

// NextSeq returns the next insertion sequence number
func (ob *OrderBook) NextSeq() uint64 {
	ob.seq++
	return ob.seq
}

func (ob *OrderBook) tree(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return ob.bids
	}
	return ob.asks
}

// Insert places o at its sorted position
// o.Seq must be assigned (NextSeq) and unique within the book.
func (ob *OrderBook) Insert(o *Order) error {
	switch {
	case !o.Side.Valid():
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, o.Side)
	case o.Ticker != ob.ticker:
		return fmt.Errorf("%w: ticker %s in %s book", ErrInvalidOrder, o.Ticker, ob.ticker)
	case o.Seq == 0:
		return fmt.Errorf("%w: order %d has no sequence", ErrInvalidOrder, o.ID)
	case o.Price <= 0 || o.Amount <= 0:
		return fmt.Errorf("%w: price=%d amount=%d", ErrInvalidOrder, o.Price, o.Amount)
	case o.Filled < 0 || o.Filled >= o.Amount:
		return fmt.Errorf("%w: filled %d of %d", ErrInvalidOrder, o.Filled, o.Amount)
	}

	t := ob.tree(o.Side)
	if _, exists := t.Get(o); exists {
		return fmt.Errorf("%w: duplicate sequence %d", ErrInvalidOrder, o.Seq)
	}
	t.Set(o)
	// keep NextSeq ahead of restored orders
	if o.Seq > ob.seq {
		ob.seq = o.Seq
	}
	return nil
}

// Best returns the head of a side
func (ob *OrderBook) Best(s Side) (*Order, bool) {
	return ob.tree(s).Min()
}

// Remove deletes o from its side
func (ob *OrderBook) Remove(o *Order) bool {
	_, ok := ob.tree(o.Side).Delete(o)
	return ok
}

// Len returns the number of resting orders on a side
func (ob *OrderBook) Len(s Side) int {
	return ob.tree(s).Len()
}

// Orders returns copies of the resting orders of a side, in matching order
func (ob *OrderBook) Orders(s Side) []Order {
	out := make([]Order, 0, ob.tree(s).Len())
	ob.tree(s).Scan(func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// Depth returns price levels of a side, best price first
func (ob *OrderBook) Depth(s Side) []PriceLevel {
	var levels []PriceLevel
	ob.tree(s).Scan(func(o *Order) bool {
		n := len(levels)
		if n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Qty += o.Remaining()
			levels[n-1].Orders++
		} else {
			levels = append(levels, PriceLevel{Price: o.Price, Qty: o.Remaining(), Orders: 1})
		}
		return true
	})
	return levels
}

// Walk visits, without mutating, the resting orders a taker on side taker
// would match for amount, together with the quantity taken from each
func (ob *OrderBook) Walk(taker Side, amount int64, visit func(maker *Order, qty int64)) (filled int64) {
	remaining := amount
	ob.tree(taker.Opposite()).Scan(func(o *Order) bool {
		if remaining <= 0 {
			return false
		}
		qty := min(remaining, o.Remaining())
		visit(o, qty)
		remaining -= qty
		filled += qty
		return remaining > 0
	})
	return filled
}

// Quote simulates a market order: how much of amount the book can fill and
// the total quote cost (sum of qty * maker price)
func (ob *OrderBook) Quote(taker Side, amount int64) (filled, cost int64, err error) {
	filled = ob.Walk(taker, amount, func(maker *Order, qty int64) {
		if err != nil {
			return
		}
		hi, lo := bits.Mul64(uint64(qty), uint64(maker.Price))
		if hi != 0 || lo > math.MaxInt64 || cost > math.MaxInt64-int64(lo) {
			err = fmt.Errorf("%w: %s %d", ErrCostOverflow, ob.ticker, amount)
			return
		}
		cost += int64(lo)
	})
	return filled, cost, err
}

// Match walks the opposite side for a taker on side taker, matching up to
// amount in price-time priority. settle is called for each fill before the
// maker is updated; if it fails the walk stops and the error is returned.
// Fully filled makers are removed. Unmatched quantity is discarded.
func (ob *OrderBook) Match(taker Side, amount int64, settle func(maker *Order, qty int64) error) (filled int64, err error) {
	side := ob.tree(taker.Opposite())
	remaining := amount

	for remaining > 0 {
		maker, ok := side.Min()
		if !ok {
			break
		}
		qty := min(remaining, maker.Remaining())
		if err := settle(maker, qty); err != nil {
			return filled, err
		}

		maker.Filled += qty
		remaining -= qty
		filled += qty
		ob.lastPrice = maker.Price

		if maker.IsFilled() {
			side.Delete(maker)
		}
	}
	return filled, nil
}

// LastPrice returns the price of the most recent fill, 0 if none
func (ob *OrderBook) LastPrice() int64 {
	return ob.lastPrice
}
