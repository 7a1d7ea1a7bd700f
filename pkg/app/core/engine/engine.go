// Package engine accepts limit and market orders for every tradable asset.
//
// Each asset has its own book guarded by its own lock; requests for the same
// asset are serialized, requests for different assets run in parallel. Balance
// checks and settlement run inside one ledger transaction, so a request is
// either applied completely or rejected with nothing changed.
//
// Lock order is always book -> ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/metrics"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

// FillReport is the outcome of a market order
// A market order against an empty book is accepted with no fills.
type FillReport struct {
	Ticker    asset.Ticker     `json:"ticker"`
	Side      orderbook.Side   `json:"side"`
	Requested int64            `json:"requested"`
	Filled    int64            `json:"filled"`
	Cost      int64            `json:"cost"` // quote units moved
	Fills     []orderbook.Fill `json:"fills"`
}

type market struct {
	mu   sync.RWMutex
	book *orderbook.OrderBook
}

type Engine struct {
	registry  *asset.Registry
	ledger    *ledger.Ledger
	logger    *zap.Logger
	publisher FillPublisher
	persister Persister
	metrics   *metrics.Metrics
	clock     util.Clock

	mu      sync.Mutex
	markets map[asset.Ticker]*market

	// last assigned ids; advanced under the ledger lock so persisted
	// counters never go backwards
	lastOrderID atomic.Uint64
	lastTradeID atomic.Uint64
}

func New(registry *asset.Registry, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		ledger:   l,
		logger:   zap.NewNop(),
		clock:    util.RealClock{},
		markets:  make(map[asset.Ticker]*market),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) market(t asset.Ticker) *market {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[t]
	if !ok {
		m = &market{book: orderbook.New(t)}
		e.markets[t] = m
	}
	return m
}

// tradable resolves ticker and the quote asset it trades against
func (e *Engine) tradable(ticker asset.Ticker) (asset.Asset, asset.Asset, error) {
	a, err := e.registry.Resolve(ticker)
	if err != nil {
		return asset.Asset{}, asset.Asset{}, err
	}
	if a.IsQuote {
		return asset.Asset{}, asset.Asset{}, fmt.Errorf("%w: %s", ErrQuoteAssetNotTradable, ticker)
	}
	quote, ok := e.registry.Quote()
	if !ok {
		return asset.Asset{}, asset.Asset{}, ErrNoQuoteAsset
	}
	return a, quote, nil
}

// CreateLimitOrder validates the order, reserves the funds it needs and rests
// it on the book. Limit orders never match on entry.
// Reserved funds stay in the trader's reported balance until the order fills;
// pre-trade checks use the available (unreserved) part.
func (e *Engine) CreateLimitOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount, price int64, side orderbook.Side) (orderbook.Order, error) {
	start := e.clock.Now()
	o, err := e.createLimitOrder(trader, ticker, amount, price, side, start)
	e.metrics.ObserveOrder("limit", side.String(), err == nil, e.clock.Since(start))
	if err != nil {
		e.logger.Info("order_rejected",
			zap.String("type", "limit"),
			zap.String("trader", trader.Hex()),
			zap.String("ticker", ticker.String()),
			zap.Stringer("side", side),
			zap.Int64("amount", amount),
			zap.Int64("price", price),
			zap.Error(err),
		)
		return orderbook.Order{}, err
	}

	e.logger.Info("order_rested",
		zap.Uint64("order_id", o.ID),
		zap.String("trader", trader.Hex()),
		zap.String("ticker", ticker.String()),
		zap.Stringer("side", side),
		zap.Int64("amount", amount),
		zap.Int64("price", price),
	)
	return o, nil
}

func (e *Engine) createLimitOrder(trader common.Address, ticker asset.Ticker, amount, price int64, side orderbook.Side, now time.Time) (orderbook.Order, error) {
	a, quote, err := e.tradable(ticker)
	if err != nil {
		return orderbook.Order{}, err
	}
	switch {
	case !side.Valid():
		return orderbook.Order{}, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	case amount <= 0:
		return orderbook.Order{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	case price <= 0:
		return orderbook.Order{}, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	cost, err := ledger.MulChecked(amount, price)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("%w: %d x %d overflows", ErrInvalidPrice, amount, price)
	}

	m := e.market(a.Ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	var rested orderbook.Order
	err = e.ledger.Update(func(tx *ledger.Tx) error {
		if side == orderbook.Sell {
			if avail := tx.Balance(trader, a.Ticker).Available(); avail < amount {
				return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientAssetBalance, trader.Hex(), avail, a.Ticker, amount)
			}
			if err := tx.Lock(trader, a.Ticker, amount); err != nil {
				return err
			}
		} else {
			if avail := tx.Balance(trader, quote.Ticker).Available(); avail < cost {
				return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientQuoteBalance, trader.Hex(), avail, quote.Ticker, cost)
			}
			if err := tx.Lock(trader, quote.Ticker, cost); err != nil {
				return err
			}
		}

		o := &orderbook.Order{
			ID:     e.lastOrderID.Add(1),
			Trader: trader,
			Ticker: a.Ticker,
			Side:   side,
			Price:  price,
			Amount: amount,
			Seq:    m.book.NextSeq(),
			Date:   now,
		}
		if err := m.book.Insert(o); err != nil {
			return err
		}
		rested = *o

		e.persist(&storage.Batch{
			Balances: tx.Touched(),
			Orders:   []orderbook.Order{rested},
			Counters: e.counters(),
		})
		return nil
	})
	if err != nil {
		return orderbook.Order{}, err
	}

	e.metrics.SetDepth(a.Ticker.String(), side.String(), m.book.Len(side))
	return rested, nil
}

// CreateMarketOrder walks the opposite side of the book in price-time
// priority until amount is filled or the side is exhausted. Unfilled
// quantity is discarded. A buy is rejected unless the trader can pay for the
// whole simulated walk.
func (e *Engine) CreateMarketOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64, side orderbook.Side) (FillReport, error) {
	start := e.clock.Now()
	report, err := e.createMarketOrder(trader, ticker, amount, side, start)
	e.metrics.ObserveOrder("market", side.String(), err == nil, e.clock.Since(start))

	// fills are final even if a later fill failed
	e.publish(ctx, report.Fills)

	if err != nil {
		if IsRejection(err) {
			e.logger.Info("order_rejected",
				zap.String("type", "market"),
				zap.String("trader", trader.Hex()),
				zap.String("ticker", ticker.String()),
				zap.Stringer("side", side),
				zap.Int64("amount", amount),
				zap.Error(err),
			)
		} else {
			e.logger.Error("settlement_failed",
				zap.String("trader", trader.Hex()),
				zap.String("ticker", ticker.String()),
				zap.Int64("filled", report.Filled),
				zap.Error(err),
			)
		}
		return report, err
	}

	e.logger.Info("market_order_filled",
		zap.String("trader", trader.Hex()),
		zap.String("ticker", ticker.String()),
		zap.Stringer("side", side),
		zap.Int64("requested", amount),
		zap.Int64("filled", report.Filled),
		zap.Int64("cost", report.Cost),
		zap.Int("fills", len(report.Fills)),
	)
	return report, nil
}

func (e *Engine) createMarketOrder(trader common.Address, ticker asset.Ticker, amount int64, side orderbook.Side, now time.Time) (FillReport, error) {
	a, quote, err := e.tradable(ticker)
	if err != nil {
		return FillReport{}, err
	}
	switch {
	case !side.Valid():
		return FillReport{}, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	case amount <= 0:
		return FillReport{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	m := e.market(a.Ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	report := FillReport{Ticker: a.Ticker, Side: side, Requested: amount}
	var settleErr error

	err = e.ledger.Update(func(tx *ledger.Tx) error {
		if side == orderbook.Sell {
			if avail := tx.Balance(trader, a.Ticker).Available(); avail < amount {
				return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientAssetBalance, trader.Hex(), avail, a.Ticker, amount)
			}
		} else {
			_, cost, err := m.book.Quote(orderbook.Buy, amount)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInsufficientQuoteBalance, err)
			}
			if avail := tx.Balance(trader, quote.Ticker).Available(); avail < cost {
				return fmt.Errorf("%w: %s has %d %s, walk costs %d", ErrInsufficientQuoteBalance, trader.Hex(), avail, quote.Ticker, cost)
			}
		}

		var makers []*orderbook.Order
		filled, err := m.book.Match(side, amount, func(maker *orderbook.Order, qty int64) error {
			s := ledger.Settlement{
				Asset:    a.Ticker,
				Quote:    quote.Ticker,
				Quantity: qty,
				Price:    maker.Price,
			}
			if side == orderbook.Buy {
				s.Buyer, s.Seller, s.SellerReserved = trader, maker.Trader, true
			} else {
				s.Buyer, s.Seller, s.BuyerReserved = maker.Trader, trader, true
			}
			if err := tx.TransferOnFill(s); err != nil {
				return err
			}
			cost, _ := s.Cost()
			report.Cost += cost
			report.Fills = append(report.Fills, orderbook.Fill{
				TradeID:   e.lastTradeID.Add(1),
				OrderID:   maker.ID,
				Ticker:    a.Ticker,
				Maker:     maker.Trader,
				Taker:     trader,
				TakerSide: side,
				Amount:    qty,
				Price:     maker.Price,
				Date:      now,
			})
			makers = append(makers, maker)
			return nil
		})
		report.Filled = filled
		// applied fills stay applied; the error is reported after commit
		settleErr = err

		batch := &storage.Batch{
			Balances: tx.Touched(),
			Trades:   report.Fills,
			Counters: e.counters(),
		}
		for _, mk := range makers {
			if mk.IsFilled() {
				batch.Removed = append(batch.Removed, *mk)
			} else {
				batch.Orders = append(batch.Orders, *mk)
			}
		}
		e.persist(batch)
		return nil
	})
	if err != nil {
		return FillReport{}, err
	}

	for _, f := range report.Fills {
		e.metrics.ObserveFill(a.Ticker.String(), f.Amount)
	}
	e.metrics.SetDepth(a.Ticker.String(), side.Opposite().String(), m.book.Len(side.Opposite()))

	if settleErr != nil {
		return report, fmt.Errorf("settle %s fill %d: %w", a.Ticker, len(report.Fills)+1, settleErr)
	}
	return report, nil
}

// GetOrders returns the resting orders of one side in matching order
func (e *Engine) GetOrders(ticker asset.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	m, err := e.readable(ticker, side)
	if err != nil || m == nil {
		return []orderbook.Order{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Orders(side), nil
}

// Depth returns aggregated price levels of one side, best first
func (e *Engine) Depth(ticker asset.Ticker, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	m, err := e.readable(ticker, side)
	if err != nil || m == nil {
		return []orderbook.PriceLevel{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	levels := m.book.Depth(side)
	if levels == nil {
		levels = []orderbook.PriceLevel{}
	}
	return levels, nil
}

// LastPrice returns the most recent fill price of an asset, 0 if none
func (e *Engine) LastPrice(ticker asset.Ticker) int64 {
	e.mu.Lock()
	m, ok := e.markets[ticker]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.LastPrice()
}

// readable resolves a book for reads; nil when nothing has rested yet
func (e *Engine) readable(ticker asset.Ticker, side orderbook.Side) (*market, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	}
	if _, err := e.registry.Resolve(ticker); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markets[ticker], nil
}

// Restore rebuilds the books from persisted resting orders and resumes the
// id sequences. It must run before the engine serves requests.
func (e *Engine) Restore(orders []orderbook.Order, nextOrderID, nextTradeID uint64) error {
	var maxID uint64
	for _, o := range orders {
		a, err := e.registry.Resolve(o.Ticker)
		if err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		if a.IsQuote {
			return fmt.Errorf("restore order %d: %w", o.ID, ErrQuoteAssetNotTradable)
		}
		m := e.market(o.Ticker)
		cp := o
		m.mu.Lock()
		err = m.book.Insert(&cp)
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		maxID = max(maxID, o.ID)
	}

	if nextOrderID > 0 {
		maxID = max(maxID, nextOrderID-1)
	}
	e.lastOrderID.Store(maxID)
	if nextTradeID > 0 {
		e.lastTradeID.Store(nextTradeID - 1)
	}

	e.logger.Info("books_restored",
		zap.Int("orders", len(orders)),
		zap.Uint64("next_order_id", maxID+1),
		zap.Uint64("next_trade_id", e.lastTradeID.Load()+1),
	)
	return nil
}

// counters snapshots the id sequences, ledger lock held
func (e *Engine) counters() *storage.Counters {
	return &storage.Counters{
		NextOrderID: e.lastOrderID.Load() + 1,
		NextTradeID: e.lastTradeID.Load() + 1,
	}
}

func (e *Engine) persist(b *storage.Batch) {
	if e.persister == nil {
		return
	}
	if err := e.persister.Commit(b); err != nil {
		e.logger.Error("persist_failed", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, fills []orderbook.Fill) {
	if e.publisher == nil {
		return
	}
	for _, f := range fills {
		if err := e.publisher.PublishFill(ctx, f); err != nil {
			e.logger.Warn("publish_failed",
				zap.Uint64("trade_id", f.TradeID),
				zap.String("ticker", f.Ticker.String()),
				zap.Error(err),
			)
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}
