// Package dex is the exchange boundary: asset registration, deposits and
// withdrawals through custody, order entry, and read-only queries.
package dex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdex/pkg/app/core/engine"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/metrics"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

// Config wires the app's collaborators. Only Custody is required.
type Config struct {
	Custody   custody.Custody
	Store     storage.Store   // defaults to an in-memory store
	Journal   storage.Journal // defaults to no journal
	Publisher engine.FillPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Clock     util.Clock
	Assets    []asset.Asset // registered on open unless already persisted
}

type App struct {
	registry *asset.Registry
	ledger   *ledger.Ledger
	engine   *engine.Engine
	custody  custody.Custody
	store    storage.Store
	journal  storage.Journal
	logger   *zap.Logger
	clock    util.Clock

	assetMu sync.Mutex // serializes registration so indexes match List order
}

// Open builds the app and recovers assets, balances, resting orders and id
// sequences from the store
func Open(cfg Config) (*App, error) {
	if cfg.Custody == nil {
		return nil, errors.New("dex: custody is required")
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewInMemoryStore()
	}
	if cfg.Journal == nil {
		cfg.Journal = storage.NewNopJournal()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	a := &App{
		registry: asset.NewRegistry(),
		ledger:   ledger.New(),
		custody:  cfg.Custody,
		store:    cfg.Store,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}

	opts := []engine.Option{
		engine.WithLogger(cfg.Logger),
		engine.WithPersister(cfg.Store),
		engine.WithMetrics(cfg.Metrics),
		engine.WithClock(cfg.Clock),
	}
	if cfg.Publisher != nil {
		opts = append(opts, engine.WithPublisher(cfg.Publisher))
	}
	a.engine = engine.New(a.registry, a.ledger, opts...)

	if err := a.recover(cfg.Assets); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) recover(configured []asset.Asset) error {
	persisted, err := a.store.LoadAssets()
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	for _, as := range persisted {
		if err := a.registry.Register(as.Ticker, as.Token, as.IsQuote); err != nil {
			return fmt.Errorf("recover asset %s: %w", as.Ticker, err)
		}
	}
	for _, as := range configured {
		if _, err := a.registry.Resolve(as.Ticker); err == nil {
			continue
		}
		if err := a.RegisterAsset(as.Ticker, as.Token, as.IsQuote); err != nil {
			return fmt.Errorf("register configured asset %s: %w", as.Ticker, err)
		}
	}

	balances, err := a.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	if err := a.ledger.Restore(balances); err != nil {
		return err
	}

	orders, err := a.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	counters, _, err := a.store.LoadCounters()
	if err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	if err := a.engine.Restore(orders, counters.NextOrderID, counters.NextTradeID); err != nil {
		return err
	}

	a.logger.Info("state_recovered",
		zap.Int("assets", a.registry.Count()),
		zap.Int("balances", len(balances)),
		zap.Int("orders", len(orders)),
	)
	return nil
}

// Close releases the store and the journal
func (a *App) Close() error {
	return errors.Join(a.journal.Close(), a.store.Close())
}

// RegisterAsset adds a tradable asset, or the quote asset when isQuote is set.
// A zero token derives a deterministic handle from the ticker.
func (a *App) RegisterAsset(ticker asset.Ticker, token common.Address, isQuote bool) error {
	if token == (common.Address{}) {
		token = asset.TokenAddress(ticker)
	}

	a.assetMu.Lock()
	defer a.assetMu.Unlock()

	err := a.registry.Register(ticker, token, isQuote)
	a.record(storage.Entry{Op: "register_asset", Ticker: ticker.String()}, err)
	if err != nil {
		return err
	}

	entry := storage.AssetEntry{
		Index: a.registry.Count() - 1,
		Asset: asset.Asset{Ticker: ticker, Token: token, IsQuote: isQuote},
	}
	if err := a.store.Commit(&storage.Batch{Assets: []storage.AssetEntry{entry}}); err != nil {
		a.logger.Error("persist_failed", zap.String("op", "register_asset"), zap.Error(err))
	}

	a.logger.Info("asset_registered",
		zap.String("ticker", ticker.String()),
		zap.String("token", token.Hex()),
		zap.Bool("is_quote", isQuote),
	)
	return nil
}

// Deposit pulls amount from the trader's wallet through custody, then credits
// the ledger. The ledger is only credited for a confirmed transfer.
func (a *App) Deposit(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64) error {
	err := a.deposit(ctx, trader, ticker, amount)
	a.record(storage.Entry{Op: "deposit", Trader: trader.Hex(), Ticker: ticker.String(), Amount: amount}, err)
	if err != nil {
		return err
	}
	a.logger.Info("deposit",
		zap.String("trader", trader.Hex()),
		zap.String("ticker", ticker.String()),
		zap.Int64("amount", amount),
	)
	return nil
}

func (a *App) deposit(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64) error {
	as, err := a.registry.Resolve(ticker)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", ledger.ErrInvalidAmount, amount)
	}
	if err := a.custody.TransferIn(ctx, trader, as, amount); err != nil {
		return fmt.Errorf("transfer in: %w", err)
	}

	err = a.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Credit(trader, ticker, amount); err != nil {
			return err
		}
		a.persist("deposit", &storage.Batch{Balances: tx.Touched()})
		return nil
	})
	if err != nil {
		// return the funds we could not credit
		if rerr := a.custody.TransferOut(context.WithoutCancel(ctx), trader, as, amount); rerr != nil {
			a.logger.Error("deposit_refund_failed",
				zap.String("trader", trader.Hex()),
				zap.String("ticker", ticker.String()),
				zap.Int64("amount", amount),
				zap.Error(rerr),
			)
		}
		return err
	}
	return nil
}

// Withdraw debits the trader's available balance, then releases the funds
// through custody. If custody fails the debit is reversed.
func (a *App) Withdraw(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64) error {
	err := a.withdraw(ctx, trader, ticker, amount)
	a.record(storage.Entry{Op: "withdraw", Trader: trader.Hex(), Ticker: ticker.String(), Amount: amount}, err)
	if err != nil {
		return err
	}
	a.logger.Info("withdraw",
		zap.String("trader", trader.Hex()),
		zap.String("ticker", ticker.String()),
		zap.Int64("amount", amount),
	)
	return nil
}

func (a *App) withdraw(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64) error {
	as, err := a.registry.Resolve(ticker)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d", ledger.ErrInvalidAmount, amount)
	}

	err = a.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Debit(trader, ticker, amount); err != nil {
			return err
		}
		a.persist("withdraw", &storage.Batch{Balances: tx.Touched()})
		return nil
	})
	if err != nil {
		return err
	}

	if err := a.custody.TransferOut(ctx, trader, as, amount); err != nil {
		rerr := a.ledger.Update(func(tx *ledger.Tx) error {
			if err := tx.Credit(trader, ticker, amount); err != nil {
				return err
			}
			a.persist("withdraw_reversal", &storage.Batch{Balances: tx.Touched()})
			return nil
		})
		if rerr != nil {
			a.logger.Error("withdraw_reversal_failed",
				zap.String("trader", trader.Hex()),
				zap.String("ticker", ticker.String()),
				zap.Int64("amount", amount),
				zap.Error(rerr),
			)
		}
		return fmt.Errorf("transfer out: %w", err)
	}
	return nil
}

// CreateLimitOrder rests a limit order and returns it with its id
func (a *App) CreateLimitOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount, price int64, side orderbook.Side) (orderbook.Order, error) {
	o, err := a.engine.CreateLimitOrder(ctx, trader, ticker, amount, price, side)
	a.record(storage.Entry{
		Op: "limit_order", Trader: trader.Hex(), Ticker: ticker.String(),
		Side: side.String(), Amount: amount, Price: price,
	}, err)
	return o, err
}

// CreateMarketOrder fills against the book and returns what was filled
func (a *App) CreateMarketOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount int64, side orderbook.Side) (engine.FillReport, error) {
	r, err := a.engine.CreateMarketOrder(ctx, trader, ticker, amount, side)
	a.record(storage.Entry{
		Op: "market_order", Trader: trader.Hex(), Ticker: ticker.String(),
		Side: side.String(), Amount: amount,
	}, err)
	return r, err
}

func (a *App) GetOrders(ticker asset.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	return a.engine.GetOrders(ticker, side)
}

func (a *App) Depth(ticker asset.Ticker, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	return a.engine.Depth(ticker, side)
}

func (a *App) LastPrice(ticker asset.Ticker) int64 {
	return a.engine.LastPrice(ticker)
}

// GetBalance returns the trader's total balance of ticker, reserved part included
func (a *App) GetBalance(trader common.Address, ticker asset.Ticker) (int64, error) {
	b, err := a.Balance(trader, ticker)
	return b.Total, err
}

// Balance returns the full balance record of one asset
func (a *App) Balance(trader common.Address, ticker asset.Ticker) (ledger.Balance, error) {
	if _, err := a.registry.Resolve(ticker); err != nil {
		return ledger.Balance{}, err
	}
	return a.ledger.Balance(trader, ticker), nil
}

// Balances returns every balance of a trader, sorted by ticker
func (a *App) Balances(trader common.Address) []ledger.Balance {
	return a.ledger.Balances(trader)
}

func (a *App) ListAssets() []asset.Asset {
	return a.registry.List()
}

func (a *App) ResolveAsset(ticker asset.Ticker) (asset.Asset, error) {
	return a.registry.Resolve(ticker)
}

// Holdings sums every trader's total balance per asset. Custody must hold
// at least this much of each token.
func (a *App) Holdings() (map[asset.Ticker]int64, error) {
	out := make(map[asset.Ticker]int64)
	for _, b := range a.ledger.Snapshot() {
		sum, err := ledger.AddChecked(out[b.Ticker], b.Total)
		if err != nil {
			return nil, fmt.Errorf("holdings of %s: %w", b.Ticker, err)
		}
		out[b.Ticker] = sum
	}
	return out, nil
}

// RecentTrades returns up to limit trades of ticker, newest first
func (a *App) RecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Fill, error) {
	if _, err := a.registry.Resolve(ticker); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return a.store.LoadRecentTrades(ticker, limit)
}

func (a *App) persist(op string, b *storage.Batch) {
	if err := a.store.Commit(b); err != nil {
		a.logger.Error("persist_failed", zap.String("op", op), zap.Error(err))
	}
}

func (a *App) record(e storage.Entry, err error) {
	e.Time = a.clock.Now()
	e.Result = "accepted"
	if err != nil {
		e.Result = "rejected"
		e.Error = err.Error()
	}
	if jerr := a.journal.Append(e); jerr != nil {
		a.logger.Warn("journal_append_failed", zap.String("op", e.Op), zap.Error(jerr))
	}
}
