package storage

import (
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Counters are the process-wide id sequences
type Counters struct {
	NextOrderID uint64 `json:"nextOrderId"`
	NextTradeID uint64 `json:"nextTradeId"`
}

// AssetEntry is a registered asset with its registration index
type AssetEntry struct {
	Index int `json:"index"`
	asset.Asset
}

// Batch is the set of mutations one request produced
// It is written atomically by Commit.
type Batch struct {
	Assets   []AssetEntry
	Balances []ledger.Balance
	Orders   []orderbook.Order // resting orders to upsert
	Removed  []orderbook.Order // fully filled orders to delete
	Trades   []orderbook.Fill
	Counters *Counters
}

// Empty reports whether the batch carries no mutation
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Assets) == 0 && len(b.Balances) == 0 && len(b.Orders) == 0 &&
		len(b.Removed) == 0 && len(b.Trades) == 0 && b.Counters == nil)
}

// Store persists exchange state
type Store interface {
	Commit(b *Batch) error
	LoadAssets() ([]asset.Asset, error)
	LoadBalances() ([]ledger.Balance, error)
	LoadOrders() ([]orderbook.Order, error)
	LoadRecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Fill, error)
	LoadCounters() (Counters, bool, error)
	Close() error
}
