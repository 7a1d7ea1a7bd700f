package storage

import (
	"sort"
	"sync"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// InMemoryStore keeps state in maps; used when no data dir is configured and in tests
type InMemoryStore struct {
	mu       sync.Mutex
	assets   map[int]asset.Asset
	balances map[ledger.Key]ledger.Balance
	orders   map[string]orderbook.Order
	trades   map[asset.Ticker][]orderbook.Fill
	counters *Counters
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		assets:   make(map[int]asset.Asset),
		balances: make(map[ledger.Key]ledger.Balance),
		orders:   make(map[string]orderbook.Order),
		trades:   make(map[asset.Ticker][]orderbook.Fill),
	}
}

func (s *InMemoryStore) Commit(b *Batch) error {
	if b.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range b.Assets {
		s.assets[a.Index] = a.Asset
	}
	for _, bal := range b.Balances {
		k := ledger.Key{Trader: bal.Trader, Ticker: bal.Ticker}
		if bal.Total == 0 && bal.Locked == 0 {
			delete(s.balances, k)
			continue
		}
		s.balances[k] = bal
	}
	for _, o := range b.Orders {
		s.orders[string(orderKey(o))] = o
	}
	for _, o := range b.Removed {
		delete(s.orders, string(orderKey(o)))
	}
	for _, f := range b.Trades {
		s.trades[f.Ticker] = append(s.trades[f.Ticker], f)
	}
	if b.Counters != nil {
		c := *b.Counters
		s.counters = &c
	}
	return nil
}

func (s *InMemoryStore) LoadAssets() ([]asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := make([]int, 0, len(s.assets))
	for i := range s.assets {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]asset.Asset, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.assets[i])
	}
	return out, nil
}

func (s *InMemoryStore) LoadBalances() ([]ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	return out, nil
}

// LoadOrders returns orders in key order, matching PebbleStore
func (s *InMemoryStore) LoadOrders() ([]orderbook.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.orders))
	for k := range s.orders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]orderbook.Order, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.orders[k])
	}
	return out, nil
}

func (s *InMemoryStore) LoadRecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.trades[ticker]
	var out []orderbook.Fill
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *InMemoryStore) LoadCounters() (Counters, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		return Counters{}, false, nil
	}
	return *s.counters, true, nil
}

func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
