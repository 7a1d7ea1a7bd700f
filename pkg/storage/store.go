package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes every mutation in b in one synced pebble batch
func (s *PebbleStore) Commit(b *Batch) error {
	if b.Empty() {
		return nil
	}

	wb := s.db.NewBatch()
	defer wb.Close()

	for _, a := range b.Assets {
		data, err := encodeJSON(a)
		if err != nil {
			return fmt.Errorf("failed to marshal asset: %w", err)
		}
		if err := wb.Set(assetKey(a.Index), data, nil); err != nil {
			return fmt.Errorf("failed to save asset: %w", err)
		}
	}

	for _, bal := range b.Balances {
		key := balanceKey(bal.Trader, bal.Ticker)
		if bal.Total == 0 && bal.Locked == 0 {
			if err := wb.Delete(key, nil); err != nil {
				return fmt.Errorf("failed to delete balance: %w", err)
			}
			continue
		}
		data, err := encodeJSON(bal)
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		if err := wb.Set(key, data, nil); err != nil {
			return fmt.Errorf("failed to save balance: %w", err)
		}
	}

	for _, o := range b.Orders {
		data, err := encodeJSON(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := wb.Set(orderKey(o), data, nil); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}

	for _, o := range b.Removed {
		if err := wb.Delete(orderKey(o), nil); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
	}

	for _, f := range b.Trades {
		data, err := encodeJSON(f)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := wb.Set(tradeKey(f.Ticker, f.TradeID), data, nil); err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
	}

	if b.Counters != nil {
		if err := wb.Set([]byte(keyCounters), encodeCounters(*b.Counters), nil); err != nil {
			return fmt.Errorf("failed to save counters: %w", err)
		}
	}

	if err := wb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// LoadAssets loads registered assets in registration order
func (s *PebbleStore) LoadAssets() ([]asset.Asset, error) {
	var out []asset.Asset
	err := s.scan([]byte(prefixAsset), func(v []byte) error {
		var e AssetEntry
		if err := decodeJSON(v, &e); err != nil {
			return fmt.Errorf("failed to unmarshal asset: %w", err)
		}
		out = append(out, e.Asset)
		return nil
	})
	return out, err
}

// LoadBalances loads every persisted balance
func (s *PebbleStore) LoadBalances() ([]ledger.Balance, error) {
	var out []ledger.Balance
	err := s.scan([]byte(prefixBalance), func(v []byte) error {
		var b ledger.Balance
		if err := decodeJSON(v, &b); err != nil {
			return fmt.Errorf("failed to unmarshal balance: %w", err)
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// LoadOrders loads every resting order
func (s *PebbleStore) LoadOrders() ([]orderbook.Order, error) {
	var out []orderbook.Order
	err := s.scan([]byte(prefixOrder), func(v []byte) error {
		var o orderbook.Order
		if err := decodeJSON(v, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// LoadRecentTrades loads the most recent N trades for a ticker, newest first
func (s *PebbleStore) LoadRecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Fill, error) {
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []orderbook.Fill
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var f orderbook.Fill
		if err := decodeJSON(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		// a ticker containing ':' shares our prefix
		if f.Ticker != ticker {
			continue
		}
		trades = append(trades, f)
	}
	return trades, iter.Error()
}

// LoadCounters returns the persisted id sequences, false if none were saved
func (s *PebbleStore) LoadCounters() (Counters, bool, error) {
	val, closer, err := s.db.Get([]byte(keyCounters))
	if errors.Is(err, pebble.ErrNotFound) {
		return Counters{}, false, nil
	}
	if err != nil {
		return Counters{}, false, fmt.Errorf("failed to get counters: %w", err)
	}
	defer closer.Close()

	c, err := decodeCounters(val)
	if err != nil {
		return Counters{}, false, err
	}
	return c, true, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

var _ Store = (*PebbleStore)(nil)
