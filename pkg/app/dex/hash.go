package dex

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// StateHash computes a deterministic hash of the exchange state.
// Ethereum-style callers render it as 0x-prefixed hex.
//
// State components hashed (in order):
//  1. Assets in registration order (ticker, token, quote flag)
//  2. For each tradable asset, resting bids then asks in book order
//     (order id, trader, price, amount, filled)
//  3. Non-zero balances sorted by (trader, ticker): total and locked
//
// A request that was rejected leaves the hash unchanged.
func (a *App) StateHash() [32]byte {
	h := sha256.New()
	var buf [8]byte
	putUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	for _, as := range a.registry.List() {
		h.Write(as.Ticker[:])
		h.Write(as.Token[:])
		if as.IsQuote {
			h.Write([]byte{1})
			continue
		}
		h.Write([]byte{0})

		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			orders, err := a.engine.GetOrders(as.Ticker, side)
			if err != nil {
				continue
			}
			h.Write([]byte{byte(side)})
			putUint(uint64(len(orders)))
			for _, o := range orders {
				putUint(o.ID)
				h.Write(o.Trader[:])
				putUint(uint64(o.Price))
				putUint(uint64(o.Amount))
				putUint(uint64(o.Filled))
			}
		}
	}

	for _, b := range a.ledger.Snapshot() {
		if b.Total == 0 && b.Locked == 0 {
			continue
		}
		h.Write(b.Trader[:])
		h.Write(b.Ticker[:])
		putUint(uint64(b.Total))
		putUint(uint64(b.Locked))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
