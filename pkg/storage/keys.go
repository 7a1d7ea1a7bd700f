package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Key schema for Pebble storage
//
//   asset:<index>                     → AssetEntry
//   bal:<trader>:<ticker>             → ledger.Balance
//   ord:<ticker>:<side>:<orderID>     → orderbook.Order (resting only)
//   trade:<ticker>:<tradeID>          → orderbook.Fill
//   meta:counters                     → next order id, next trade id
//
// Numeric ids are zero-padded (20 digits) for lexicographic sorting.

const (
	prefixAsset   = "asset:"
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	keyCounters   = "meta:counters"
)

// assetKey returns the key for a registered asset
// Format: "asset:{index}"
func assetKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixAsset, index))
}

// balanceKey returns the key for a balance
// Format: "bal:{address}:{ticker}"
func balanceKey(trader common.Address, ticker asset.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, trader.Hex(), ticker))
}

// orderKey returns the key for a resting order
// Format: "ord:{ticker}:{side}:{orderID}"
func orderKey(o orderbook.Order) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixOrder, o.Ticker, o.Side, o.ID))
}

// tradeKey returns the key for a trade
// Format: "trade:{ticker}:{tradeID}"
func tradeKey(ticker asset.Ticker, tradeID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, ticker, tradeID))
}

// tradePrefix returns the prefix for all trades of a ticker
// Format: "trade:{ticker}:"
func tradePrefix(ticker asset.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
