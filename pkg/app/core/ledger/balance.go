package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// Key identifies a balance: one per (trader, asset)
type Key struct {
	Trader common.Address
	Ticker asset.Ticker
}

// Balance tracks a trader's holding of one asset
// Total is the balance reported to callers; Locked is the part reserved by
// resting limit orders and is not available for new orders or withdrawals
type Balance struct {
	Trader common.Address `json:"trader"`
	Ticker asset.Ticker   `json:"ticker"`
	Total  int64          `json:"total"`
	Locked int64          `json:"locked"`
}

// Available returns the part of the balance not reserved by resting orders
func (b Balance) Available() int64 {
	return b.Total - b.Locked
}

func (b Balance) key() Key {
	return Key{Trader: b.Trader, Ticker: b.Ticker}
}

// Validate checks balance invariants
func (b Balance) Validate() error {
	if b.Total < 0 {
		return fmt.Errorf("negative balance %s/%s: %d", b.Trader.Hex(), b.Ticker, b.Total)
	}
	if b.Locked < 0 {
		return fmt.Errorf("negative locked %s/%s: %d", b.Trader.Hex(), b.Ticker, b.Locked)
	}
	if b.Locked > b.Total {
		return fmt.Errorf("locked (%d) exceeds balance (%d) for %s/%s", b.Locked, b.Total, b.Trader.Hex(), b.Ticker)
	}
	return nil
}

// Settlement describes one fill to settle between two counterparties
// BuyerReserved/SellerReserved mark the leg that was reserved by a resting
// order; that reservation is released as the leg is paid out
type Settlement struct {
	Buyer          common.Address
	Seller         common.Address
	Asset          asset.Ticker
	Quote          asset.Ticker
	Quantity       int64
	Price          int64
	BuyerReserved  bool
	SellerReserved bool
}

// Cost returns quantity * price in quote units, reporting overflow
func (s Settlement) Cost() (int64, error) {
	return MulChecked(s.Quantity, s.Price)
}

// MulChecked multiplies two non-negative amounts, failing on overflow
func MulChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand %d*%d", ErrInvalidAmount, a, b)
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a {
		return 0, fmt.Errorf("%w: %d*%d overflows", ErrOverflow, a, b)
	}
	return c, nil
}

// AddChecked adds two non-negative amounts, failing on overflow
func AddChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand %d+%d", ErrInvalidAmount, a, b)
	}
	if a > maxInt64-b {
		return 0, fmt.Errorf("%w: %d+%d overflows", ErrOverflow, a, b)
	}
	return a + b, nil
}
