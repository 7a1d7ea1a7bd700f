// Package custody moves tokens between traders' wallets and the exchange.
//
// The exchange never trusts a pending transfer: TransferIn must complete before
// a deposit is credited, and TransferOut is issued only after the ledger debit.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient wallet funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("transfer amount must be positive")
)

// Custody is the external asset custody collaborator
// Both calls are synchronous and confirmed when they return nil.
type Custody interface {
	TransferIn(ctx context.Context, trader common.Address, a asset.Asset, amount int64) error
	TransferOut(ctx context.Context, trader common.Address, a asset.Asset, amount int64) error
}

type holding struct {
	token  common.Address
	trader common.Address
}

// Vault is an in-memory ERC20-style custody: every token keeps wallet
// balances and the allowance each trader granted to the exchange
type Vault struct {
	mu         sync.Mutex
	wallets    map[holding]int64
	allowances map[holding]int64
	held       map[common.Address]int64 // token -> amount held by the exchange
}

// NewVault creates an empty vault
func NewVault() *Vault {
	return &Vault{
		wallets:    make(map[holding]int64),
		allowances: make(map[holding]int64),
		held:       make(map[common.Address]int64),
	}
}

// Faucet mints amount of token into trader's wallet (devnet/testing)
func (v *Vault) Faucet(token, trader common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: faucet %d", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	h := holding{token, trader}
	sum, err := ledger.AddChecked(v.wallets[h], amount)
	if err != nil {
		return fmt.Errorf("faucet: %w", err)
	}
	v.wallets[h] = sum
	return nil
}

// Approve sets the amount of token the exchange may pull from trader's wallet
func (v *Vault) Approve(token, trader common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: approve %d", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowances[holding{token, trader}] = amount
	return nil
}

// BalanceOf returns trader's wallet balance of token (outside the exchange)
func (v *Vault) BalanceOf(token, trader common.Address) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[holding{token, trader}]
}

// Allowance returns what the exchange may still pull from trader's wallet
func (v *Vault) Allowance(token, trader common.Address) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allowances[holding{token, trader}]
}

// Held returns the amount of token held by the exchange
func (v *Vault) Held(token common.Address) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held[token]
}

// SetHeld overwrites what the exchange holds of token. Used on startup to
// back balances recovered from the store.
func (v *Vault) SetHeld(token common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: held %d", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held[token] = amount
	return nil
}

// TransferIn pulls amount from the trader's wallet into the exchange (transferFrom)
func (v *Vault) TransferIn(ctx context.Context, trader common.Address, a asset.Asset, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: transfer in %d", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h := holding{a.Token, trader}
	if v.allowances[h] < amount {
		return fmt.Errorf("%w: %s approved %d %s, need %d", ErrInsufficientAllowance, trader.Hex(), v.allowances[h], a.Ticker, amount)
	}
	if v.wallets[h] < amount {
		return fmt.Errorf("%w: %s holds %d %s, need %d", ErrInsufficientFunds, trader.Hex(), v.wallets[h], a.Ticker, amount)
	}

	held, err := ledger.AddChecked(v.held[a.Token], amount)
	if err != nil {
		return fmt.Errorf("exchange holdings of %s: %w", a.Ticker, err)
	}

	v.allowances[h] -= amount
	v.wallets[h] -= amount
	v.held[a.Token] = held
	return nil
}

// TransferOut releases amount from the exchange to the trader's wallet
func (v *Vault) TransferOut(ctx context.Context, trader common.Address, a asset.Asset, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: transfer out %d", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held[a.Token] < amount {
		return fmt.Errorf("%w: exchange holds %d %s, release %d", ErrInsufficientFunds, v.held[a.Token], a.Ticker, amount)
	}
	h := holding{a.Token, trader}
	wallet, err := ledger.AddChecked(v.wallets[h], amount)
	if err != nil {
		return fmt.Errorf("wallet of %s: %w", trader.Hex(), err)
	}
	v.held[a.Token] -= amount
	v.wallets[h] = wallet
	return nil
}

var _ Custody = (*Vault)(nil)
