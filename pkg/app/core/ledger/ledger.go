package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientLocked  = errors.New("insufficient locked balance")
	ErrOverflow            = errors.New("amount overflow")
)

// Ledger holds every trader's balance per asset
// It is the only writer of balances. Composite mutations go through Update,
// which applies all of them or none.
type Ledger struct {
	mu       sync.Mutex
	balances map[Key]*Balance
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		balances: make(map[Key]*Balance),
	}
}

// Deposit credits amount to the trader's balance
// The caller has already moved the funds in through custody
func (l *Ledger) Deposit(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", ErrInvalidAmount, amount)
	}
	return l.Update(func(tx *Tx) error {
		return tx.Credit(trader, ticker, amount)
	})
}

// Withdraw debits amount from the trader's available balance
func (l *Ledger) Withdraw(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d", ErrInvalidAmount, amount)
	}
	return l.Update(func(tx *Tx) error {
		return tx.Debit(trader, ticker, amount)
	})
}

// Balance returns a copy of the trader's balance (zero if never touched)
func (l *Ledger) Balance(trader common.Address, ticker asset.Ticker) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(Key{Trader: trader, Ticker: ticker})
}

// Balances returns every non-empty balance of one trader, sorted by ticker
func (l *Ledger) Balances(trader common.Address) []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Balance
	for k, b := range l.balances {
		if k.Trader == trader {
			out = append(out, *b)
		}
	}
	sortBalances(out)
	return out
}

// Snapshot returns a copy of all balances sorted by (trader, ticker)
func (l *Ledger) Snapshot() []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	sortBalances(out)
	return out
}

// Restore loads persisted balances into an empty ledger
func (l *Ledger) Restore(balances []Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.balances) != 0 {
		return fmt.Errorf("restore into non-empty ledger (%d balances)", len(l.balances))
	}
	for _, b := range balances {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		cp := b
		l.balances[b.key()] = &cp
	}
	return nil
}

// Update runs fn with exclusive access to the ledger
// If fn returns an error every mutation it made is rolled back
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l, touched: make(map[Key]struct{})}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// get returns the balance for k, assumes lock is held
func (l *Ledger) get(k Key) Balance {
	if b, ok := l.balances[k]; ok {
		return *b
	}
	return Balance{Trader: k.Trader, Ticker: k.Ticker}
}

func sortBalances(bs []Balance) {
	sort.Slice(bs, func(i, j int) bool {
		if c := bytes.Compare(bs[i].Trader[:], bs[j].Trader[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(bs[i].Ticker[:], bs[j].Ticker[:]) < 0
	})
}
