package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// Tx is a ledger transaction handed out by Update
// It must not be used after the Update callback returns.
type Tx struct {
	l       *Ledger
	undo    []undoEntry
	touched map[Key]struct{}
	order   []Key // first-touch order
}

type undoEntry struct {
	key     Key
	prev    Balance
	existed bool
}

// Balance returns the current balance inside the transaction
func (tx *Tx) Balance(trader common.Address, ticker asset.Ticker) Balance {
	return tx.l.get(Key{Trader: trader, Ticker: ticker})
}

// Credit adds amount to the trader's total balance
func (tx *Tx) Credit(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: credit %d", ErrInvalidAmount, amount)
	}
	b := tx.Balance(trader, ticker)
	if b.Total > maxInt64-amount {
		return fmt.Errorf("%w: credit %d to %d", ErrOverflow, amount, b.Total)
	}
	b.Total += amount
	tx.put(b)
	return nil
}

// Debit removes amount from the trader's available balance
func (tx *Tx) Debit(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: debit %d", ErrInvalidAmount, amount)
	}
	b := tx.Balance(trader, ticker)
	if b.Available() < amount {
		return fmt.Errorf("%w: %s has %d %s available, need %d", ErrInsufficientBalance, trader.Hex(), b.Available(), ticker, amount)
	}
	b.Total -= amount
	tx.put(b)
	return nil
}

// Lock reserves amount of the trader's available balance
func (tx *Tx) Lock(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: lock %d", ErrInvalidAmount, amount)
	}
	b := tx.Balance(trader, ticker)
	if b.Available() < amount {
		return fmt.Errorf("%w: %s has %d %s available, need %d", ErrInsufficientBalance, trader.Hex(), b.Available(), ticker, amount)
	}
	b.Locked += amount
	tx.put(b)
	return nil
}

// Unlock releases a previous reservation
func (tx *Tx) Unlock(trader common.Address, ticker asset.Ticker, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: unlock %d", ErrInvalidAmount, amount)
	}
	b := tx.Balance(trader, ticker)
	if b.Locked < amount {
		return fmt.Errorf("%w: %s has %d %s locked, unlock %d", ErrInsufficientLocked, trader.Hex(), b.Locked, ticker, amount)
	}
	b.Locked -= amount
	tx.put(b)
	return nil
}

// TransferOnFill settles one fill: Quantity of Asset moves seller -> buyer,
// Quantity*Price of Quote moves buyer -> seller
// Every leg is checked before any leg is applied, and a leg that still fails
// undoes the legs before it.
func (tx *Tx) TransferOnFill(s Settlement) error {
	if s.Quantity <= 0 || s.Price <= 0 {
		return fmt.Errorf("%w: fill qty=%d price=%d", ErrInvalidAmount, s.Quantity, s.Price)
	}
	cost, err := s.Cost()
	if err != nil {
		return err
	}

	if err := tx.canPay(s.Buyer, s.Quote, cost, s.BuyerReserved); err != nil {
		return fmt.Errorf("buyer leg: %w", err)
	}
	if err := tx.canPay(s.Seller, s.Asset, s.Quantity, s.SellerReserved); err != nil {
		return fmt.Errorf("seller leg: %w", err)
	}
	if err := tx.canReceive(s.Seller, s.Buyer, s.Quote, cost); err != nil {
		return fmt.Errorf("seller leg: %w", err)
	}
	if err := tx.canReceive(s.Buyer, s.Seller, s.Asset, s.Quantity); err != nil {
		return fmt.Errorf("buyer leg: %w", err)
	}

	sp := tx.savepoint()
	if err := tx.pay(s.Buyer, s.Seller, s.Quote, cost, s.BuyerReserved); err != nil {
		tx.rollbackTo(sp)
		return err
	}
	if err := tx.pay(s.Seller, s.Buyer, s.Asset, s.Quantity, s.SellerReserved); err != nil {
		tx.rollbackTo(sp)
		return err
	}
	return nil
}

// Touched returns the current value of every balance this transaction changed
func (tx *Tx) Touched() []Balance {
	out := make([]Balance, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, tx.l.get(k))
	}
	return out
}

func (tx *Tx) canPay(from common.Address, ticker asset.Ticker, amount int64, reserved bool) error {
	b := tx.Balance(from, ticker)
	if reserved {
		if b.Locked < amount {
			return fmt.Errorf("%w: %s has %d %s locked, need %d", ErrInsufficientLocked, from.Hex(), b.Locked, ticker, amount)
		}
		return nil
	}
	if b.Available() < amount {
		return fmt.Errorf("%w: %s has %d %s available, need %d", ErrInsufficientBalance, from.Hex(), b.Available(), ticker, amount)
	}
	return nil
}

// canReceive checks that to can be credited amount paid by from
// A self-payment nets out and never overflows.
func (tx *Tx) canReceive(to, from common.Address, ticker asset.Ticker, amount int64) error {
	if to == from {
		return nil
	}
	b := tx.Balance(to, ticker)
	if b.Total > maxInt64-amount {
		return fmt.Errorf("%w: credit %d to %d", ErrOverflow, amount, b.Total)
	}
	return nil
}

func (tx *Tx) pay(from, to common.Address, ticker asset.Ticker, amount int64, reserved bool) error {
	if reserved {
		if err := tx.Unlock(from, ticker, amount); err != nil {
			return err
		}
	}
	if err := tx.Debit(from, ticker, amount); err != nil {
		return err
	}
	return tx.Credit(to, ticker, amount)
}

// put stores b, recording its previous value for rollback
func (tx *Tx) put(b Balance) {
	k := b.key()
	prev, existed := tx.l.balances[k]
	e := undoEntry{key: k, existed: existed}
	if existed {
		e.prev = *prev
	}
	tx.undo = append(tx.undo, e)

	if _, seen := tx.touched[k]; !seen {
		tx.touched[k] = struct{}{}
		tx.order = append(tx.order, k)
	}

	cp := b
	tx.l.balances[k] = &cp
}

type savepoint struct {
	undo, order int
}

func (tx *Tx) savepoint() savepoint {
	return savepoint{undo: len(tx.undo), order: len(tx.order)}
}

// rollbackTo undoes every mutation made after sp
func (tx *Tx) rollbackTo(sp savepoint) {
	for i := len(tx.undo) - 1; i >= sp.undo; i-- {
		e := tx.undo[i]
		if e.existed {
			prev := e.prev
			tx.l.balances[e.key] = &prev
		} else {
			delete(tx.l.balances, e.key)
		}
	}
	tx.undo = tx.undo[:sp.undo]

	for _, k := range tx.order[sp.order:] {
		delete(tx.touched, k)
	}
	tx.order = tx.order[:sp.order]
}

func (tx *Tx) rollback() {
	tx.rollbackTo(savepoint{})
}

const maxInt64 = int64(^uint64(0) >> 1)
