package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

var (
	trader1 = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	trader2 = common.HexToAddress("0xBB00000000000000000000000000000000000000")

	dai = asset.MustTicker("DAI")
	rep = asset.MustTicker("REP")
)

func TestDeposit(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Deposit(trader1, dai, 50))

	b := l.Balance(trader1, dai)
	assert.Equal(t, int64(150), b.Total)
	assert.Equal(t, int64(150), b.Available())

	require.ErrorIs(t, l.Deposit(trader1, dai, 0), ErrInvalidAmount)
	require.ErrorIs(t, l.Deposit(trader1, dai, -5), ErrInvalidAmount)
	assert.Equal(t, int64(150), l.Balance(trader1, dai).Total)
}

func TestWithdraw(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Withdraw(trader1, dai, 100))
	assert.Equal(t, int64(0), l.Balance(trader1, dai).Total)

	require.NoError(t, l.Deposit(trader1, dai, 100))
	err := l.Withdraw(trader1, dai, 1000)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(100), l.Balance(trader1, dai).Total)

	// never-seen trader
	require.ErrorIs(t, l.Withdraw(trader2, dai, 1), ErrInsufficientBalance)
}

func TestWithdrawRespectsLocks(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.Lock(trader1, dai, 80)
	}))

	require.ErrorIs(t, l.Withdraw(trader1, dai, 30), ErrInsufficientBalance)
	require.NoError(t, l.Withdraw(trader1, dai, 20))

	b := l.Balance(trader1, dai)
	assert.Equal(t, int64(80), b.Total)
	assert.Equal(t, int64(80), b.Locked)
	assert.Equal(t, int64(0), b.Available())
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))

	boom := errors.New("boom")
	err := l.Update(func(tx *Tx) error {
		require.NoError(t, tx.Debit(trader1, dai, 40))
		require.NoError(t, tx.Credit(trader2, dai, 40))
		require.NoError(t, tx.Lock(trader1, dai, 10))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, Balance{Trader: trader1, Ticker: dai, Total: 100}, l.Balance(trader1, dai))
	assert.Equal(t, int64(0), l.Balance(trader2, dai).Total)
	assert.Len(t, l.Snapshot(), 1, "rolled back credit must not leave an empty entry")
}

func TestTransferOnFill(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Deposit(trader2, rep, 100))

	// trader1's bid of 10 @ 10 is resting, so its quote leg is reserved
	require.NoError(t, l.Update(func(tx *Tx) error { return tx.Lock(trader1, dai, 100) }))

	var touched []Balance
	require.NoError(t, l.Update(func(tx *Tx) error {
		err := tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader2,
			Asset: rep, Quote: dai,
			Quantity: 5, Price: 10,
			BuyerReserved: true,
		})
		touched = tx.Touched()
		return err
	}))

	assert.Equal(t, Balance{Trader: trader1, Ticker: dai, Total: 50, Locked: 50}, l.Balance(trader1, dai))
	assert.Equal(t, int64(5), l.Balance(trader1, rep).Total)
	assert.Equal(t, int64(50), l.Balance(trader2, dai).Total)
	assert.Equal(t, int64(95), l.Balance(trader2, rep).Total)
	assert.Len(t, touched, 4)
}

func TestTransferOnFillNeverPartiallyApplies(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Deposit(trader2, rep, 3))
	before := l.Snapshot()

	err := l.Update(func(tx *Tx) error {
		return tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader2,
			Asset: rep, Quote: dai,
			Quantity: 5, Price: 10,
		})
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, before, l.Snapshot())
}

func TestTransferOnFillRejectsOverflow(t *testing.T) {
	l := New()
	err := l.Update(func(tx *Tx) error {
		return tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader2,
			Asset: rep, Quote: dai,
			Quantity: math.MaxInt64, Price: 2,
		})
	})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestTransferOnFillRejectsReceiverOverflow(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Deposit(trader2, dai, math.MaxInt64-50))
	require.NoError(t, l.Deposit(trader2, rep, 10))
	require.NoError(t, l.Update(func(tx *Tx) error { return tx.Lock(trader2, rep, 10) }))
	before := l.Snapshot()

	// the failed fill is dropped inside a transaction that still commits
	var fillErr error
	var touched []Balance
	require.NoError(t, l.Update(func(tx *Tx) error {
		fillErr = tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader2,
			Asset: rep, Quote: dai,
			Quantity: 10, Price: 10,
			SellerReserved: true,
		})
		touched = tx.Touched()
		return nil
	}))
	require.ErrorIs(t, fillErr, ErrOverflow)
	assert.Equal(t, before, l.Snapshot())
	assert.Empty(t, touched)
}

func TestTransferOnFillUndoesItsOwnLegs(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 200))
	require.NoError(t, l.Deposit(trader2, rep, 5))

	require.NoError(t, l.Update(func(tx *Tx) error {
		require.NoError(t, tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader2,
			Asset: rep, Quote: dai,
			Quantity: 5, Price: 10,
		}))
		sp := tx.savepoint()
		require.NoError(t, tx.Credit(trader1, rep, 1))
		tx.rollbackTo(sp)
		return nil
	}))

	assert.Equal(t, int64(150), l.Balance(trader1, dai).Total)
	assert.Equal(t, int64(5), l.Balance(trader1, rep).Total)
	assert.Equal(t, int64(50), l.Balance(trader2, dai).Total)
	assert.Equal(t, int64(0), l.Balance(trader2, rep).Total)
}

func TestSelfTransferIsNeutral(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 100))
	require.NoError(t, l.Deposit(trader1, rep, 10))

	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.TransferOnFill(Settlement{
			Buyer: trader1, Seller: trader1,
			Asset: rep, Quote: dai,
			Quantity: 10, Price: 10,
		})
	}))
	assert.Equal(t, int64(100), l.Balance(trader1, dai).Total)
	assert.Equal(t, int64(10), l.Balance(trader1, rep).Total)
}

func TestUnlockMoreThanLocked(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader1, dai, 10))
	err := l.Update(func(tx *Tx) error { return tx.Unlock(trader1, dai, 1) })
	require.ErrorIs(t, err, ErrInsufficientLocked)
}

func TestRestore(t *testing.T) {
	l := New()
	require.NoError(t, l.Restore([]Balance{
		{Trader: trader1, Ticker: dai, Total: 70, Locked: 20},
		{Trader: trader2, Ticker: rep, Total: 5},
	}))
	assert.Equal(t, int64(50), l.Balance(trader1, dai).Available())
	assert.Len(t, l.Balances(trader1), 1)

	require.Error(t, l.Restore(nil), "restore twice")
	require.Error(t, New().Restore([]Balance{{Trader: trader1, Ticker: dai, Total: 1, Locked: 2}}))
}

func TestSnapshotSorted(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(trader2, dai, 1))
	require.NoError(t, l.Deposit(trader1, rep, 1))
	require.NoError(t, l.Deposit(trader1, dai, 1))

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, Key{trader1, dai}, snap[0].key())
	assert.Equal(t, Key{trader1, rep}, snap[1].key())
	assert.Equal(t, Key{trader2, dai}, snap[2].key())
}

func TestMulChecked(t *testing.T) {
	v, err := MulChecked(10, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(110), v)

	_, err = MulChecked(math.MaxInt64/2+1, 2)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = MulChecked(-1, 2)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAddChecked(t *testing.T) {
	v, err := AddChecked(10, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(21), v)

	_, err = AddChecked(math.MaxInt64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = AddChecked(-1, 2)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
