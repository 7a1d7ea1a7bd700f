package orderbook

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

var (
	rep     = asset.MustTicker("REP")
	trader1 = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	trader2 = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func place(t *testing.T, ob *OrderBook, trader common.Address, side Side, price, amount int64) *Order {
	t.Helper()
	o := &Order{
		ID:     uint64(ob.seq + 1),
		Trader: trader,
		Ticker: rep,
		Side:   side,
		Price:  price,
		Amount: amount,
		Seq:    ob.NextSeq(),
	}
	require.NoError(t, ob.Insert(o))
	return o
}

func prices(orders []Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.Price
	}
	return out
}

func TestBidOrdering(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Buy, 10, 10)
	place(t, ob, trader2, Buy, 11, 10) // better price goes ahead
	place(t, ob, trader2, Buy, 9, 10)

	bids := ob.Orders(Buy)
	require.Len(t, bids, 3)
	assert.Equal(t, []int64{11, 10, 9}, prices(bids))
	assert.Equal(t, trader2, bids[0].Trader)
	assert.Equal(t, trader1, bids[1].Trader)
	assert.Empty(t, ob.Orders(Sell))
}

func TestAskOrdering(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Sell, 12, 1)
	place(t, ob, trader1, Sell, 10, 1)
	place(t, ob, trader1, Sell, 11, 1)

	assert.Equal(t, []int64{10, 11, 12}, prices(ob.Orders(Sell)))
}

func TestTimePriorityAtEqualPrice(t *testing.T) {
	ob := New(rep)
	first := place(t, ob, trader1, Sell, 10, 5)
	second := place(t, ob, trader2, Sell, 10, 5)

	asks := ob.Orders(Sell)
	require.Len(t, asks, 2)
	assert.Equal(t, first.ID, asks[0].ID)
	assert.Equal(t, second.ID, asks[1].ID)

	best, ok := ob.Best(Sell)
	require.True(t, ok)
	assert.Same(t, first, best)
}

func TestSortInvariantUnderRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ob := New(rep)

	for i := 0; i < 2000; i++ {
		side := Side(rng.Intn(2))
		switch {
		case rng.Intn(4) == 0 && ob.Len(side) > 0:
			best, _ := ob.Best(side)
			require.True(t, ob.Remove(best))
		case rng.Intn(5) == 0:
			_, err := ob.Match(side, rng.Int63n(30)+1, func(*Order, int64) error { return nil })
			require.NoError(t, err)
		default:
			place(t, ob, trader1, side, rng.Int63n(20)+1, rng.Int63n(10)+1)
		}
		assertSorted(t, ob)
	}
}

func assertSorted(t *testing.T, ob *OrderBook) {
	t.Helper()
	bids := ob.Orders(Buy)
	for i := 1; i < len(bids); i++ {
		prev, cur := bids[i-1], bids[i]
		ok := prev.Price > cur.Price || (prev.Price == cur.Price && prev.Seq < cur.Seq)
		require.Truef(t, ok, "bids out of order at %d: %+v then %+v", i, prev, cur)
	}
	asks := ob.Orders(Sell)
	for i := 1; i < len(asks); i++ {
		prev, cur := asks[i-1], asks[i]
		ok := prev.Price < cur.Price || (prev.Price == cur.Price && prev.Seq < cur.Seq)
		require.Truef(t, ok, "asks out of order at %d: %+v then %+v", i, prev, cur)
	}
}

func TestMatchPartialFill(t *testing.T) {
	ob := New(rep)
	bid := place(t, ob, trader1, Buy, 10, 10)

	var settled []int64
	filled, err := ob.Match(Sell, 5, func(maker *Order, qty int64) error {
		assert.Same(t, bid, maker)
		settled = append(settled, qty)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), filled)
	assert.Equal(t, []int64{5}, settled)

	bids := ob.Orders(Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(5), bids[0].Filled)
	assert.Equal(t, int64(10), bids[0].Amount)
	assert.Equal(t, int64(10), ob.LastPrice())
}

func TestMatchWalksLevelsAndRemovesFilled(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Sell, 10, 3)
	place(t, ob, trader2, Sell, 10, 3)
	place(t, ob, trader1, Sell, 12, 4)

	var fills [][2]int64
	filled, err := ob.Match(Buy, 8, func(maker *Order, qty int64) error {
		fills = append(fills, [2]int64{maker.Price, qty})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), filled)
	assert.Equal(t, [][2]int64{{10, 3}, {10, 3}, {12, 2}}, fills)

	asks := ob.Orders(Sell)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(12), asks[0].Price)
	assert.Equal(t, int64(2), asks[0].Remaining())
}

func TestMatchDiscardsLeftover(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Buy, 10, 2)

	filled, err := ob.Match(Sell, 50, func(*Order, int64) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int64(2), filled, "never more than available liquidity")
	assert.Zero(t, ob.Len(Buy))
	assert.Zero(t, ob.Len(Sell), "market remainder never rests")

	filled, err = ob.Match(Sell, 50, func(*Order, int64) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, filled)
}

func TestMatchStopsOnSettleError(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Sell, 10, 1)
	place(t, ob, trader1, Sell, 11, 1)

	boom := errors.New("boom")
	calls := 0
	filled, err := ob.Match(Buy, 2, func(*Order, int64) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), filled)
	asks := ob.Orders(Sell)
	require.Len(t, asks, 1)
	assert.Zero(t, asks[0].Filled, "failed fill leaves maker untouched")
}

func TestQuoteDoesNotMutate(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Sell, 10, 100)
	place(t, ob, trader2, Sell, 12, 10)
	before := ob.Orders(Sell)

	filled, cost, err := ob.Quote(Buy, 105)
	require.NoError(t, err)
	assert.Equal(t, int64(105), filled)
	assert.Equal(t, int64(100*10+5*12), cost)
	assert.Equal(t, before, ob.Orders(Sell))

	filled, cost, err = ob.Quote(Buy, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(110), filled)
	assert.Equal(t, int64(1120), cost)
}

func TestQuoteOverflow(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Sell, math.MaxInt64/2, 3)
	_, _, err := ob.Quote(Buy, 3)
	require.ErrorIs(t, err, ErrCostOverflow)
}

func TestDepthAggregatesLevels(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Buy, 10, 3)
	place(t, ob, trader2, Buy, 10, 4)
	place(t, ob, trader1, Buy, 9, 1)

	assert.Equal(t, []PriceLevel{
		{Price: 10, Qty: 7, Orders: 2},
		{Price: 9, Qty: 1, Orders: 1},
	}, ob.Depth(Buy))
}

func TestOrdersSnapshotIsIdempotentAndDetached(t *testing.T) {
	ob := New(rep)
	place(t, ob, trader1, Buy, 10, 3)

	a := ob.Orders(Buy)
	b := ob.Orders(Buy)
	assert.Equal(t, a, b)

	a[0].Filled = 2
	assert.Zero(t, ob.Orders(Buy)[0].Filled, "snapshot must not alias the book")
}

func TestInsertValidation(t *testing.T) {
	ob := New(rep)
	ok := place(t, ob, trader1, Buy, 10, 1)

	tests := []struct {
		name  string
		order Order
	}{
		{"bad side", Order{Ticker: rep, Side: Side(7), Price: 1, Amount: 1, Seq: 100}},
		{"wrong ticker", Order{Ticker: asset.MustTicker("BAT"), Side: Buy, Price: 1, Amount: 1, Seq: 101}},
		{"no seq", Order{Ticker: rep, Side: Buy, Price: 1, Amount: 1}},
		{"zero price", Order{Ticker: rep, Side: Buy, Price: 0, Amount: 1, Seq: 102}},
		{"already filled", Order{Ticker: rep, Side: Buy, Price: 1, Amount: 1, Filled: 1, Seq: 103}},
		{"duplicate seq", Order{Ticker: rep, Side: Buy, Price: 10, Amount: 1, Seq: ok.Seq}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			require.ErrorIs(t, ob.Insert(&o), ErrInvalidOrder)
		})
	}
	assert.Equal(t, 1, ob.Len(Buy))
}

func TestInsertAdvancesSequence(t *testing.T) {
	ob := New(rep)
	require.NoError(t, ob.Insert(&Order{ID: 1, Ticker: rep, Side: Sell, Price: 5, Amount: 1, Seq: 41}))
	assert.Equal(t, uint64(42), ob.NextSeq())
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "SELL": Sell, "0": Buy, "1": Sell} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSide("hold")
	require.Error(t, err)
}

func TestFillCounterparties(t *testing.T) {
	f := Fill{Maker: trader1, Taker: trader2, TakerSide: Sell}
	assert.Equal(t, trader1, f.Buyer())
	assert.Equal(t, trader2, f.Seller())

	f.TakerSide = Buy
	assert.Equal(t, trader2, f.Buyer())
	assert.Equal(t, trader1, f.Seller())
}
