package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

var fill = orderbook.Fill{
	TradeID:   3,
	OrderID:   1,
	Ticker:    asset.MustTicker("REP"),
	Maker:     common.HexToAddress("0xAA00000000000000000000000000000000000000"),
	Taker:     common.HexToAddress("0xBB00000000000000000000000000000000000000"),
	TakerSide: orderbook.Sell,
	Amount:    5,
	Price:     10,
	Date:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	require.NoError(t, p.PublishFill(context.Background(), fill))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "REP", string(w.msgs[0].Key))

	var ev FillEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, uint64(3), ev.TradeID)
	assert.Equal(t, fill.Maker.Hex(), ev.Buyer)
	assert.Equal(t, fill.Taker.Hex(), ev.Seller)
	assert.Equal(t, "sell", ev.Side)
	assert.Equal(t, int64(5), ev.Amount)
	assert.True(t, fill.Date.Equal(ev.Date))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherReturnsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: boom})
	require.ErrorIs(t, p.PublishFill(context.Background(), fill), boom)
}

func TestMultiReachesEveryPublisher(t *testing.T) {
	boom := errors.New("boom")
	var got []uint64
	m := Multi{
		Func(func(context.Context, orderbook.Fill) error { return boom }),
		Func(func(_ context.Context, f orderbook.Fill) error {
			got = append(got, f.TradeID)
			return nil
		}),
		Nop{},
	}

	err := m.PublishFill(context.Background(), fill)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []uint64{3}, got)
	assert.NoError(t, Multi{}.PublishFill(context.Background(), fill))
}
