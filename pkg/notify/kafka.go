package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FillEvent is the wire form of a fill on the trades topic
type FillEvent struct {
	TradeID uint64    `json:"tradeId"`
	OrderID uint64    `json:"orderId"`
	Ticker  string    `json:"ticker"`
	Buyer   string    `json:"buyer"`
	Seller  string    `json:"seller"`
	Side    string    `json:"side"` // taker side
	Amount  int64     `json:"amount"`
	Price   int64     `json:"price"`
	Date    time.Time `json:"date"`
}

func NewFillEvent(f orderbook.Fill) FillEvent {
	return FillEvent{
		TradeID: f.TradeID,
		OrderID: f.OrderID,
		Ticker:  f.Ticker.String(),
		Buyer:   f.Buyer().Hex(),
		Seller:  f.Seller().Hex(),
		Side:    f.TakerSide.String(),
		Amount:  f.Amount,
		Price:   f.Price,
		Date:    f.Date,
	}
}

// KafkaPublisher writes each fill to a topic, keyed by ticker so one
// asset's fills stay ordered within a partition
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// NewKafkaPublisherWithWriter wraps an existing writer
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishFill(ctx context.Context, f orderbook.Fill) error {
	value, err := json.Marshal(NewFillEvent(f))
	if err != nil {
		return fmt.Errorf("encode fill %d: %w", f.TradeID, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(f.Ticker.String()),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
