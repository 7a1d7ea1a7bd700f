package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/metrics"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

// FillPublisher receives every settled fill, in fill order, after the
// request that produced it has released its locks. Publishing is best effort.
type FillPublisher interface {
	PublishFill(ctx context.Context, f orderbook.Fill) error
}

// Persister writes the mutations of one accepted request
// Commit is called while the ledger is locked, so batches arrive in commit order.
type Persister interface {
	Commit(b *storage.Batch) error
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithPublisher(p FillPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(c util.Clock) Option {
	return func(e *Engine) { e.clock = c }
}
