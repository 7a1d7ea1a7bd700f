// Package notify delivers settled fills to downstream consumers.
// Delivery is publish-only: no consumer acknowledges a fill back to the engine.
package notify

import (
	"context"
	"errors"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Publisher receives one settled fill at a time
type Publisher interface {
	PublishFill(ctx context.Context, f orderbook.Fill) error
}

// Func adapts a function to Publisher
type Func func(ctx context.Context, f orderbook.Fill) error

func (fn Func) PublishFill(ctx context.Context, f orderbook.Fill) error { return fn(ctx, f) }

// Nop drops every fill
type Nop struct{}

func (Nop) PublishFill(context.Context, orderbook.Fill) error { return nil }

// Multi fans a fill out to every publisher, even if one fails
type Multi []Publisher

func (m Multi) PublishFill(ctx context.Context, f orderbook.Fill) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishFill(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = Func(nil)
	_ Publisher = Nop{}
	_ Publisher = Multi(nil)
)
