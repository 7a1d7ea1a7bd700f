package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrDuplicateAsset  = errors.New("duplicate asset")
	ErrQuoteAlreadySet = errors.New("quote asset already registered")
	ErrInvalidTicker   = errors.New("invalid ticker")
)

// Asset is a registered token. Immutable once registered.
type Asset struct {
	Ticker  Ticker         `json:"ticker"`
	Token   common.Address `json:"token"`   // custody handle (ERC20 contract address)
	IsQuote bool           `json:"isQuote"` // quote currency: deposit/withdraw only, never traded
}

// Registry maps tickers to assets in a thread-safe manner
// Assets can only be added; there is no removal
type Registry struct {
	mu     sync.RWMutex
	assets map[Ticker]Asset
	order  []Ticker // registration order, for listing
	quote  *Ticker
}

// NewRegistry creates an empty asset registry
func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[Ticker]Asset),
	}
}

// Register adds a new asset to the registry
// Returns ErrDuplicateAsset if the ticker is already present and
// ErrQuoteAlreadySet if a second quote asset is flagged
func (r *Registry) Register(ticker Ticker, token common.Address, isQuote bool) error {
	if ticker.IsZero() {
		return fmt.Errorf("%w: empty ticker", ErrInvalidTicker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[ticker]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAsset, ticker)
	}
	if isQuote && r.quote != nil {
		return fmt.Errorf("%w: %s is quote, cannot add %s", ErrQuoteAlreadySet, *r.quote, ticker)
	}

	r.assets[ticker] = Asset{Ticker: ticker, Token: token, IsQuote: isQuote}
	r.order = append(r.order, ticker)
	if isQuote {
		t := ticker
		r.quote = &t
	}
	return nil
}

// Resolve looks up an asset by ticker
func (r *Registry) Resolve(ticker Ticker) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.assets[ticker]
	if !exists {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, ticker)
	}
	return a, nil
}

// Quote returns the quote asset, if one has been registered
func (r *Registry) Quote() (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.quote == nil {
		return Asset{}, false
	}
	return r.assets[*r.quote], true
}

// List returns all assets in registration order
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.assets[t])
	}
	return out
}

// Count returns the number of registered assets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
