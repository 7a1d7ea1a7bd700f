package engine

import (
	"errors"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// Rejections. All are detected before any state changes.
var (
	ErrUnknownAsset             = asset.ErrUnknownAsset
	ErrQuoteAssetNotTradable    = errors.New("quote asset not tradable")
	ErrInsufficientAssetBalance = errors.New("insufficient asset balance")
	ErrInsufficientQuoteBalance = errors.New("insufficient quote balance")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInvalidPrice             = errors.New("invalid price")
	ErrInvalidSide              = errors.New("invalid side")
	ErrNoQuoteAsset             = errors.New("no quote asset registered")
)

// IsRejection reports whether err is a validation rejection
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrUnknownAsset, ErrQuoteAssetNotTradable, ErrInsufficientAssetBalance,
		ErrInsufficientQuoteBalance, ErrInvalidAmount, ErrInvalidPrice, ErrInvalidSide, ErrNoQuoteAsset,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
