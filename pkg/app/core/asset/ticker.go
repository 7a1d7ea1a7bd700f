package asset

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// TickerLength is the fixed width of a ticker (a bytes32 on the EVM side)
const TickerLength = 32

// Ticker is a fixed-width asset symbol, ASCII left-aligned and zero padded
// Example: "REP" -> 0x524550000...000
type Ticker [TickerLength]byte

// ParseTicker converts a symbol string into a Ticker
// Returns ErrInvalidTicker if the symbol is empty, too long, or contains a NUL byte
func ParseTicker(s string) (Ticker, error) {
	var t Ticker
	if len(s) == 0 {
		return t, fmt.Errorf("%w: empty ticker", ErrInvalidTicker)
	}
	if len(s) > TickerLength {
		return t, fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidTicker, s, TickerLength)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return t, fmt.Errorf("%w: %q contains NUL", ErrInvalidTicker, s)
	}
	copy(t[:], s)
	return t, nil
}

// MustTicker is ParseTicker for constants and tests; it panics on invalid input
func MustTicker(s string) Ticker {
	t, err := ParseTicker(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the symbol without padding
func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// IsZero reports whether the ticker is unset
func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

// Hex returns the 0x-prefixed padded form, as an EVM client would see it
func (t Ticker) Hex() string {
	return hexutil.Encode(t[:])
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := ParseTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenAddress derives a deterministic token handle for a ticker
// Used when configuration does not pin a real contract address
func TokenAddress(t Ticker) common.Address {
	return common.BytesToAddress(crypto.Keccak256(t[:]))
}
