package asset

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dai = MustTicker("DAI")
	rep = MustTicker("REP")
	bat = MustTicker("BAT")
)

func TestParseTicker(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "short", in: "DAI"},
		{name: "exactly 32 bytes", in: strings.Repeat("X", 32)},
		{name: "empty", in: "", wantErr: true},
		{name: "too long", in: strings.Repeat("X", 33), wantErr: true},
		{name: "embedded NUL", in: "RE\x00P", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTicker(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTicker)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestTickerPaddingAndJSON(t *testing.T) {
	assert.Equal(t, "0x524550"+strings.Repeat("00", 29), rep.Hex())

	b, err := json.Marshal(struct {
		T Ticker `json:"t"`
	}{rep})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"REP"}`, string(b))

	var out struct {
		T Ticker `json:"t"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, rep, out.T)
}

func TestTokenAddressDeterministic(t *testing.T) {
	assert.Equal(t, TokenAddress(rep), TokenAddress(rep))
	assert.NotEqual(t, TokenAddress(rep), TokenAddress(dai))
	assert.NotEqual(t, common.Address{}, TokenAddress(bat))
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(dai, TokenAddress(dai), true))
	require.NoError(t, r.Register(rep, TokenAddress(rep), false))

	a, err := r.Resolve(rep)
	require.NoError(t, err)
	assert.Equal(t, rep, a.Ticker)
	assert.False(t, a.IsQuote)

	q, ok := r.Quote()
	require.True(t, ok)
	assert.Equal(t, dai, q.Ticker)

	_, err = r.Resolve(MustTicker("TOKEN-DOES-NOT-EXIST"))
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(rep, TokenAddress(rep), false))

	err := r.Register(rep, common.HexToAddress("0x01"), false)
	require.ErrorIs(t, err, ErrDuplicateAsset)

	a, err := r.Resolve(rep)
	require.NoError(t, err)
	assert.Equal(t, TokenAddress(rep), a.Token, "duplicate must not overwrite")
}

func TestSingleQuoteAsset(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(dai, TokenAddress(dai), true))

	err := r.Register(MustTicker("USDC"), common.Address{}, true)
	require.ErrorIs(t, err, ErrQuoteAlreadySet)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterZeroTicker(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Register(Ticker{}, common.Address{}, false), ErrInvalidTicker)
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, tk := range []Ticker{dai, bat, rep} {
		require.NoError(t, r.Register(tk, TokenAddress(tk), tk == dai))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []Ticker{dai, bat, rep}, []Ticker{list[0].Ticker, list[1].Ticker, list[2].Ticker})
}
