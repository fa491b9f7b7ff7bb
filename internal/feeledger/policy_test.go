package feeledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/token"
)

func TestValidateFeeRate(t *testing.T) {
	for _, bps := range []uint16{1, 150, 300} {
		assert.NoError(t, ValidateFeeRate(bps), "rate %d", bps)
	}
	for _, bps := range []uint16{0, 301, 10_000} {
		err := ValidateFeeRate(bps)
		assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err), "rate %d", bps)
	}
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		amount uint64
		bps    uint16
		fee    uint64
		net    uint64
	}{
		{1000, 300, 30, 970},
		{1000, 200, 20, 980},
		{999, 300, 29, 970},
		{33, 300, 0, 33},
		{1, 1, 0, 1},
	}
	for _, tt := range tests {
		fee, net := ComputeFee(uint256.NewInt(tt.amount), tt.bps)
		assert.Equal(t, tt.fee, fee.Uint64(), "fee of %d at %d", tt.amount, tt.bps)
		assert.Equal(t, tt.net, net.Uint64(), "net of %d at %d", tt.amount, tt.bps)
	}
}

func TestComputeFeeOnFullSupply(t *testing.T) {
	supply := token.InitialSupply()
	fee, net := ComputeFee(supply, MaxFeeRateBps)

	want := new(uint256.Int).Div(new(uint256.Int).Mul(supply, uint256.NewInt(300)), uint256.NewInt(BpsDenominator))
	assert.True(t, fee.Eq(want))
	assert.True(t, new(uint256.Int).Add(fee, net).Eq(supply))
}

func TestPairRegistry(t *testing.T) {
	a, b := util.Uint160{2}, util.Uint160{1}
	r := NewPairRegistry(a)

	assert.True(t, r.Contains(a))
	assert.False(t, r.Add(a))
	assert.True(t, r.Add(b))
	assert.Equal(t, []util.Uint160{b, a}, r.List())
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a))
	assert.False(t, r.Contains(a))
}

func TestPauseSwitch(t *testing.T) {
	var p PauseSwitch
	assert.NoError(t, p.RequireActive())
	assert.True(t, p.Set(true))
	assert.False(t, p.Set(true))
	assert.Equal(t, errors.CodeSystemPaused, errors.CodeOf(p.RequireActive()))
	assert.True(t, p.Set(false))
	assert.False(t, p.Paused())
}
