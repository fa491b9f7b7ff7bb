package feeledger

import (
	"github.com/holiman/uint256"

	"github.com/R3E-Network/token_ledger/internal/errors"
)

const (
	// MaxFeeRateBps is the 3% ceiling on the buy/sell fee.
	MaxFeeRateBps uint16 = 300
	// DefaultFeeRateBps is the rate a new ledger starts with.
	DefaultFeeRateBps uint16 = 300
	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10_000
)

var bpsDenominator = uint256.NewInt(BpsDenominator)

// ValidateFeeRate enforces 0 < bps <= MaxFeeRateBps.
func ValidateFeeRate(bps uint16) error {
	if bps == 0 || bps > MaxFeeRateBps {
		return errors.InvalidParameter("fee rate must be between 1 and 300 basis points").
			WithDetails("rate_bps", bps)
	}
	return nil
}

// ComputeFee splits amount into fee and net at the given rate, rounding the
// fee down.
func ComputeFee(amount *uint256.Int, bps uint16) (fee, net *uint256.Int) {
	// 512-bit intermediate; the quotient never exceeds amount.
	fee, _ = new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(uint64(bps)), bpsDenominator)
	net = new(uint256.Int).Sub(amount, fee)
	return fee, net
}
