package token

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
)

const (
	// Decimals is the number of fractional digits of one whole token.
	Decimals = 18

	// InitialWholeTokens is the fixed supply minted at genesis, in whole tokens.
	InitialWholeTokens = 500_000_000
)

// Null is the unset account identity.
var Null util.Uint160

// MaxAllowance is treated as an infinite approval and never decremented.
var MaxAllowance = new(uint256.Int).SetAllOne()

// InitialSupply returns the genesis supply in base units.
func InitialSupply() *uint256.Int {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	return new(uint256.Int).Mul(uint256.NewInt(InitialWholeTokens), unit)
}

// IsNull reports whether acct is the unset identity.
func IsNull(acct util.Uint160) bool {
	return acct.Equals(Null)
}

// ParseAccount decodes a Neo N3 address. An empty string decodes to Null.
func ParseAccount(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null, nil
	}
	acct, err := address.StringToUint160(s)
	if err != nil {
		return Null, errors.InvalidFormat("address", err).WithDetails("value", s)
	}
	return acct, nil
}

// FormatAccount encodes acct as a Neo N3 address. Null encodes to "".
func FormatAccount(acct util.Uint160) string {
	if IsNull(acct) {
		return ""
	}
	return address.Uint160ToString(acct)
}

// ParseAmount decodes a base-10 amount of base units.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.InvalidAmount("amount is required")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.InvalidFormat("amount", fmt.Errorf("parse %q: %w", s, err))
	}
	return v, nil
}

// FormatAmount renders v as a base-10 string. Nil renders as "0".
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
