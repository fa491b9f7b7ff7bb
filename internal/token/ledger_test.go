package token

import (
	stderrors "errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_ledger/internal/errors"
)

var (
	alice = util.Uint160{1}
	bob   = util.Uint160{2}
	carol = util.Uint160{3}
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	assert.True(t, l.SumBalances().Eq(l.TotalSupply()), "sum(balances) %s != supply %s", l.SumBalances().Dec(), l.TotalSupply().Dec())
}

func TestInitialSupply(t *testing.T) {
	assert.Equal(t, "500000000000000000000000000", InitialSupply().Dec())
}

func TestMintTransferBurn(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(1000)))
	require.NoError(t, l.Transfer(alice, bob, amt(400)))
	require.NoError(t, l.Burn(bob, amt(100)))

	assert.Equal(t, uint64(600), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(300), l.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(900), l.TotalSupply().Uint64())
	assertConserved(t, l)
}

func TestTransferRejectsNullAndOverdraft(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(10)))

	err := l.Transfer(alice, Null, amt(1))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAddress))

	err = l.Transfer(alice, bob, amt(11))
	assert.True(t, stderrors.Is(err, errors.ErrInsufficientBalance))
	assert.Equal(t, uint64(10), l.BalanceOf(alice).Uint64())
}

func TestTransferZeroIsNoop(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(10)))
	l.Commit()

	require.NoError(t, l.Transfer(alice, bob, amt(0)))
	assert.True(t, l.Pending().Empty())
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(100)))
	require.NoError(t, l.Approve(alice, carol, amt(50)))

	require.NoError(t, l.TransferFrom(carol, alice, bob, amt(30)))
	assert.Equal(t, uint64(20), l.Allowance(alice, carol).Uint64())

	err := l.TransferFrom(carol, alice, bob, amt(21))
	assert.True(t, stderrors.Is(err, errors.ErrInsufficientAllowance))
	assert.Equal(t, uint64(20), l.Allowance(alice, carol).Uint64())
}

func TestTransferFromRevertsAllowanceOnOverdraft(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(10)))
	require.NoError(t, l.Approve(alice, carol, amt(50)))

	err := l.TransferFrom(carol, alice, bob, amt(20))
	assert.True(t, stderrors.Is(err, errors.ErrInsufficientBalance))
	assert.Equal(t, uint64(50), l.Allowance(alice, carol).Uint64())
}

func TestInfiniteAllowanceIsNotDecremented(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(100)))
	require.NoError(t, l.Approve(alice, carol, MaxAllowance))

	require.NoError(t, l.TransferFrom(carol, alice, bob, amt(70)))
	assert.True(t, l.Allowance(alice, carol).Eq(MaxAllowance))
}

func TestRevertToSnapshot(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(100)))
	l.Commit()

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(alice, bob, amt(40)))
	require.NoError(t, l.Approve(alice, carol, amt(5)))
	require.NoError(t, l.Burn(alice, amt(10)))
	l.RevertToSnapshot(snap)

	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(100), l.TotalSupply().Uint64())
	assert.Equal(t, []util.Uint160{alice}, l.Accounts(), "reverted credit must not leave an entry behind")
	assert.True(t, l.Allowance(alice, carol).IsZero())
	assert.True(t, l.Pending().Empty())
	assertConserved(t, l)
}

func TestPendingReportsTouchedState(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, amt(100)))
	l.Commit()

	require.NoError(t, l.Transfer(alice, bob, amt(25)))
	require.NoError(t, l.Approve(bob, carol, amt(7)))

	changes := l.Pending()
	require.Len(t, changes.Balances, 2)
	assert.Equal(t, alice, changes.Balances[0].Account)
	assert.Equal(t, uint64(75), changes.Balances[0].Amount.Uint64())
	assert.Equal(t, bob, changes.Balances[1].Account)
	require.Len(t, changes.Allowances, 1)
	assert.Equal(t, uint64(7), changes.Allowances[0].Amount.Uint64())
	assert.Nil(t, changes.TotalSupply)

	l.Commit()
	assert.True(t, l.Pending().Empty())
}

func TestRestore(t *testing.T) {
	l := NewLedger()
	l.Restore(
		[]Balance{{Account: alice, Amount: *amt(60)}, {Account: bob, Amount: *amt(40)}},
		[]Allowance{{Owner: alice, Spender: bob, Amount: *amt(5)}},
		amt(100),
	)
	assert.Equal(t, uint64(60), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(5), l.Allowance(alice, bob).Uint64())
	assert.True(t, l.Pending().Empty())
	assertConserved(t, l)
}

func TestParseHelpers(t *testing.T) {
	v, err := ParseAmount("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", FormatAmount(v))

	_, err = ParseAmount("")
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAmount))
	_, err = ParseAmount("-5")
	assert.Error(t, err)

	acct, err := ParseAccount("")
	require.NoError(t, err)
	assert.True(t, IsNull(acct))
	assert.Equal(t, "", FormatAccount(Null))

	encoded := FormatAccount(alice)
	decoded, err := ParseAccount(encoded)
	require.NoError(t, err)
	assert.Equal(t, alice, decoded)

	_, err = ParseAccount("not-an-address")
	assert.Error(t, err)
}
