package settlement

import (
	"context"
	"testing"

	"github.com/smallbiznis/paywatch/internal/ledger/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundedAccount(t *testing.T, ledger *memory.Ledger, lamports int64) (string, []byte) {
	t.Helper()
	account, err := ledger.NewAccount(context.Background())
	require.NoError(t, err)
	ledger.Fund(account.Address, lamports)
	return account.Address, account.Secret
}

func TestSweepBalanceEqualToReserveIsInsufficient(t *testing.T) {
	ledger := memory.New()
	address, secret := fundedAccount(t, ledger, 5000)
	exec := NewExecutor(ledger, 5000)

	_, err := exec.Sweep(context.Background(), SweepRequest{
		Secret:    secret,
		From:      address,
		To:        testAdminWallet,
		Available: 5000,
	})
	require.ErrorIs(t, err, ErrInsufficientReserve)
	assert.Zero(t, ledger.Calls(memory.OpTransfer))
	assert.Equal(t, int64(5000), ledger.Balance(address))
}

func TestSweepReservePlusOneTransfersOneLamport(t *testing.T) {
	ledger := memory.New()
	address, secret := fundedAccount(t, ledger, 5001)
	exec := NewExecutor(ledger, 5000)

	var submitted []int64
	receipt, err := exec.Sweep(context.Background(), SweepRequest{
		Secret:    secret,
		From:      address,
		To:        testAdminWallet,
		Available: 5001,
		OnSubmitted: func(signature string, lamports int64) {
			assert.NotEmpty(t, signature)
			submitted = append(submitted, lamports)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Lamports)
	assert.NotEmpty(t, receipt.Signature)
	assert.Equal(t, []int64{1}, submitted)

	transfers := ledger.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(1), transfers[0].Lamports)
	assert.Equal(t, int64(1), ledger.Balance(testAdminWallet))
}

func TestSweepTransfersAvailableMinusReserve(t *testing.T) {
	ledger := memory.New()
	address, secret := fundedAccount(t, ledger, 1_000_005_000)
	exec := NewExecutor(ledger, 5000)

	receipt, err := exec.Sweep(context.Background(), SweepRequest{
		Secret:    secret,
		From:      address,
		To:        testAdminWallet,
		Available: 1_000_005_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), receipt.Lamports)
	assert.Equal(t, int64(1_000_000_000), ledger.Balance(testAdminWallet))
	assert.Zero(t, ledger.Balance(address))
}
