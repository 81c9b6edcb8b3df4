package settlement

import (
	"context"
	"fmt"

	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
)

// SweepRequest moves everything above the reserve out of From.
type SweepRequest struct {
	Secret    []byte
	From      string
	To        string
	Available int64

	// OnSubmitted receives the signature and the swept amount once the
	// ledger accepted the transfer, before confirmation.
	OnSubmitted func(signature string, lamports int64)
}

// Executor submits sweep transfers. It is not idempotent on its own; callers
// serialize sweeps per invoice.
type Executor struct {
	ledger  ledgerdomain.Client
	reserve int64
}

func NewExecutor(ledger ledgerdomain.Client, reserve int64) *Executor {
	return &Executor{ledger: ledger, reserve: reserve}
}

// Reserve is the balance left behind in the receiving account.
func (e *Executor) Reserve() int64 {
	return e.reserve
}

// Sweep transfers Available minus the reserve and waits for confirmation.
func (e *Executor) Sweep(ctx context.Context, req SweepRequest) (ledgerdomain.Receipt, error) {
	if req.Available <= e.reserve {
		return ledgerdomain.Receipt{}, fmt.Errorf("%w: available %d, reserve %d", ErrInsufficientReserve, req.Available, e.reserve)
	}
	amount := req.Available - e.reserve

	var onSubmitted func(string)
	if req.OnSubmitted != nil {
		onSubmitted = func(signature string) {
			req.OnSubmitted(signature, amount)
		}
	}

	receipt, err := e.ledger.Transfer(ctx, ledgerdomain.TransferRequest{
		Secret:      req.Secret,
		From:        req.From,
		To:          req.To,
		Lamports:    amount,
		OnSubmitted: onSubmitted,
	})
	if err != nil {
		return receipt, err
	}
	if receipt.Lamports == 0 {
		receipt.Lamports = amount
	}
	return receipt, nil
}
