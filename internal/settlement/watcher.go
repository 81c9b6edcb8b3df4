package settlement

import (
	"context"
	"errors"
	"fmt"

	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
)

// Balance is one observation of a receiving account.
type Balance struct {
	Address  string
	Lamports int64
	Exists   bool
}

// Watcher reads balances without retrying; the tick cadence is the retry.
type Watcher struct {
	ledger ledgerdomain.Client
}

func NewWatcher(ledger ledgerdomain.Client) *Watcher {
	return &Watcher{ledger: ledger}
}

// PollOnce performs a single balance read. A missing account reads as zero.
func (w *Watcher) PollOnce(ctx context.Context, address string) (Balance, error) {
	info, err := w.ledger.GetAccountInfo(ctx, address)
	if err != nil {
		switch {
		case errors.Is(err, ledgerdomain.ErrLedgerUnavailable), errors.Is(err, ledgerdomain.ErrInvalidAddress):
			return Balance{Address: address}, err
		default:
			return Balance{Address: address}, fmt.Errorf("%w: %w", ledgerdomain.ErrLedgerUnavailable, err)
		}
	}
	if !info.Exists || info.Lamports <= 0 {
		return Balance{Address: address}, nil
	}
	return Balance{Address: address, Lamports: info.Lamports, Exists: true}, nil
}
