package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LamportsPerSOL is the number of ledger-native units in one SOL.
const LamportsPerSOL int64 = 1_000_000_000

// Account is a freshly generated receiving account.
type Account struct {
	Address string
	Secret  []byte
}

// AccountInfo is the observed state of an address.
type AccountInfo struct {
	Address  string
	Lamports int64
	Exists   bool
}

// TransferRequest moves Lamports out of From, signed with Secret.
type TransferRequest struct {
	Secret   []byte
	From     string
	To       string
	Lamports int64

	// OnSubmitted receives the transaction signature once it is signed and
	// before it is broadcast, so a transfer whose reply is lost can still be
	// traced. Errors returned afterwards may leave the transfer in flight.
	OnSubmitted func(signature string)
}

// Receipt identifies a confirmed transfer.
type Receipt struct {
	Signature string
	Lamports  int64
}

type SignatureState string

const (
	SignatureUnknown   SignatureState = "unknown"
	SignaturePending   SignatureState = "pending"
	SignatureConfirmed SignatureState = "confirmed"
	SignatureFailed    SignatureState = "failed"
)

// Client is the narrow ledger surface the settlement engine depends on.
type Client interface {
	NewAccount(ctx context.Context) (Account, error)
	GetAccountInfo(ctx context.Context, address string) (AccountInfo, error)
	// Transfer submits the transfer and blocks until it is confirmed or rejected.
	Transfer(ctx context.Context, req TransferRequest) (Receipt, error)
	SignatureStatus(ctx context.Context, signature string) (SignatureState, error)
}

// SubmissionError is a rejected transaction with the ledger's diagnostic logs.
type SubmissionError struct {
	Signature string
	Reason    string
	Logs      []string
}

func (e *SubmissionError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "rejected"
	}
	if e.Signature != "" {
		return fmt.Sprintf("%s: %s (signature %s)", ErrSubmissionFailed, reason, e.Signature)
	}
	return fmt.Sprintf("%s: %s", ErrSubmissionFailed, reason)
}

func (e *SubmissionError) Unwrap() error {
	return ErrSubmissionFailed
}

// SubmissionLogs returns the ledger logs carried by err, if any.
func SubmissionLogs(err error) []string {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Logs
	}
	return nil
}

// LamportsFromSOL converts a display amount into ledger-native units.
func LamportsFromSOL(amount float64) int64 {
	scaled := amount * float64(LamportsPerSOL)
	if scaled < 0 {
		return int64(scaled - 0.5)
	}
	return int64(scaled + 0.5)
}

// SOLFromLamports converts ledger-native units into the display amount.
func SOLFromLamports(lamports int64) float64 {
	return float64(lamports) / float64(LamportsPerSOL)
}
