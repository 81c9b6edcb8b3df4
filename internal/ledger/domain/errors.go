package domain

import "errors"

var (
	ErrLedgerUnavailable   = errors.New("ledger_unavailable")
	ErrSubmissionFailed    = errors.New("submission_failed")
	ErrInvalidAddress      = errors.New("invalid_address")
	ErrInvalidSecret       = errors.New("invalid_secret")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrConfirmationTimeout = errors.New("confirmation_timeout")
)
