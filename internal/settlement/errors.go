package settlement

import "errors"

var (
	ErrInsufficientReserve = errors.New("insufficient_reserve")
	ErrDuplicateJob        = errors.New("duplicate_job")
	ErrTickInProgress      = errors.New("tick_in_progress")
	ErrSchedulerStopped    = errors.New("scheduler_stopped")
	ErrInvalidTarget       = errors.New("invalid_target")
	ErrInvalidConfig       = errors.New("invalid_settlement_config")
)
