package ledger

import "errors"

// Error taxonomy surfaced to callers. Repository-level sentinels are mapped
// onto these so the API layer matches on one set.
var (
	ErrValidation        = errors.New("ledger: invalid input")
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrAccountInactive   = errors.New("ledger: account inactive")
	ErrOperationNotFound = errors.New("ledger: operation not found")
	ErrLimitExceeded     = errors.New("ledger: operation exceeds account limits")
	ErrInvalidReceipt    = errors.New("ledger: invalid or incomplete receipt")
	ErrInvalidState      = errors.New("ledger: operation not in required state")
	ErrTransferExecution = errors.New("ledger: transfer execution failed")
)
