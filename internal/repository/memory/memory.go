package memory

import (
	"custody_ledger/internal/repository"
)

var (
	_ repository.AccountRepository   = (*AccountRepository)(nil)
	_ repository.OperationRepository = (*OperationRepository)(nil)
)
