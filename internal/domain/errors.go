package domain

import "errors"

var (
	ErrUnknownCurrency      = errors.New("domain: unknown currency")
	ErrUnknownDirection     = errors.New("domain: unknown operation direction")
	ErrUnknownStatus        = errors.New("domain: unknown operation status")
	ErrUnknownStepName      = errors.New("domain: unknown step name")
	ErrUnknownStepStatus    = errors.New("domain: unknown step status")
	ErrUnknownAccountStatus = errors.New("domain: unknown account status")

	ErrOperationFinalized = errors.New("domain: operation already finalized")
)
