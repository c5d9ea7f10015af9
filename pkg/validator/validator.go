package validator

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrMissingBank     = errors.New("bank name is required")
	ErrMissingOwner    = errors.New("owner name is required")
	ErrInvalidDocument = errors.New("invalid owner document")
	ErrInvalidRouting  = errors.New("account needs a CBU or a routing alias")
)

// Registration is the account-opening data subject to validation.
type Registration struct {
	Bank          string
	AccountNumber string
	RoutingAlias  string
	Owner         string
	OwnerDocument string
}

type RegistrationValidator struct {
	cbuRegex      *regexp.Regexp
	aliasRegex    *regexp.Regexp
	documentRegex *regexp.Regexp
}

func NewRegistrationValidator() *RegistrationValidator {
	return &RegistrationValidator{
		// CBU: 22 digits. Alias: 6-20 lowercase alphanumerics, dots and dashes.
		cbuRegex:      regexp.MustCompile(`^\d{22}$`),
		aliasRegex:    regexp.MustCompile(`^[a-z0-9.\-]{6,20}$`),
		documentRegex: regexp.MustCompile(`^\d{7,11}$`),
	}
}

func (v *RegistrationValidator) Validate(r Registration) error {
	var errs []error

	if r.Bank == "" {
		errs = append(errs, ErrMissingBank)
	}
	if r.Owner == "" {
		errs = append(errs, ErrMissingOwner)
	}
	if !v.documentRegex.MatchString(r.OwnerDocument) {
		errs = append(errs, ErrInvalidDocument)
	}

	hasCBU := v.cbuRegex.MatchString(r.AccountNumber)
	hasAlias := v.aliasRegex.MatchString(r.RoutingAlias)
	if !hasCBU && !hasAlias {
		errs = append(errs, ErrInvalidRouting)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}
