package validator

import (
	"regexp"
	"strings"

	"custody_ledger/pkg/crypto"
)

// ReceiptValidator checks bank receipt references. In plain mode any
// well-formed reference passes; when a signer is configured the reference
// must carry a valid HMAC suffix in the form <reference>.<hexsignature>.
type ReceiptValidator struct {
	referenceRegex *regexp.Regexp
	signer         *crypto.Signer
}

func NewReceiptValidator(signer *crypto.Signer) *ReceiptValidator {
	return &ReceiptValidator{
		referenceRegex: regexp.MustCompile(`^[A-Za-z0-9_\-]{6,64}$`),
		signer:         signer,
	}
}

func (v *ReceiptValidator) Validate(receiptReference string) bool {
	if v.signer == nil {
		return v.referenceRegex.MatchString(receiptReference)
	}

	reference, signature, ok := strings.Cut(receiptReference, ".")
	if !ok || !v.referenceRegex.MatchString(reference) {
		return false
	}
	valid, err := v.signer.VerifyReceipt(reference, signature)
	return err == nil && valid
}
