package utils

import "fmt"

// LedgerErrorKind tags ledger-network failures so callers can branch on the
// cause instead of sniffing error strings.
type LedgerErrorKind int

const (
	LedgerErrUnknown LedgerErrorKind = iota
	LedgerErrAccountNotFound
	LedgerErrNoTrustline
	LedgerErrInsufficientBalance
	LedgerErrSubmission
)

func (k LedgerErrorKind) String() string {
	switch k {
	case LedgerErrAccountNotFound:
		return "account_not_found"
	case LedgerErrNoTrustline:
		return "no_trustline"
	case LedgerErrInsufficientBalance:
		return "insufficient_balance"
	case LedgerErrSubmission:
		return "submission_failed"
	default:
		return "unknown"
	}
}

type LedgerError struct {
	Kind LedgerErrorKind
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}
