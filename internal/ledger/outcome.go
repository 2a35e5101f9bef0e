package ledger

import "github.com/shopspring/decimal"

// Reason classifies client-caused rejections. Rejections leave the store
// untouched and are reported as form errors, never as Go errors.
type Reason string

const (
	ReasonAmountFormat      Reason = "amount format"
	ReasonNonPositiveAmount Reason = "non-positive amount"
	ReasonInvalidAction     Reason = "invalid action"
	ReasonNotOwner          Reason = "account not owned"
	ReasonSameAccount       Reason = "same account"
	ReasonInsufficientFunds Reason = "insufficient funds"
)

// Message returns the user-facing text for a rejection.
func (r Reason) Message() string {
	switch r {
	case ReasonAmountFormat:
		return "Amount must be a positive number with exactly two decimal places"
	case ReasonNonPositiveAmount:
		return "Amount must be greater than zero"
	case ReasonInvalidAction:
		return "Invalid action choice"
	case ReasonNotOwner:
		return "Could not verify account ownership"
	case ReasonSameAccount:
		return "Could not confirm account (ensure that account choices are different)"
	case ReasonInsufficientFunds:
		return "Balance insufficient for this action"
	}
	return "Invalid request"
}

// Status tags the overall result of one Execute call.
type Status int

const (
	// StatusOK means every write committed; Balances carries the result.
	StatusOK Status = iota
	// StatusRejected means the request was refused before any mutation,
	// or inside the lock with state fully restored.
	StatusRejected
	// StatusFailed is a transient failure (lock timeout, store error)
	// with no partial state observable. Safe to retry.
	StatusFailed
	// StatusInconsistent means a transfer's second write failed and the
	// compensating rollback could not be confirmed. The store may need
	// manual reconciliation; success is never reported.
	StatusInconsistent
)

// Balance is an account's post-commit balance.
type Balance struct {
	AccountID int64
	Balance   decimal.Decimal
}

// Outcome is the tagged result of one coordinator invocation.
type Outcome struct {
	Status Status
	// Reason is set iff Status is StatusRejected.
	Reason Reason
	// OnDestination marks a rejection attributable to the transfer
	// destination rather than the source account.
	OnDestination bool
	// Cause is set for StatusFailed and StatusInconsistent.
	Cause error
	// Balances lists new balances, source account first.
	Balances []Balance
}

func rejected(reason Reason) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason}
}

func rejectedOnDestination(reason Reason) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, OnDestination: true}
}

func failed(cause error) Outcome {
	return Outcome{Status: StatusFailed, Cause: cause}
}
