package domain

import "github.com/shopspring/decimal"

// User is a registered banking user. The username doubles as the owner
// identity that scopes account visibility and mutation rights.
type User struct {
	Username     string
	FirstName    string
	LastName     string
	Street       string
	City         string
	CountryState string
	Country      string
}

// Account is a single bank account row. Balance is a fixed two-digit
// decimal; it is never represented as a binary float anywhere.
type Account struct {
	ID      int64
	Owner   string
	Type    string
	Balance decimal.Decimal
}

// Action is a balance-mutating operation kind.
type Action string

const (
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionTransfer Action = "transfer"
)

// ValidAction reports whether a is one of the enumerated actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionDeposit, ActionWithdraw, ActionTransfer:
		return true
	}
	return false
}
