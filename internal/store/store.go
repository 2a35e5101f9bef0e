// Package store defines the persistence contract for users and accounts.
// Implementations live in the postgres and memstore subpackages; everything
// above this layer depends on the interfaces only.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"bankweb/internal/domain"
)

var (
	// ErrNotFound covers both genuine misses and ownership misses: a lookup
	// for an account the caller does not own fails closed with this.
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout means the serialization boundary could not be
	// acquired within the bounded wait. Retryable.
	ErrLockTimeout = errors.New("account lock acquisition timed out")

	// ErrDuplicateUser is returned by CreateUser for a taken username.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrValidation marks store-level input rejections, e.g. an unknown
	// account type on CreateAccount.
	ErrValidation = errors.New("validation error")
)

// Store is the account store consumed by handlers and the transaction
// coordinator. All account reads are scoped by the owner identity.
type Store interface {
	GetUser(ctx context.Context, username string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User, password string) error
	// Authenticate reports whether the username/password pair is valid.
	// An unknown username is (false, nil), not an error.
	Authenticate(ctx context.Context, username, password string) (bool, error)

	ListAccounts(ctx context.Context, owner string) ([]domain.Account, error)
	GetAccount(ctx context.Context, id int64, owner string) (domain.Account, error)
	AccountTypes(ctx context.Context) ([]string, error)
	CreateAccount(ctx context.Context, owner, accountType string) (domain.Account, error)

	// WithAccountLock serializes fn against every account in ids: locks
	// are taken in ascending id order, held for exactly the duration of
	// fn, and released on every exit path. fn's error is returned
	// unchanged so callers can carry typed outcomes through the lock.
	WithAccountLock(ctx context.Context, ids []int64, fn func(AccountTx) error) error

	Close()
}

// AccountTx is the transactional view available inside WithAccountLock.
// Reads reflect writes made earlier under the same lock.
type AccountTx interface {
	GetAccount(ctx context.Context, id int64, owner string) (domain.Account, error)
	SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	// RecordEvent appends an audit event for a committed mutation.
	RecordEvent(ctx context.Context, eventType string, accountID int64, actor string, payload any) error
}
