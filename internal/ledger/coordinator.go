// Package ledger implements the balance transaction coordinator: the one
// place account balances change. Every deposit, withdrawal and transfer
// runs the same sequence (validate, authorize, lock, recompute under the
// lock, commit) so concurrent requests over the same accounts serialize
// instead of racing each other's read-then-write cycles.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"bankweb/internal/domain"
	"bankweb/internal/store"
	"bankweb/internal/validate"
)

const (
	eventDeposit  = "BALANCE_DEPOSIT"
	eventWithdraw = "BALANCE_WITHDRAW"
	eventTransfer = "BALANCE_TRANSFER"
)

type Coordinator struct {
	store     store.Store
	log       *slog.Logger
	opTimeout time.Duration
}

// New builds a coordinator over st. opTimeout bounds the locked section of
// one invocation; it is independent of the request context so a client
// disconnect cannot abandon a half-applied commit.
func New(st store.Store, log *slog.Logger, opTimeout time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Coordinator{store: st, log: log, opTimeout: opTimeout}
}

// rejectionError carries a rejection decision out of the locked section.
type rejectionError struct {
	reason Reason
	dest   bool
}

func (e *rejectionError) Error() string { return string(e.reason) }

// inconsistentError marks a failed second write whose compensating
// rollback also failed.
type inconsistentError struct {
	cause    error
	rollback error
}

func (e *inconsistentError) Error() string {
	return fmt.Sprintf("commit failed (%v) and rollback failed (%v)", e.cause, e.rollback)
}

type balanceChangePayload struct {
	Action    string `json:"action"`
	AccountID int64  `json:"account_id"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
}

type transferPayload struct {
	Action        string `json:"action"`
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	Amount        string `json:"amount"`
	SourceBalance string `json:"source_balance"`
	DestBalance   string `json:"dest_balance"`
}

// Execute runs one adjustment intent for the authenticated owner. destID
// is consulted only when action is a transfer. The returned outcome is
// always well-formed; rejections and transient failures never escape as
// panics or bare errors.
func (c *Coordinator) Execute(ctx context.Context, owner string, action domain.Action, sourceID, destID int64, rawAmount string) Outcome {
	// Validating.
	if !domain.ValidAction(action) {
		return rejected(ReasonInvalidAction)
	}
	amount, err := validate.Amount(rawAmount)
	if err != nil {
		return rejected(ReasonAmountFormat)
	}
	if !amount.IsPositive() {
		return rejected(ReasonNonPositiveAmount)
	}

	// Authorizing: the source, and for transfers the destination, must be
	// owned by the requester. The balance read here is advisory only; the
	// authoritative read happens again under the lock.
	accounts, err := c.store.ListAccounts(ctx, owner)
	if err != nil {
		return failed(fmt.Errorf("list accounts: %w", err))
	}
	if !ownsAccount(accounts, sourceID) {
		return rejected(ReasonNotOwner)
	}
	lockIDs := []int64{sourceID}
	if action == domain.ActionTransfer {
		if destID == sourceID {
			return rejectedOnDestination(ReasonSameAccount)
		}
		if !ownsAccount(accounts, destID) {
			return rejectedOnDestination(ReasonNotOwner)
		}
		lockIDs = append(lockIDs, destID)
	}

	// Locking and Committing run detached from the request's cancelation:
	// once we start mutating, a client disconnect must not stop the commit.
	// The absolute timeout still bounds the whole locked section.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()

	var outcome Outcome
	err = c.store.WithAccountLock(opCtx, lockIDs, func(tx store.AccountTx) error {
		var txErr error
		outcome, txErr = c.apply(opCtx, tx, owner, action, sourceID, destID, amount)
		return txErr
	})
	if err != nil {
		var rej *rejectionError
		if errors.As(err, &rej) {
			if rej.dest {
				return rejectedOnDestination(rej.reason)
			}
			return rejected(rej.reason)
		}
		var inc *inconsistentError
		if errors.As(err, &inc) {
			c.log.Error("balance state may be inconsistent, manual reconciliation required",
				"owner", owner,
				"action", string(action),
				"source", sourceID,
				"destination", destID,
				"err", inc,
			)
			return Outcome{Status: StatusInconsistent, Cause: inc}
		}
		if errors.Is(err, store.ErrLockTimeout) {
			return failed(err)
		}
		return failed(fmt.Errorf("commit: %w", err))
	}
	return outcome
}

// apply executes the Computing and Committing phases inside the lock.
// Returning a non-nil error discards the transactional view.
func (c *Coordinator) apply(ctx context.Context, tx store.AccountTx, owner string, action domain.Action, sourceID, destID int64, amount decimal.Decimal) (Outcome, error) {
	source, err := tx.GetAccount(ctx, sourceID, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, &rejectionError{reason: ReasonNotOwner}
		}
		return Outcome{}, err
	}

	switch action {
	case domain.ActionDeposit, domain.ActionWithdraw:
		newBalance := source.Balance.Add(amount)
		eventType := eventDeposit
		if action == domain.ActionWithdraw {
			if source.Balance.LessThan(amount) {
				return Outcome{}, &rejectionError{reason: ReasonInsufficientFunds}
			}
			newBalance = source.Balance.Sub(amount)
			eventType = eventWithdraw
		}
		if err := tx.SetBalance(ctx, sourceID, newBalance); err != nil {
			return Outcome{}, err
		}
		payload := balanceChangePayload{
			Action:    string(action),
			AccountID: sourceID,
			Amount:    amount.StringFixed(2),
			Balance:   newBalance.StringFixed(2),
		}
		if err := tx.RecordEvent(ctx, eventType, sourceID, owner, payload); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status:   StatusOK,
			Balances: []Balance{{AccountID: sourceID, Balance: newBalance}},
		}, nil

	case domain.ActionTransfer:
		dest, err := tx.GetAccount(ctx, destID, owner)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Outcome{}, &rejectionError{reason: ReasonNotOwner, dest: true}
			}
			return Outcome{}, err
		}
		if source.Balance.LessThan(amount) {
			return Outcome{}, &rejectionError{reason: ReasonInsufficientFunds}
		}

		sourceNew := source.Balance.Sub(amount)
		destNew := dest.Balance.Add(amount)

		if err := tx.SetBalance(ctx, sourceID, sourceNew); err != nil {
			return Outcome{}, err
		}
		if err := tx.SetBalance(ctx, destID, destNew); err != nil {
			// The second half of the commit failed after the first half
			// applied. Restore the source before the lock releases so a
			// partial transfer is never observable; if even that fails,
			// refuse to report anything but inconsistency.
			if rbErr := tx.SetBalance(ctx, sourceID, source.Balance); rbErr != nil {
				return Outcome{}, &inconsistentError{cause: err, rollback: rbErr}
			}
			return Outcome{}, fmt.Errorf("credit destination: %w", err)
		}
		payload := transferPayload{
			Action:        string(action),
			SourceID:      sourceID,
			DestinationID: destID,
			Amount:        amount.StringFixed(2),
			SourceBalance: sourceNew.StringFixed(2),
			DestBalance:   destNew.StringFixed(2),
		}
		if err := tx.RecordEvent(ctx, eventTransfer, sourceID, owner, payload); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status: StatusOK,
			Balances: []Balance{
				{AccountID: sourceID, Balance: sourceNew},
				{AccountID: destID, Balance: destNew},
			},
		}, nil
	}

	return Outcome{}, &rejectionError{reason: ReasonInvalidAction}
}

func ownsAccount(accounts []domain.Account, id int64) bool {
	for _, acc := range accounts {
		if acc.ID == id {
			return true
		}
	}
	return false
}
