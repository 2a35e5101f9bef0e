package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bankweb/internal/domain"
	"bankweb/internal/ledger"
	"bankweb/internal/store"
	"bankweb/internal/store/memstore"
)

var errDiskFull = errors.New("disk full")

// faultStore injects SetBalance failures into an otherwise working store,
// to exercise the coordinator's compensating rollback.
type faultStore struct {
	*memstore.Store
	// failAccount makes SetBalance fail for this account id.
	failAccount int64
	// failAfter makes every SetBalance past the first n fail, regardless
	// of account. Used to break the rollback write as well.
	failAfter int
	calls     int
}

func (f *faultStore) WithAccountLock(ctx context.Context, ids []int64, fn func(store.AccountTx) error) error {
	return f.Store.WithAccountLock(ctx, ids, func(tx store.AccountTx) error {
		return fn(&faultTx{AccountTx: tx, f: f})
	})
}

type faultTx struct {
	store.AccountTx
	f *faultStore
}

func (t *faultTx) SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	t.f.calls++
	if t.f.failAfter > 0 && t.f.calls > t.f.failAfter {
		return errDiskFull
	}
	if t.f.failAccount != 0 && id == t.f.failAccount {
		return errDiskFull
	}
	return t.AccountTx.SetBalance(ctx, id, balance)
}

func rollbackFixture(t *testing.T) (*memstore.Store, domain.Account, domain.Account) {
	t.Helper()
	st := memstore.New(2 * time.Second)
	ctx := context.Background()
	if err := st.CreateUser(ctx, domain.User{Username: "alice"}, "Str0ng!pass"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	a := mustAccount(t, st, "alice", "100.00")
	b := mustAccount(t, st, "alice", "50.00")
	return st, a, b
}

// When the destination credit fails after the source debit applied, the
// coordinator must restore the source before releasing the lock: a
// partial transfer is never observable.
func TestTransferSecondWriteFailureRollsBack(t *testing.T) {
	st, a, b := rollbackFixture(t)
	fs := &faultStore{Store: st, failAccount: b.ID}
	coord := ledger.New(fs, slog.Default(), 5*time.Second)

	out := coord.Execute(context.Background(), "alice", domain.ActionTransfer, a.ID, b.ID, "30.00")
	if out.Status != ledger.StatusFailed {
		t.Fatalf("got status %v, want failed", out.Status)
	}
	if !errors.Is(out.Cause, errDiskFull) {
		t.Fatalf("cause = %v", out.Cause)
	}

	if got := balanceOf(t, st, a.ID, "alice"); got != "100.00" {
		t.Fatalf("source not restored: %s", got)
	}
	if got := balanceOf(t, st, b.ID, "alice"); got != "50.00" {
		t.Fatalf("destination mutated: %s", got)
	}
	if n := len(st.Events()); n != 0 {
		t.Fatalf("failed transfer produced %d audit events", n)
	}
}

// If the compensating write fails too, the outcome is Inconsistent and
// success is never reported.
func TestTransferRollbackFailureIsInconsistent(t *testing.T) {
	st, a, b := rollbackFixture(t)
	// First SetBalance (source debit) succeeds; the destination credit
	// and the compensating source write both fail.
	fs := &faultStore{Store: st, failAfter: 1}
	coord := ledger.New(fs, slog.Default(), 5*time.Second)

	out := coord.Execute(context.Background(), "alice", domain.ActionTransfer, a.ID, b.ID, "30.00")
	if out.Status != ledger.StatusInconsistent {
		t.Fatalf("got status %v, want inconsistent", out.Status)
	}
	if out.Cause == nil {
		t.Fatal("inconsistent outcome without cause")
	}
	if len(out.Balances) != 0 {
		t.Fatal("inconsistent outcome must not report balances")
	}
}
