package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bankweb/internal/domain"
	"bankweb/internal/store"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("BANK_DB_DSN"))
	if dsn == "" {
		t.Skip("missing BANK_DB_DSN env var")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// testUser registers a unique user per run to avoid collisions against a
// reused database.
func testUser(t *testing.T, s *Store) string {
	t.Helper()
	name := "u" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	err := s.CreateUser(context.Background(), domain.User{
		Username:     name,
		FirstName:    "Test",
		LastName:     "User",
		Street:       "1 Main St",
		City:         "Springfield",
		CountryState: "IL",
		Country:      "USA",
	}, "Str0ng!pass")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return name
}

func TestUserLifecycle(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool, time.Second)
	ctx := context.Background()

	name := testUser(t, s)

	u, err := s.GetUser(ctx, name)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Username != name || u.City != "Springfield" {
		t.Fatalf("got %+v", u)
	}

	if err := s.CreateUser(ctx, domain.User{Username: name}, "Str0ng!pass"); !errors.Is(err, store.ErrDuplicateUser) {
		t.Fatalf("duplicate insert: want ErrDuplicateUser, got %v", err)
	}

	ok, err := s.Authenticate(ctx, name, "Str0ng!pass")
	if err != nil || !ok {
		t.Fatalf("authenticate: ok=%v err=%v", ok, err)
	}
	ok, err = s.Authenticate(ctx, name, "wrong")
	if err != nil || ok {
		t.Fatalf("wrong password accepted: ok=%v err=%v", ok, err)
	}
	ok, err = s.Authenticate(ctx, "nosuchuser", "whatever")
	if err != nil || ok {
		t.Fatalf("unknown user: ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestAccountOwnershipFailsClosed(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool, time.Second)
	ctx := context.Background()

	owner := testUser(t, s)
	other := testUser(t, s)

	acc, err := s.CreateAccount(ctx, owner, "checking")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acc.Balance.StringFixed(2) != "0.00" {
		t.Fatalf("new account balance %s", acc.Balance.StringFixed(2))
	}

	if _, err := s.GetAccount(ctx, acc.ID, other); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-owner read: want ErrNotFound, got %v", err)
	}

	if _, err := s.CreateAccount(ctx, owner, "offshore"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown type: want ErrValidation, got %v", err)
	}

	types, err := s.AccountTypes(ctx)
	if err != nil {
		t.Fatalf("account types: %v", err)
	}
	if len(types) < 3 {
		t.Fatalf("want at least the seeded types, got %v", types)
	}
}

func TestWithAccountLockSerializesWrites(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool, 5*time.Second)
	ctx := context.Background()

	owner := testUser(t, s)
	acc, err := s.CreateAccount(ctx, owner, "checking")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	// 50 concurrent +1.00 increments through read-then-write under the
	// lock: every delta must survive.
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	one := decimal.RequireFromString("1.00")

	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = s.WithAccountLock(ctx, []int64{acc.ID}, func(tx store.AccountTx) error {
				cur, err := tx.GetAccount(ctx, acc.ID, owner)
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, acc.ID, cur.Balance.Add(one))
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	got, err := s.GetAccount(ctx, acc.ID, owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Balance.StringFixed(2) != "50.00" {
		t.Fatalf("lost updates: balance %s, want 50.00", got.Balance.StringFixed(2))
	}
}

func TestWithAccountLockTimeout(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	slow := New(pool, 5*time.Second)
	fast := New(pool, 100*time.Millisecond)

	owner := testUser(t, slow)
	acc, err := slow.CreateAccount(ctx, owner, "checking")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- slow.WithAccountLock(ctx, []int64{acc.ID}, func(store.AccountTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err = fast.WithAccountLock(ctx, []int64{acc.ID}, func(store.AccountTx) error { return nil })
	if !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder failed: %v", err)
	}
}

func TestRollbackOnCallbackError(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool, time.Second)
	ctx := context.Background()

	owner := testUser(t, s)
	acc, err := s.CreateAccount(ctx, owner, "savings")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	boom := errors.New("boom")
	err = s.WithAccountLock(ctx, []int64{acc.ID}, func(tx store.AccountTx) error {
		if err := tx.SetBalance(ctx, acc.ID, decimal.RequireFromString("99.00")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want callback error back, got %v", err)
	}

	got, err := s.GetAccount(ctx, acc.ID, owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Balance.StringFixed(2) != "0.00" {
		t.Fatalf("write survived rollback: %s", got.Balance.StringFixed(2))
	}
}

func TestRecordEventCommitsWithBalance(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool, time.Second)
	ctx := context.Background()

	owner := testUser(t, s)
	acc, err := s.CreateAccount(ctx, owner, "checking")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	err = s.WithAccountLock(ctx, []int64{acc.ID}, func(tx store.AccountTx) error {
		if err := tx.SetBalance(ctx, acc.ID, decimal.RequireFromString("10.00")); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, "BALANCE_DEPOSIT", acc.ID, owner, map[string]string{
			"amount": "10.00",
		})
	})
	if err != nil {
		t.Fatalf("locked update: %v", err)
	}

	var canonical string
	err = pool.QueryRow(ctx,
		`SELECT payload_canonical FROM account_events WHERE account_id=$1 ORDER BY created_at DESC LIMIT 1`,
		acc.ID,
	).Scan(&canonical)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if canonical != `{"amount":"10.00"}` {
		t.Fatalf("canonical payload = %s", canonical)
	}
}
