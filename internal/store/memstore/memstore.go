// Package memstore is an in-process store.Store for single-instance
// deployments and tests. Serialization uses one binary semaphore per
// account, always acquired in ascending id order with a bounded wait.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bankweb/internal/domain"
	"bankweb/internal/store"
)

// Event is an audit record captured by RecordEvent.
type Event struct {
	Type      string
	AccountID int64
	Actor     string
	Payload   json.RawMessage
	Canonical string
}

type userRecord struct {
	user domain.User
	hash []byte
}

type Store struct {
	mu       sync.Mutex
	nextID   int64
	users    map[string]userRecord
	accounts map[int64]domain.Account
	locks    map[int64]chan struct{}
	events   []Event
	lockWait time.Duration
}

func New(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Store{
		users:    make(map[string]userRecord),
		accounts: make(map[int64]domain.Account),
		locks:    make(map[int64]chan struct{}),
		lockWait: lockWait,
	}
}

func (s *Store) Close() {}

func (s *Store) GetUser(_ context.Context, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[username]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return rec.user, nil
}

func (s *Store) CreateUser(_ context.Context, u domain.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return store.ErrDuplicateUser
	}
	s.users[u.Username] = userRecord{user: u, hash: hash}
	return nil
}

func (s *Store) Authenticate(_ context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	rec, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(rec.hash, []byte(password)) == nil, nil
}

func (s *Store) ListAccounts(_ context.Context, owner string) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []domain.Account
	for _, acc := range s.accounts {
		if acc.Owner == owner {
			accounts = append(accounts, acc)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Store) GetAccount(_ context.Context, id int64, owner string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id, owner)
}

func (s *Store) getLocked(id int64, owner string) (domain.Account, error) {
	acc, ok := s.accounts[id]
	if !ok || acc.Owner != owner {
		return domain.Account{}, store.ErrNotFound
	}
	return acc, nil
}

func (s *Store) AccountTypes(context.Context) ([]string, error) {
	return []string{"checking", "credit", "savings"}, nil
}

func (s *Store) CreateAccount(ctx context.Context, owner, accountType string) (domain.Account, error) {
	types, _ := s.AccountTypes(ctx)
	valid := false
	for _, t := range types {
		if t == accountType {
			valid = true
			break
		}
	}
	if !valid {
		return domain.Account{}, store.ErrValidation
	}

	id := atomic.AddInt64(&s.nextID, 1)
	acc := domain.Account{ID: id, Owner: owner, Type: accountType, Balance: decimal.Zero}
	s.mu.Lock()
	s.accounts[id] = acc
	s.mu.Unlock()
	return acc, nil
}

// WithAccountLock acquires the semaphore of every id in ascending order.
// If any acquisition exceeds the bounded wait, the ones already held are
// released and store.ErrLockTimeout is returned with no state touched.
func (s *Store) WithAccountLock(ctx context.Context, ids []int64, fn func(store.AccountTx) error) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	var held []chan struct{}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range sorted {
		sem := s.semaphore(id)
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-timer.C:
			release()
			return store.ErrLockTimeout
		case <-ctx.Done():
			release()
			return ctx.Err()
		}
	}
	defer release()

	return fn(&memTx{s: s})
}

func (s *Store) semaphore(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[id] = sem
	}
	return sem
}

// Events returns a copy of the audit log.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type memTx struct {
	s *Store
}

func (t *memTx) GetAccount(_ context.Context, id int64, owner string) (domain.Account, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.getLocked(id, owner)
}

// SetBalance applies immediately; there is no deferred commit, which is
// exactly why the coordinator carries compensating-rollback logic.
func (t *memTx) SetBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	acc, ok := t.s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	acc.Balance = balance
	t.s.accounts[id] = acc
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, eventType string, accountID int64, actor string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.events = append(t.s.events, Event{
		Type:      eventType,
		AccountID: accountID,
		Actor:     actor,
		Payload:   raw,
		Canonical: string(canon),
	})
	return nil
}

var _ store.Store = (*Store)(nil)
