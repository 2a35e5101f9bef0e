// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bankweb/internal/domain"
	"bankweb/internal/store"
)

const (
	pgLockNotAvailable = "55P03" // raised when lock_timeout expires
	pgUniqueViolation  = "23505"

	bcryptCost = 10
)

type Store struct {
	db       *pgxpool.Pool
	lockWait time.Duration
}

// New wraps an existing pool. lockWait bounds how long WithAccountLock
// waits for row locks before surfacing store.ErrLockTimeout.
func New(db *pgxpool.Pool, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Store{db: db, lockWait: lockWait}
}

func (s *Store) Close() { s.db.Close() }

func (s *Store) GetUser(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		`SELECT user_id, first_name, last_name, street, city, country_state, country
		   FROM bank_users WHERE user_id=$1`,
		username,
	).Scan(&u.Username, &u.FirstName, &u.LastName, &u.Street, &u.City, &u.CountryState, &u.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, store.ErrNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO bank_users(user_id, pass, first_name, last_name, street, city, country_state, country)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.Username, string(hash), u.FirstName, u.LastName, u.Street, u.City, u.CountryState, u.Country,
	)
	if isPgCode(err, pgUniqueViolation) {
		return store.ErrDuplicateUser
	}
	return err
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT pass FROM bank_users WHERE user_id=$1`, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (s *Store) ListAccounts(ctx context.Context, owner string) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT account_id, bank_user_id, account_type, balance::text
		   FROM bank_user_accounts WHERE bank_user_id=$1 ORDER BY account_id`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, id int64, owner string) (domain.Account, error) {
	return getAccount(ctx, s.db, id, owner, false)
}

func (s *Store) AccountTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT account_type FROM bank_account_types ORDER BY account_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *Store) CreateAccount(ctx context.Context, owner, accountType string) (domain.Account, error) {
	var acc domain.Account
	var raw string
	err := s.db.QueryRow(ctx,
		`INSERT INTO bank_user_accounts(bank_user_id, account_type, balance)
		 VALUES($1,$2,0)
		 RETURNING account_id, bank_user_id, account_type, balance::text`,
		owner, accountType,
	).Scan(&acc.ID, &acc.Owner, &acc.Type, &raw)
	if err != nil {
		// Foreign key misses mean the type label (or owner) is not valid.
		if isPgCode(err, "23503") {
			return domain.Account{}, fmt.Errorf("%w: unknown account type %q", store.ErrValidation, accountType)
		}
		return domain.Account{}, err
	}
	acc.Balance, err = decimal.NewFromString(raw)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	return acc, nil
}

// WithAccountLock runs fn inside one database transaction holding
// SELECT ... FOR UPDATE row locks on every id, acquired in ascending order
// so two operations over the same pair cannot deadlock. lock_timeout is
// set locally so a contended lock surfaces as ErrLockTimeout instead of
// hanging the request.
func (s *Store) WithAccountLock(ctx context.Context, ids []int64, fn func(store.AccountTx) error) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// SET LOCAL cannot take a bind parameter.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return err
	}

	for _, id := range sorted {
		if _, err := tx.Exec(ctx,
			`SELECT account_id FROM bank_user_accounts WHERE account_id=$1 FOR UPDATE`, id,
		); err != nil {
			if isPgCode(err, pgLockNotAvailable) {
				return store.ErrLockTimeout
			}
			return err
		}
	}

	if err := fn(&accountTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type accountTx struct {
	tx pgx.Tx
}

func (t *accountTx) GetAccount(ctx context.Context, id int64, owner string) (domain.Account, error) {
	return getAccount(ctx, t.tx, id, owner, true)
}

func (t *accountTx) SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bank_user_accounts SET balance=$1::numeric WHERE account_id=$2`,
		balance.StringFixed(2), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccount(ctx context.Context, q querier, id int64, owner string, forUpdate bool) (domain.Account, error) {
	sql := `SELECT account_id, bank_user_id, account_type, balance::text
	          FROM bank_user_accounts WHERE account_id=$1 AND bank_user_id=$2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	acc, err := scanAccount(q.QueryRow(ctx, sql, id, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Fails closed: another user's account looks like a miss.
			return domain.Account{}, store.ErrNotFound
		}
		return domain.Account{}, err
	}
	return acc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (domain.Account, error) {
	var acc domain.Account
	var raw string
	if err := row.Scan(&acc.ID, &acc.Owner, &acc.Type, &raw); err != nil {
		return domain.Account{}, err
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	acc.Balance = bal
	return acc, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var _ store.Store = (*Store)(nil)
