package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bankweb/internal/domain"
	"bankweb/internal/ledger"
	"bankweb/internal/session"
	"bankweb/internal/store"
	"bankweb/internal/throttle"
	"bankweb/internal/validate"
)

type Handlers struct {
	st       store.Store
	coord    *ledger.Coordinator
	sessions *session.Manager
	attempts *throttle.Tracker
	log      *slog.Logger
}

func NewHandlers(st store.Store, coord *ledger.Coordinator, sm *session.Manager, attempts *throttle.Tracker, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{st: st, coord: coord, sessions: sm, attempts: attempts, log: log}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// POST /login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorSet(w, http.StatusMethodNotAllowed, xmlField{Name: "form", Error: "Method not allowed"})
		return
	}

	var form loginForm
	if err := decodeXML(r, &form); err != nil || form.Username == "" || form.Password == "" {
		writeErrorSet(w, http.StatusUnauthorized,
			xmlField{Name: "username", Error: "Required"},
			xmlField{Name: "password", Error: "Required"},
		)
		return
	}
	username := strings.ToLower(form.Username)

	// Shape checks run before any store access; an invalid username or a
	// password that could never have been registered short-circuits with
	// the same generic message a bad credential gets.
	invalid := func() {
		writeErrorSet(w, http.StatusUnauthorized, xmlField{Name: "password", Error: "Invalid password/username"})
	}
	if validate.Username(username) != nil || validate.Password(form.Password) != nil {
		invalid()
		return
	}
	if h.attempts.Locked(username) {
		h.log.Warn("login attempt for locked account", "user", username)
		invalid()
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ok, err := h.st.Authenticate(ctx, username, form.Password)
	if err != nil {
		h.log.Error("authenticate failed", "user", username, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "password", Error: "Unknown error, please try again"})
		return
	}
	if !ok {
		h.log.Info("failed login attempt", "user", username)
		h.attempts.Fail(username)
		invalid()
		return
	}

	h.attempts.Reset(username)
	if err := h.sessions.SignIn(w, r, username); err != nil {
		h.log.Error("session save failed", "user", username, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "password", Error: "Unknown error, please try again"})
		return
	}
	writeXML(w, http.StatusOK, xmlResult{Value: "true"})
}

// registrationFields fixes the validation order so error sets come back
// in the order the form lays fields out.
var registrationFields = []string{
	"first_name", "last_name", "street", "city",
	"country_state", "country", "username", "password",
}

// POST /create-user
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorSet(w, http.StatusMethodNotAllowed, xmlField{Name: "form", Error: "Method not allowed"})
		return
	}

	var form newUserForm
	if err := decodeXML(r, &form); err != nil {
		writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "form", Error: "Invalid XML"})
		return
	}
	values := map[string]string{
		"first_name":    form.FirstName,
		"last_name":     form.LastName,
		"street":        form.Street,
		"city":          form.City,
		"country_state": form.CountryState,
		"country":       form.Country,
		"username":      form.Username,
		"password":      form.Password,
	}

	var fieldErrs []xmlField
	for _, name := range registrationFields {
		if values[name] == "" {
			fieldErrs = append(fieldErrs, xmlField{Name: name, Error: "Required"})
		}
	}
	if len(fieldErrs) > 0 {
		writeErrorSet(w, http.StatusBadRequest, fieldErrs...)
		return
	}

	for _, name := range registrationFields {
		if err := validate.FieldValidators[name](values[name]); err != nil {
			var fe *validate.FieldError
			if errors.As(err, &fe) {
				fieldErrs = append(fieldErrs, xmlField{Name: fe.Field, Error: fe.Reason})
			} else {
				fieldErrs = append(fieldErrs, xmlField{Name: name, Error: "Invalid value"})
			}
		}
	}
	if len(fieldErrs) > 0 {
		writeErrorSet(w, http.StatusBadRequest, fieldErrs...)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	username := strings.ToLower(form.Username)
	if _, err := h.st.GetUser(ctx, username); err == nil {
		writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "username", Error: "Username already exists"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "username", Error: "Could not validate username, please try again"})
		return
	}

	user := domain.User{
		Username:     username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Street:       form.Street,
		City:         form.City,
		CountryState: form.CountryState,
		Country:      form.Country,
	}
	if err := h.st.CreateUser(ctx, user, form.Password); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "username", Error: "Username already exists"})
			return
		}
		h.log.Error("create user failed", "user", username, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "country", Error: "Failed to insert data, please try again later"})
		return
	}
	writeXML(w, http.StatusCreated, xmlResult{Value: "true"})
}

// GET /my-info
func (h *Handlers) MyInfo(w http.ResponseWriter, r *http.Request) {
	owner := h.sessions.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	u, err := h.st.GetUser(ctx, owner)
	if err != nil {
		h.log.Error("get user failed", "user", owner, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "user", Error: "Unknown Error"})
		return
	}
	writeXML(w, http.StatusOK, xmlUser{
		UserID:       u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Street:       u.Street,
		City:         u.City,
		CountryState: u.CountryState,
		Country:      u.Country,
	})
}

// GET /my-accounts
func (h *Handlers) MyAccounts(w http.ResponseWriter, r *http.Request) {
	owner := h.sessions.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	accounts, err := h.st.ListAccounts(ctx, owner)
	if err != nil {
		h.log.Error("list accounts failed", "user", owner, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "accounts", Error: "Unknown Error"})
		return
	}
	doc := xmlAccounts{}
	for _, acc := range accounts {
		doc.Accounts = append(doc.Accounts, xmlAccount{
			AccountID: acc.ID,
			Type:      acc.Type,
			Balance:   acc.Balance.StringFixed(2),
		})
	}
	writeXML(w, http.StatusOK, doc)
}

// GET /my-account/{id}
func (h *Handlers) MyAccount(w http.ResponseWriter, r *http.Request) {
	owner := h.sessions.CurrentUser(r)

	idRaw := strings.TrimPrefix(r.URL.Path, "/my-account/")
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "account", Error: "Invalid account id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	acc, err := h.st.GetAccount(ctx, id, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorSet(w, http.StatusNotFound, xmlField{Name: "account", Error: "Account not found"})
			return
		}
		h.log.Error("get account failed", "user", owner, "account", id, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "account", Error: "Unknown error"})
		return
	}
	writeXML(w, http.StatusOK, xmlAccountDoc{xmlAccount: xmlAccount{
		AccountID: acc.ID,
		Type:      acc.Type,
		Balance:   acc.Balance.StringFixed(2),
	}})
}

// GET /account-types
func (h *Handlers) AccountTypes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	types, err := h.st.AccountTypes(ctx)
	if err != nil {
		h.log.Error("account types failed", "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "types", Error: "Unknown Error"})
		return
	}
	writeXML(w, http.StatusOK, xmlTypes{Types: types})
}

// POST /create-account
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorSet(w, http.StatusMethodNotAllowed, xmlField{Name: "form", Error: "Method not allowed"})
		return
	}
	owner := h.sessions.CurrentUser(r)

	var form newAccountForm
	if err := decodeXML(r, &form); err != nil || form.AccountType == "" {
		writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "account_type", Error: "Required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if _, err := h.st.CreateAccount(ctx, owner, form.AccountType); err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "account_type", Error: "Invalid account type choice"})
			return
		}
		h.log.Error("create account failed", "user", owner, "err", err)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "account_type", Error: "Failed to insert data, please try again later"})
		return
	}
	writeXML(w, http.StatusCreated, xmlResult{Value: "true"})
}

// POST /update-account runs the balance transaction coordinator.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorSet(w, http.StatusMethodNotAllowed, xmlField{Name: "form", Error: "Method not allowed"})
		return
	}
	owner := h.sessions.CurrentUser(r)

	var form updateAccountForm
	if err := decodeXML(r, &form); err != nil || form.Account == "" || form.Action == "" || form.Change == "" {
		writeErrorSet(w, http.StatusBadRequest,
			xmlField{Name: "account", Error: "Required"},
			xmlField{Name: "action", Error: "Required"},
			xmlField{Name: "change", Error: "Required"},
		)
		return
	}

	sourceID, err := strconv.ParseInt(form.Account, 10, 64)
	if err != nil {
		writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "account", Error: "Invalid account selection"})
		return
	}
	action := domain.Action(form.Action)
	var destID int64
	if action == domain.ActionTransfer {
		destID, err = strconv.ParseInt(form.TransferAccount, 10, 64)
		if err != nil {
			writeErrorSet(w, http.StatusBadRequest, xmlField{Name: "transferAccount", Error: "Invalid account selection"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	outcome := h.coord.Execute(ctx, owner, action, sourceID, destID, form.Change)
	h.respondOutcome(w, outcome)
}

func (h *Handlers) respondOutcome(w http.ResponseWriter, out ledger.Outcome) {
	switch out.Status {
	case ledger.StatusOK:
		doc := xmlBalances{}
		for _, b := range out.Balances {
			doc.Accounts = append(doc.Accounts, xmlAccount{
				AccountID: b.AccountID,
				Balance:   b.Balance.StringFixed(2),
			})
		}
		writeXML(w, http.StatusAccepted, doc)

	case ledger.StatusRejected:
		writeErrorSet(w, statusForReason(out), xmlField{
			Name:  fieldForReason(out),
			Error: out.Reason.Message(),
		})

	case ledger.StatusFailed:
		if errors.Is(out.Cause, store.ErrLockTimeout) {
			writeErrorSet(w, http.StatusServiceUnavailable, xmlField{Name: "change", Error: "Server busy, please try again"})
			return
		}
		h.log.Error("account update failed", "err", out.Cause)
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "change", Error: "Could not update account balance, please try again"})

	case ledger.StatusInconsistent:
		// No balance details: the client must not learn partial state.
		writeErrorSet(w, http.StatusInternalServerError, xmlField{Name: "change", Error: "Unable to confirm transaction status"})
	}
}

func statusForReason(out ledger.Outcome) int {
	if out.Reason == ledger.ReasonNotOwner && !out.OnDestination {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

func fieldForReason(out ledger.Outcome) string {
	switch out.Reason {
	case ledger.ReasonInvalidAction:
		return "action"
	case ledger.ReasonNotOwner:
		if out.OnDestination {
			return "transferAccount"
		}
		return "account"
	case ledger.ReasonSameAccount:
		return "transferAccount"
	default:
		return "change"
	}
}

// GET /logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(w, r); err != nil {
		h.log.Warn("session clear failed", "err", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
