package httpapi

import (
	"log/slog"
	"net/http"

	"bankweb/internal/session"
)

// Router wires the XML endpoints. Paths mirror the pages the front end
// posts to; everything past login requires an authenticated session.
func Router(h *Handlers, sm *session.Manager, log *slog.Logger, maxInflight int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/login", h.Login)            // POST
	mux.HandleFunc("/create-user", h.CreateUser) // POST

	protected := http.NewServeMux()
	protected.HandleFunc("/my-info", h.MyInfo)
	protected.HandleFunc("/my-accounts", h.MyAccounts)
	protected.HandleFunc("/my-account/", h.MyAccount) // GET /my-account/{id}
	protected.HandleFunc("/account-types", h.AccountTypes)
	protected.HandleFunc("/create-account", h.CreateAccount)   // POST
	protected.HandleFunc("/update-account", h.UpdateAccount)   // POST
	protected.HandleFunc("/logout", h.Logout)
	mux.Handle("/", requireUser(sm, protected))

	handler := withRequestLogging(log, mux)
	return withConcurrencyLimit(handler, maxInflight)
}
