package handler

import (
	"log/slog"
	"net/http"

	"github.com/gavelmarket/gavel/internal/domain"
	"github.com/gavelmarket/gavel/internal/server/middleware"
	"github.com/gavelmarket/gavel/internal/service"
)

// CreditHandler serves credit-ledger endpoints.
type CreditHandler struct {
	credits *service.CreditService
	logger  *slog.Logger
}

// NewCreditHandler creates a CreditHandler.
func NewCreditHandler(credits *service.CreditService, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{credits: credits, logger: logger}
}

// GetBalance returns an account's withdrawable credit balance.
// GET /api/credits/{account}
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAccount(pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	amount, err := h.credits.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.String(),
		"amount":  amount,
	})
}

// Withdraw drains the account's full credit balance to the account. The
// signed caller must be the account itself.
// POST /api/credits/{account}/withdraw
func (h *CreditHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request must be signed")
		return
	}

	receiver, err := domain.ParseAccount(pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	amount, err := h.credits.Withdraw(r.Context(), caller, receiver)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": receiver.String(),
		"amount":  amount,
	})
}

// ListRefunds returns an account's refund history.
// GET /api/credits/{account}/refunds
func (h *CreditHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAccount(pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	refunds, err := h.credits.Refunds(r.Context(), account, parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if refunds == nil {
		refunds = []domain.Refund{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refunds": refunds,
		"count":   len(refunds),
	})
}
