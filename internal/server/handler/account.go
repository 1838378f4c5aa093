package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// AccountService redeems email verification tokens.
type AccountService interface {
	ConfirmEmail(ctx context.Context, token string) (bool, error)
}

// AccountHandler serves confirm-email.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// ConfirmEmail always answers 200: {success:1} when the token was redeemed,
// {success:0} otherwise, including on store failures.
// GET /.netlify/functions/confirm-email?token=
func (h *AccountHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	ok, err := h.accounts.ConfirmEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "confirm email failed", slog.String("error", err.Error()))
	}
	success := 0
	if ok {
		success = 1
	}
	writeJSON(w, http.StatusOK, map[string]int{"success": success})
}
