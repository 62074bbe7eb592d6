package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/middleware"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/storage"
	"github.com/jobboard/aicredits/internal/utils"
)

type balanceResponse struct {
	Balance models.Credits `json:"balance"`
	Guest   bool           `json:"guest"`
}

func (d *Dependencies) handleBalance(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())
	if caller.IsGuest() {
		respond(w, http.StatusOK, balanceResponse{Balance: d.Coordinator.GuestBalance(r), Guest: true})
		return
	}

	balance, err := d.Coordinator.GetBalance(r.Context(), caller.UserID)
	if err != nil {
		d.Logger.Error("failed to read balance", zap.String("user_id", caller.UserID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	respond(w, http.StatusOK, balanceResponse{Balance: balance})
}

func (d *Dependencies) handleTransactions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txns, err := d.Ledger.ListTransactions(r.Context(), caller.UserID, limit, offset)
	if err != nil {
		d.Logger.Error("failed to list transactions", zap.String("user_id", caller.UserID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	if txns == nil {
		txns = []models.CreditTransaction{}
	}
	respond(w, http.StatusOK, map[string]any{"transactions": txns, "limit": limit, "offset": offset})
}

type grantResponse struct {
	Balance models.Credits `json:"balance"`
	Applied bool           `json:"applied"`
}

func (d *Dependencies) handleSignupBonus(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())

	res, err := d.Coordinator.GrantSignupBonus(r.Context(), caller.UserID)
	if err != nil {
		d.Logger.Error("signup bonus failed", zap.String("user_id", caller.UserID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	respond(w, http.StatusOK, grantResponse{Balance: res.Balance, Applied: res.Applied})
}

type grantRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount,omitempty"`
	Package        string `json:"package,omitempty"`
	Source         string `json:"source,omitempty"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// handleGrant credits a user on behalf of another service, usually the
// payment webhook. Either a package or an amount with a source is given.
func (d *Dependencies) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "Invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "user_id is required")
		return
	}

	var (
		res *storage.GrantResult
		err error
	)
	switch {
	case req.Package != "" && req.Amount != 0:
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "give either package or amount, not both")
		return
	case req.Package != "":
		res, err = d.Coordinator.GrantPackage(r.Context(), req.UserID, req.Package, req.IdempotencyKey)
	default:
		source, perr := models.ParseGrantSource(req.Source)
		if perr != nil {
			utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, perr.Error())
			return
		}
		res, err = d.Coordinator.Grant(r.Context(), req.UserID, models.Credits(req.Amount), source, req.Description, req.IdempotencyKey)
	}

	if err != nil {
		switch {
		case errors.Is(err, charge.ErrUnknownPackage),
			errors.Is(err, storage.ErrInvalidAmount),
			errors.Is(err, storage.ErrInvalidSource):
			utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		default:
			d.Logger.Error("grant failed", zap.String("user_id", req.UserID), zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		}
		return
	}

	status := http.StatusCreated
	if !res.Applied {
		status = http.StatusOK
	}
	respond(w, status, grantResponse{Balance: res.Balance, Applied: res.Applied})
}
