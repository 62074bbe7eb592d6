package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/billing"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/queue"
	"github.com/jobboard/aicredits/internal/utils"
)

type settingsRequest struct {
	Enabled          *bool    `json:"enabled"`
	Model            *string  `json:"model"`
	MaxTokens        *int     `json:"max_tokens"`
	MonthlyBudgetUSD *float64 `json:"monthly_budget_usd"`
}

func (d *Dependencies) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snapshot, err := d.Settings.Snapshot(r.Context())
	if err != nil {
		d.Logger.Error("failed to load AI settings", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	respond(w, http.StatusOK, snapshot)
}

// handlePutSettings applies a partial update over the current settings
func (d *Dependencies) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "Invalid JSON body")
		return
	}

	next, err := d.Settings.Snapshot(r.Context())
	if err != nil {
		d.Logger.Error("failed to load AI settings", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}

	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}
	if req.Model != nil {
		next.Model = *req.Model
	}
	if req.MaxTokens != nil {
		next.MaxTokens = *req.MaxTokens
	}
	if req.MonthlyBudgetUSD != nil {
		next.MonthlyBudgetUSD = models.USD(*req.MonthlyBudgetUSD)
	}

	saved, err := d.Settings.Update(r.Context(), next)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, saved)
}

func (d *Dependencies) handleSpend(w http.ResponseWriter, r *http.Request) {
	spent, err := d.Spend.MonthlySpend(r.Context())
	if err != nil {
		d.Logger.Error("failed to read monthly spend", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}

	snapshot, err := d.Settings.Snapshot(r.Context())
	if err != nil {
		d.Logger.Error("failed to load AI settings", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"month_spend_usd":    spent,
		"monthly_budget_usd": snapshot.MonthlyBudgetUSD,
	})
}

// handleResetSpend clears the month-to-date counter. Spend derived from the
// usage log cannot be cleared this way.
func (d *Dependencies) handleResetSpend(w http.ResponseWriter, r *http.Request) {
	resetter, ok := d.Spend.(billing.SpendResetter)
	if !ok {
		utils.RespondWithError(w, http.StatusConflict, CodeConflict, "Monthly spend cannot be reset with this tracker")
		return
	}
	if err := resetter.ResetMonthlySpend(r.Context()); err != nil {
		d.Logger.Error("failed to reset monthly spend", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	d.Logger.Info("monthly AI spend reset")
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if d.DeadLetters == nil {
		utils.RespondWithError(w, http.StatusNotFound, CodeNotFound, "Usage queue not configured")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	items, err := d.DeadLetters.DeadLetters(r.Context(), limit)
	if err != nil {
		d.Logger.Error("failed to list dead letters", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}
	respond(w, http.StatusOK, map[string]any{"items": items})
}

func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if d.DeadLetters == nil {
		utils.RespondWithError(w, http.StatusNotFound, CodeNotFound, "Usage queue not configured")
		return
	}

	id := r.PathValue("id")
	err := d.DeadLetters.RetryDeadLetterItem(r.Context(), id)
	if errors.Is(err, queue.ErrItemNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, CodeNotFound, "Dead letter item not found")
		return
	}
	if err != nil {
		d.Logger.Error("failed to retry dead letter", zap.String("id", id), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
