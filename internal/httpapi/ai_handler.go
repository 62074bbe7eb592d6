package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/gateway"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/middleware"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/utils"
)

// refundTimeout bounds a refund that outlives the client's request
const refundTimeout = 5 * time.Second

type aiFeatureRequest struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	Prompt       string `json:"prompt"`
	Cache        bool   `json:"cache,omitempty"`
}

type creditsView struct {
	Cost      models.Credits `json:"cost"`
	Remaining models.Credits `json:"remaining"`
}

type aiFeatureResponse struct {
	Data    json.RawMessage `json:"data"`
	Cached  bool            `json:"cached"`
	Model   string          `json:"model"`
	Credits creditsView     `json:"credits"`
}

// handleAIFeature serves one metered AI request.
//
// Flow:
//  1. Validate feature and body
//  2. Take a settings snapshot; refuse early when AI is off
//  3. Charge the caller (balance or guest cookie)
//  4. Invoke the gateway without a second credit check
//  5. Refund the caller when the provider failed them
func (d *Dependencies) handleAIFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	feature := models.Feature(r.PathValue("feature"))
	if !feature.IsKnown() {
		utils.RespondWithError(w, http.StatusNotFound, CodeNotFound, "Unknown AI feature")
		return
	}

	var body aiFeatureRequest
	if err := decodeJSON(w, r, &body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		utils.RespondWithError(w, http.StatusBadRequest, CodeBadRequest, "prompt is required")
		return
	}

	snapshot, err := d.Settings.Snapshot(ctx)
	if err != nil {
		d.Logger.Error("failed to load AI settings", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
		return
	}
	if !snapshot.Enabled {
		d.Metrics.ObserveAIRequest(string(feature), metrics.AIOutcomeDisabled)
		d.writeAIError(w, gateway.ErrFeatureDisabled)
		return
	}

	caller := middleware.CallerFrom(ctx)
	charged, err := d.Coordinator.ChargeCaller(ctx, w, r, caller, feature)
	if err != nil {
		if charge.IsInsufficientCredits(err) {
			d.Metrics.ObserveAIRequest(string(feature), metrics.AIOutcomeInsufficient)
		}
		d.writeAIError(w, err)
		return
	}

	result, err := d.Gateway.Invoke(ctx, gateway.Request{
		UserID:       caller.UserID,
		RequestID:    middleware.RequestIDFrom(ctx),
		Feature:      feature,
		SystemPrompt: body.SystemPrompt,
		UserPrompt:   body.Prompt,
		Settings:     snapshot,
		Options: gateway.Options{
			Cache:           body.Cache,
			SkipCreditCheck: true,
		},
	})
	if err != nil {
		// The budget can run out between the snapshot and the call; that
		// charge bought nothing either.
		if gateway.Refundable(err) || errors.Is(err, gateway.ErrFeatureDisabled) {
			d.refund(ctx, w, caller.UserID, charged, refundReason(err))
		}
		d.writeAIError(w, err)
		return
	}

	respond(w, http.StatusOK, aiFeatureResponse{
		Data:    result.Data,
		Cached:  result.Cached,
		Model:   result.Model,
		Credits: creditsView{Cost: charged.Cost, Remaining: charged.Remaining},
	})
}

// refund reverses charged. A registered user's refund runs even when the
// client has gone away, since that is when timeouts usually happen.
func (d *Dependencies) refund(ctx context.Context, w http.ResponseWriter, userID string, charged *charge.Result, reason string) {
	if charged.Guest {
		if _, err := d.Coordinator.RefundGuest(w, charged, reason); err != nil {
			d.Logger.Error("guest refund failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()

	if _, err := d.Coordinator.RefundCharge(ctx, userID, charged, reason); err != nil {
		d.Logger.Error("refund failed",
			zap.String("user_id", userID),
			zap.String("transaction_id", charged.TransactionID.String()),
			zap.Error(err))
	}
}

func refundReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return "provider timeout"
	case errors.Is(err, gateway.ErrMalformedResponse):
		return "malformed response"
	case errors.Is(err, gateway.ErrFeatureDisabled):
		return "feature disabled"
	default:
		return "provider error"
	}
}
