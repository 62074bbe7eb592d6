package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/gateway"
	"github.com/jobboard/aicredits/internal/utils"
)

// Error codes returned in error bodies
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodeFeatureDisabled     = "feature_disabled"
	CodeTimeout             = "ai_timeout"
	CodeMalformedResponse   = "ai_malformed_response"
	CodeProviderError       = "ai_provider_error"
	CodeBadRequest          = "bad_request"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeInternal            = "internal_error"
)

const maxBodyBytes = 1 << 20

func respond(w http.ResponseWriter, status int, payload any) {
	_ = utils.RespondWithJSON(w, status, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeAIError maps charge and gateway failures onto HTTP responses.
// Provider details stay in the logs.
func (d *Dependencies) writeAIError(w http.ResponseWriter, err error) {
	var short *charge.InsufficientCreditsError
	var perr *gateway.ProviderError

	switch {
	case errors.As(err, &short):
		utils.RespondWithErrorBody(w, http.StatusPaymentRequired, utils.ErrorBody{
			Code:    CodeInsufficientCredits,
			Message: "Not enough credits for this feature",
			Action:  short.Action(),
		})
	case errors.Is(err, gateway.ErrFeatureDisabled):
		utils.RespondWithError(w, http.StatusServiceUnavailable, CodeFeatureDisabled, "AI features are temporarily unavailable")
	case errors.Is(err, gateway.ErrTimeout):
		utils.RespondWithError(w, http.StatusGatewayTimeout, CodeTimeout, "The AI service took too long to respond")
	case errors.Is(err, gateway.ErrMalformedResponse):
		utils.RespondWithError(w, http.StatusBadGateway, CodeMalformedResponse, "The AI service returned an unreadable response")
	case errors.As(err, &perr):
		d.Logger.Warn("provider error",
			zap.Int("status", perr.StatusCode),
			zap.String("body", truncate(perr.Body, 512)))
		utils.RespondWithError(w, http.StatusBadGateway, CodeProviderError, "The AI service is unavailable")
	default:
		d.Logger.Error("AI request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
