package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the payload of an error response.
// Action tells the client which call to action to show, if any.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, status int, code, message string) {
	RespondWithErrorBody(w, status, ErrorBody{Code: code, Message: message})
}

// RespondWithErrorBody sends an error response with a fully populated body
func RespondWithErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	_ = RespondWithJSON(w, status, ErrorResponse{Error: body})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return err
	}
	return nil
}
