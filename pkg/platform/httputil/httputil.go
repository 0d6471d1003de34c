// Package httputil renders JSON responses and coded errors for HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "veriledger/pkg/domain-errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error to its HTTP status. Descriptions of internal
// and chain-break errors never leave the process.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	if de, ok := dErrors.As(err); ok && exposesDescription(code) {
		resp.ErrorDescription = de.Message
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeEncoding:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvalidState:
		return http.StatusConflict
	case dErrors.CodeIncompleteVoid, dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeChainSuspect:
		return http.StatusLocked
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func exposesDescription(code dErrors.Code) bool {
	return code != dErrors.CodeInternal && code != dErrors.CodeChainBreak
}
