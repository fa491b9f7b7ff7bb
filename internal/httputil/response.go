// Package httputil provides the JSON request and response helpers shared by
// the HTTP handlers and middleware.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	svcerrors "github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/logging"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// ErrorResponse wraps ErrorBody under an "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured error. The trace id is taken from
// the request context when r is non-nil.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := ErrorBody{Code: code, Message: message, Details: details}
	if r != nil {
		body.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, ErrorResponse{Error: body})
}

// WriteServiceError maps err to its HTTP status and code. Anything that is
// not a ServiceError is reported as an internal error without its text.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	message := se.Message
	if se.Code == svcerrors.CodeInternal {
		message = "internal error"
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), message, se.Details)
}

// WriteError writes a plain error with a code derived from status.
func WriteError(w http.ResponseWriter, status int, message string) {
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	WriteErrorResponse(w, nil, status, code, message, nil)
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(svcerrors.CodeInvalidParameter), message, nil)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(svcerrors.CodeUnauthenticated), message, nil)
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusInternalServerError, string(svcerrors.CodeInternal), message, nil)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields and
// trailing data. On failure it writes a 400 and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		WriteErrorResponse(w, r, http.StatusBadRequest, string(svcerrors.CodeInvalidFormat), msg, map[string]any{"reason": err.Error()})
		return false
	}
	if dec.More() {
		WriteErrorResponse(w, r, http.StatusBadRequest, string(svcerrors.CodeInvalidFormat), "unexpected data after JSON body", nil)
		return false
	}
	return true
}
