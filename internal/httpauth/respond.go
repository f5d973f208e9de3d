package httpauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"go.uber.org/zap"
)

const CodeMissingToken = "MISSING_TOKEN"

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func RespondErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	RespondJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}})
}

var messages = map[string]string{
	CodeMissingToken:             "authentication token is required",
	token.CodeInvalid:            "token is invalid",
	token.CodeExpired:            "token has expired",
	token.CodeWrongKind:          "wrong token type",
	token.CodeRevoked:            "token has been revoked",
	token.CodeStorageUnavailable: "token revocation status is unavailable",
}

// StatusFor maps a verification error to its HTTP status and code. Store
// failures are 503, never 401, so clients retry instead of logging out.
func StatusFor(err error) (int, string) {
	code := token.Code(err)
	switch {
	case code == token.CodeStorageUnavailable:
		return http.StatusServiceUnavailable, code
	case code != "":
		return http.StatusUnauthorized, code
	case errors.Is(err, errMissingToken):
		return http.StatusUnauthorized, CodeMissingToken
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// RespondVerifyError writes the envelope for a failed verification.
func RespondVerifyError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg, ok := messages[code]
	if !ok {
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	RespondError(w, status, code, msg)
}
