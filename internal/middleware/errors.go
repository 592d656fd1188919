package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// Error codes written by middleware.
const (
	ErrCodeRateLimited      = "rate_limit_exceeded"
	ErrCodeOriginNotAllowed = "origin_not_allowed"
	ErrCodeUnauthorized     = "unauthorized"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError writes the API error envelope and reports code to Logging.
// It mirrors api.WriteError, which middleware cannot import.
func writeError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(ctx, code))

	var body errorBody
	body.Error.Code = code
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
