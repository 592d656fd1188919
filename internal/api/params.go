// Package api provides the HTTP handlers for the SmartPlant service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// isTruthy reports whether a query flag is set. Only "1" and "true" count.
func isTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true"
}

// requestRole resolves the visibility role for r from its admin flag and
// session. It writes the 403 itself and reports false when denied.
func requestRole(w http.ResponseWriter, r *http.Request) (sighting.Role, bool) {
	sess := auth.SessionFromContext(r.Context())
	role, err := sighting.RoleFor(sess, isTruthy(r.URL.Query().Get("admin")))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Operator role required for admin view")
		return role, false
	}
	return role, true
}

// pageParams parses page and page_size. Missing values are zero and take the
// store defaults.
func pageParams(r *http.Request) (page, pageSize int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 {
			return 0, 0, errors.New("page_size must be a positive integer")
		}
	}
	return page, pageSize, nil
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are allowed.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return err
	}
	return nil
}

// writeBadJSON reports an undecodable request body.
func writeBadJSON(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
}

// writeValidation reports a 400 validation failure.
func writeValidation(w http.ResponseWriter, r *http.Request, message string) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeSightingError maps the shared sighting sentinels and falls back to 500.
func writeSightingError(w http.ResponseWriter, r *http.Request, err error, internalMsg string) {
	switch {
	case errors.Is(err, sighting.ErrNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Plant not found")
	case errors.Is(err, sighting.ErrForbidden):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Not allowed to access this plant")
	case errors.Is(err, sighting.ErrForeignImageKey):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Image key was not issued to this user")
	case errors.Is(err, sighting.ErrDuplicate):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeDuplicateSighting)
		WriteError(w, ctx, http.StatusConflict, ErrCodeDuplicateSighting, "A sighting already exists for this image")
	default:
		slog.ErrorContext(r.Context(), internalMsg, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, internalMsg)
	}
}
