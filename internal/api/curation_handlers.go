package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/smartplant/internal/audit"
	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/curation"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
)

// ReviewRequest represents the request body for POST /admin/unsure-images.
type ReviewRequest struct {
	PlantID string `json:"plantID"`
	Action  string `json:"action"`
}

// UnsureResponse lists the review queue.
type UnsureResponse struct {
	Items []curation.QueueItem `json:"items"`
	Count int                  `json:"count"`
}

// CurationHandlers holds dependencies for the review queue and feedback handlers.
type CurationHandlers struct {
	queue    *curation.Queue
	feedback *curation.FeedbackService
	logger   *slog.Logger
}

// NewCurationHandlers creates a new CurationHandlers instance.
func NewCurationHandlers(queue *curation.Queue, feedback *curation.FeedbackService, logger *slog.Logger) *CurationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurationHandlers{queue: queue, feedback: feedback, logger: logger}
}

// ListUnsure handles GET /admin/unsure-images. Operators only.
func (h *CurationHandlers) ListUnsure(w http.ResponseWriter, r *http.Request) {
	if !auth.SessionFromContext(r.Context()).IsOperator() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Operator role required")
		return
	}

	items, err := h.queue.Unsure(r.Context())
	if err != nil {
		writeSightingError(w, r, err, "Failed to list review queue")
		return
	}
	if items == nil {
		items = []curation.QueueItem{}
	}
	writeJSON(w, r, http.StatusOK, UnsureResponse{Items: items, Count: len(items)})
}

// Review handles POST /admin/unsure-images - records an operator verdict.
func (h *CurationHandlers) Review(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w, r)
		return
	}
	if req.PlantID == "" {
		writeValidation(w, r, "plantID is required")
		return
	}

	sess := auth.SessionFromContext(r.Context())
	review, err := h.queue.Review(audit.WithRequestMetadata(r), sess, req.PlantID, req.Action)
	if err != nil {
		if errors.Is(err, curation.ErrInvalidAction) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidAction)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidAction, "action must be 'sure' or 'unsure'")
			return
		}
		writeSightingError(w, r, err, "Failed to record review")
		return
	}
	writeJSON(w, r, http.StatusOK, review)
}

// Feedback handles POST /feedback.
func (h *CurationHandlers) Feedback(w http.ResponseWriter, r *http.Request) {
	var in curation.FeedbackInput
	if err := decodeJSON(r, &in); err != nil {
		writeBadJSON(w, r)
		return
	}

	sess := auth.SessionFromContext(r.Context())
	fb, err := h.feedback.Submit(r.Context(), sess, in)
	if err != nil {
		switch {
		case errors.Is(err, curation.ErrInvalidFeedback):
			writeValidation(w, r, err.Error())
		case errors.Is(err, sighting.ErrForbidden) && sess.IsAnonymous():
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		default:
			writeSightingError(w, r, err, "Failed to record feedback")
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, fb)
}
