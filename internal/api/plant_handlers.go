package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/smartplant/internal/audit"
	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/heatmap"
	"github.com/onnwee/smartplant/internal/identify"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/onnwee/smartplant/internal/upload"
)

// TicketIssuer issues presigned upload tickets.
type TicketIssuer interface {
	RequestTicket(ctx context.Context, ownerID, contentType string) (*upload.Ticket, error)
}

// SightingSubmitter identifies an uploaded image and records the sighting.
type SightingSubmitter interface {
	Submit(ctx context.Context, sess auth.Session, p identify.SubmitParams) (*identify.Outcome, error)
}

// PresignRequest represents the request body for POST /plants/presign.
type PresignRequest struct {
	UserID   string `json:"userID"`
	MimeType string `json:"mimeType"`
}

// PresignResponse represents the response for POST /plants/presign.
type PresignResponse struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl"`
	ExpiresAt string `json:"expiresAt"` // ISO 8601 format
}

// IdentifyRequest represents the request body for POST /plants/identify.
type IdentifyRequest struct {
	UserID   string               `json:"userID"`
	ImageKey string               `json:"imageKey"`
	Location *sighting.Coordinate `json:"location,omitempty"`
	Rarity   string               `json:"rarity,omitempty"`
}

// IdentifyResponse represents the response for POST /plants/identify.
type IdentifyResponse struct {
	Species          string             `json:"species"`
	Confidence       float64            `json:"confidence"`
	ImageURL         string             `json:"imageUrl"`
	MatchedSpeciesID *string            `json:"matchedSpeciesId"`
	Sighting         *sighting.Sighting `json:"sighting"`
}

// MaskRequest represents the request body for PUT /plants/{id}/mask. Enable
// is a pointer so a missing field is distinguishable from false.
type MaskRequest struct {
	Enable *bool `json:"enable"`
}

// MaskResponse represents the response for PUT /plants/{id}/mask.
type MaskResponse struct {
	Plant sighting.View `json:"plant"`
}

// PointsResponse is the heatmap body for format=points.
type PointsResponse struct {
	Points []heatmap.Point `json:"points"`
	Count  int             `json:"count"`
}

// PlantHandlers holds dependencies for plant HTTP handlers.
type PlantHandlers struct {
	tickets  TicketIssuer
	submit   SightingSubmitter
	engine   *sighting.Engine
	history  *sighting.HistoryStore
	heatmaps *heatmap.Service
	logger   *slog.Logger
}

// PlantHandlersConfig configures PlantHandlers.
type PlantHandlersConfig struct {
	Tickets  TicketIssuer
	Submit   SightingSubmitter
	Engine   *sighting.Engine
	History  *sighting.HistoryStore
	Heatmaps *heatmap.Service
	Logger   *slog.Logger
}

// NewPlantHandlers creates a new PlantHandlers instance.
func NewPlantHandlers(cfg PlantHandlersConfig) *PlantHandlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PlantHandlers{
		tickets:  cfg.Tickets,
		submit:   cfg.Submit,
		engine:   cfg.Engine,
		history:  cfg.History,
		heatmaps: cfg.Heatmaps,
		logger:   logger,
	}
}

// Presign handles POST /plants/presign - issues a single-use upload ticket.
func (h *PlantHandlers) Presign(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w, r)
		return
	}
	if strings.TrimSpace(req.MimeType) == "" {
		writeValidation(w, r, "mimeType is required")
		return
	}

	sess := auth.SessionFromContext(r.Context())
	if req.UserID == "" {
		req.UserID = sess.UserID
	}
	if req.UserID == "" {
		writeValidation(w, r, "userID is required")
		return
	}
	if !sess.CanActFor(req.UserID) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Cannot request uploads for another user")
		return
	}

	ticket, err := h.tickets.RequestTicket(r.Context(), req.UserID, req.MimeType)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedType,
				"Unsupported content type. Allowed types: image/jpeg, image/png, image/webp, image/heic")
		case errors.Is(err, upload.ErrInvalidOwner):
			writeValidation(w, r, "Invalid userID")
		default:
			h.logger.ErrorContext(r.Context(), "failed to issue upload ticket", "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeTicketIssuance)
			WriteError(w, ctx, http.StatusBadGateway, ErrCodeTicketIssuance, "Failed to issue upload ticket")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, PresignResponse{
		Key:       ticket.ObjectKey,
		UploadURL: ticket.UploadURL,
		ExpiresAt: ticket.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"), // ISO 8601
	})
}

// Identify handles POST /plants/identify - classifies an uploaded image and
// records the sighting.
func (h *PlantHandlers) Identify(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w, r)
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.ImageKey) == "" {
		writeValidation(w, r, "userID and imageKey are required")
		return
	}

	sess := auth.SessionFromContext(r.Context())
	out, err := h.submit.Submit(r.Context(), sess, identify.SubmitParams{
		OwnerID:  req.UserID,
		ImageKey: req.ImageKey,
		Location: req.Location,
		Rarity:   req.Rarity,
	})
	if err != nil {
		if errors.Is(err, identify.ErrIdentificationFailed) {
			h.logger.WarnContext(r.Context(), "identification failed",
				slog.String("image_key", req.ImageKey),
				slog.String("error", err.Error()))
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeIdentification)
			WriteError(w, ctx, http.StatusBadGateway, ErrCodeIdentification, "Plant identification failed")
			return
		}
		writeSightingError(w, r, err, "Failed to record sighting")
		return
	}

	writeJSON(w, r, http.StatusOK, IdentifyResponse{
		Species:          out.Result.Species,
		Confidence:       out.Result.Confidence,
		ImageURL:         out.Sighting.ImageURL,
		MatchedSpeciesID: out.MatchedSpeciesID(),
		Sighting:         out.Sighting,
	})
}

// List handles GET /plants - the visibility-filtered sighting list.
func (h *PlantHandlers) List(w http.ResponseWriter, r *http.Request) {
	role, ok := requestRole(w, r)
	if !ok {
		return
	}
	page, pageSize, err := pageParams(r)
	if err != nil {
		writeValidation(w, r, err.Error())
		return
	}

	q := r.URL.Query()
	result, err := h.engine.ListSightings(r.Context(), role, sighting.Filter{
		Species:  q.Get("species"),
		Rarity:   q.Get("rarity"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeSightingError(w, r, err, "Failed to list plants")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// Get handles GET /plants/{id}.
func (h *PlantHandlers) Get(w http.ResponseWriter, r *http.Request) {
	role, ok := requestRole(w, r)
	if !ok {
		return
	}

	sess := auth.SessionFromContext(r.Context())
	view, err := h.engine.Get(audit.WithRequestMetadata(r), sess, r.PathValue("id"), role)
	if err != nil {
		writeSightingError(w, r, err, "Failed to get plant")
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// SetMask handles PUT /plants/{id}/mask - the operator mask override.
func (h *PlantHandlers) SetMask(w http.ResponseWriter, r *http.Request) {
	var req MaskRequest
	if err := decodeJSON(r, &req); err != nil || req.Enable == nil {
		writeValidation(w, r, "enable must be a boolean")
		return
	}

	sess := auth.SessionFromContext(r.Context())
	s, err := h.engine.SetMasked(audit.WithRequestMetadata(r), sess, r.PathValue("id"), *req.Enable)
	if err != nil {
		writeSightingError(w, r, err, "Failed to update mask")
		return
	}
	writeJSON(w, r, http.StatusOK, MaskResponse{Plant: sighting.NewView(s, sighting.RoleOperator)})
}

// Heatmap handles GET /plants/heatmap.
func (h *PlantHandlers) Heatmap(w http.ResponseWriter, r *http.Request) {
	role, ok := requestRole(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	format, ok := heatmap.ParseFormat(q.Get("format"))
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownFormat)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownFormat, "format must be sightings, geojson, items or points")
		return
	}

	start, err := heatmap.ParseDate(q.Get("startDate"), false)
	if err != nil {
		writeInvalidDate(w, r, "startDate")
		return
	}
	end, err := heatmap.ParseDate(q.Get("endDate"), true)
	if err != nil {
		writeInvalidDate(w, r, "endDate")
		return
	}
	f := heatmap.Filter{Species: q.Get("species"), Rarity: q.Get("rarity"), Start: start, End: end}

	if format == heatmap.FormatPoints {
		points, err := h.heatmaps.Points(r.Context(), role, f)
		if err != nil {
			writeSightingError(w, r, err, "Failed to build heatmap")
			return
		}
		if points == nil {
			points = []heatmap.Point{}
		}
		writeJSON(w, r, http.StatusOK, PointsResponse{Points: points, Count: len(points)})
		return
	}

	v, err := h.heatmaps.Render(r.Context(), role, format, f)
	if err != nil {
		writeSightingError(w, r, err, "Failed to build heatmap")
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

func writeInvalidDate(w http.ResponseWriter, r *http.Request, param string) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidDate)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidDate, param+" must be RFC3339 or YYYY-MM-DD")
}

// History handles GET /history - an owner's sightings with true coordinates.
func (h *PlantHandlers) History(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	userID := r.URL.Query().Get("userID")
	if userID == "" {
		userID = sess.UserID
	}
	if userID == "" {
		writeValidation(w, r, "userID is required")
		return
	}
	if !sess.CanActFor(userID) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Cannot read another user's history")
		return
	}

	page, pageSize, err := pageParams(r)
	if err != nil {
		writeValidation(w, r, err.Error())
		return
	}

	result, err := h.history.ListByOwner(r.Context(), userID, page, pageSize)
	if err != nil {
		writeSightingError(w, r, err, "Failed to list history")
		return
	}
	if result.Items == nil {
		result.Items = []*sighting.Sighting{}
	}
	writeJSON(w, r, http.StatusOK, result)
}
