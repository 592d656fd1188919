package sighting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/smartplant/internal/audit"
	"github.com/onnwee/smartplant/internal/auth"
)

// Role is the visibility class of a caller.
type Role int

const (
	// RolePublic sees true coordinates only for unmasked sightings.
	RolePublic Role = iota
	// RoleOperator sees every coordinate.
	RoleOperator
)

// String returns the role label used in logs and metrics.
func (r Role) String() string {
	if r == RoleOperator {
		return "operator"
	}
	return "public"
}

// Page size bounds for ListSightings and history.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// RoleFor derives the visibility role for a request. Operator visibility needs
// both an explicit request and an operator session; asking for it without one
// is ErrForbidden rather than a silent downgrade.
func RoleFor(sess auth.Session, operatorRequested bool) (Role, error) {
	if !operatorRequested {
		return RolePublic, nil
	}
	if !sess.IsOperator() {
		return RolePublic, ErrForbidden
	}
	return RoleOperator, nil
}

// CoordinateFor returns the coordinate a caller with role may see, or nil when
// the location is withheld.
func CoordinateFor(s *Sighting, role Role) *Coordinate {
	if role != RoleOperator && s.IsMasked {
		return nil
	}
	c := s.Coordinate
	return &c
}

// View is the caller-facing projection of a sighting. When the location is
// withheld, Coordinate, Latitude and Longitude are all absent and
// LocationMasked is true.
type View struct {
	ID               string      `json:"id"`
	OwnerID          string      `json:"owner_id"`
	ImageKey         string      `json:"image_key"`
	ImageURL         string      `json:"image_url"`
	Species          string      `json:"species"`
	MatchedSpeciesID *string     `json:"matched_species_id"`
	Confidence       float64     `json:"confidence"`
	Coordinate       *Coordinate `json:"coordinate,omitempty"`
	Latitude         *float64    `json:"latitude,omitempty"`
	Longitude        *float64    `json:"longitude,omitempty"`
	Rarity           Rarity      `json:"rarity"`
	IsMasked         bool        `json:"is_masked"`
	LocationMasked   bool        `json:"location_masked"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewView projects s for a caller with role.
func NewView(s *Sighting, role Role) View {
	v := View{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		ImageKey:         s.ImageKey,
		ImageURL:         s.ImageURL,
		Species:          s.RawSpeciesLabel,
		MatchedSpeciesID: s.MatchedSpeciesID,
		Confidence:       s.Confidence,
		Rarity:           s.Rarity,
		IsMasked:         s.IsMasked,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if c := CoordinateFor(s, role); c != nil {
		lat, lng := c.Lat, c.Lng
		v.Coordinate = c
		v.Latitude = &lat
		v.Longitude = &lng
	} else {
		v.LocationMasked = true
	}
	return v
}

// Filter narrows ListSightings. Zero values mean "no constraint".
type Filter struct {
	Species  string // case-insensitive substring of the raw label
	Rarity   string // exact rarity class after normalization
	Page     int
	PageSize int
}

// normalize applies paging defaults and bounds.
func (f Filter) normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f Filter) matches(s *Sighting) bool {
	if f.Species != "" && !strings.Contains(strings.ToLower(s.RawSpeciesLabel), strings.ToLower(strings.TrimSpace(f.Species))) {
		return false
	}
	if f.Rarity != "" && s.Rarity != NormalizeRarity(f.Rarity) {
		return false
	}
	return true
}

// Page is one page of visibility-filtered sightings.
type Page struct {
	Items    []View `json:"items"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Engine applies the visibility policy on top of a Repository.
type Engine struct {
	repo   Repository
	audit  audit.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a visibility engine. auditRepo may be nil, in which case
// operator actions are not audited.
func NewEngine(repo Repository, auditRepo audit.Repository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		audit:  auditRepo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMasked is the operator override for a sighting's mask flag. It is
// independent of rarity and idempotent.
func (e *Engine) SetMasked(ctx context.Context, sess auth.Session, id string, enabled bool) (*Sighting, error) {
	if !sess.IsOperator() {
		return nil, ErrForbidden
	}

	s, err := e.repo.SetMasked(ctx, id, enabled, e.now())
	if err != nil {
		return nil, err
	}

	if e.audit != nil {
		detail := "enable=" + strconv.FormatBool(enabled)
		if err := audit.LogAccess(ctx, e.audit, sess.UserID, id, audit.ActionSetMask, detail); err != nil {
			return nil, fmt.Errorf("failed to audit mask change: %w", err)
		}
	}

	e.logger.InfoContext(ctx, "sighting mask updated",
		slog.String("sighting_id", id),
		slog.Bool("is_masked", s.IsMasked),
		slog.String("operator_id", sess.UserID),
	)
	return s, nil
}

// Get fetches one sighting projected for role. Operator reads of a masked
// sighting are audited as precise-location access.
func (e *Engine) Get(ctx context.Context, sess auth.Session, id string, role Role) (View, error) {
	if role == RoleOperator && !sess.IsOperator() {
		return View{}, ErrForbidden
	}

	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}

	if role == RoleOperator && s.IsMasked && e.audit != nil {
		if err := audit.LogAccess(ctx, e.audit, sess.UserID, id, audit.ActionAccessPreciseLocation, ""); err != nil {
			return View{}, fmt.Errorf("failed to audit location access: %w", err)
		}
	}
	return NewView(s, role), nil
}

// Visible returns every sighting matching f that role may list, newest first.
// Filters apply first; for public callers masked sightings are then excluded
// entirely. Paging fields of f are ignored.
func (e *Engine) Visible(ctx context.Context, role Role, f Filter) ([]*Sighting, error) {
	all, err := e.repo.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sightings: %w", err)
	}

	out := make([]*Sighting, 0, len(all))
	for _, s := range all {
		if !f.matches(s) {
			continue
		}
		if role != RoleOperator && s.IsMasked {
			continue
		}
		out = append(out, s)
	}
	SortNewestFirst(out)
	return out, nil
}

// ListSightings returns one page of Visible projected for role.
func (e *Engine) ListSightings(ctx context.Context, role Role, f Filter) (Page, error) {
	f = f.normalize()

	visible, err := e.Visible(ctx, role, f)
	if err != nil {
		return Page{}, err
	}

	items := paginate(visible, f.Page, f.PageSize)
	views := make([]View, 0, len(items))
	for _, s := range items {
		views = append(views, NewView(s, role))
	}
	return Page{
		Items:    views,
		Total:    len(visible),
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}
