package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/onnwee/smartplant/internal/taxonomy"
	"github.com/onnwee/smartplant/internal/tracing"
)

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Identifier Identifier
	Resolver   taxonomy.Lookup
	Repository sighting.Repository
	// Bucket is used to derive image URLs the classifier does not return.
	Bucket  string
	Metrics *Metrics
	Logger  *slog.Logger
}

// Handler identifies uploaded images, resolves the label against the
// taxonomy and persists the resulting sighting.
type Handler struct {
	identifier Identifier
	resolver   taxonomy.Lookup
	repo       sighting.Repository
	bucket     string
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a Handler. Resolver may be nil, in which case no
// sighting is ever linked to a catalog entry.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		identifier: cfg.Identifier,
		resolver:   cfg.Resolver,
		repo:       cfg.Repository,
		bucket:     cfg.Bucket,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Identify classifies ownerID's objectKey. The returned error wraps
// ErrIdentificationFailed.
func (h *Handler) Identify(ctx context.Context, sess auth.Session, ownerID, objectKey string, loc *sighting.Coordinate) (*Result, error) {
	if objectKey == "" {
		return nil, fmt.Errorf("%w: image key is required", ErrIdentificationFailed)
	}
	result, err := h.identifier.Identify(ctx, sess, ownerID, objectKey, loc)
	if err != nil {
		if !errors.Is(err, ErrIdentificationFailed) {
			err = fmt.Errorf("%w: %v", ErrIdentificationFailed, err)
		}
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentificationFailed, err)
	}
	if result.ImageURL == "" {
		result.ImageURL = sighting.ImageURL(h.bucket, objectKey)
	}
	return result, nil
}

// Resolve matches a raw label against the taxonomy. A miss is not an error.
func (h *Handler) Resolve(label string) (*taxonomy.Match, bool) {
	if h.resolver == nil {
		return nil, false
	}
	m, ok := h.resolver.Resolve(label)
	if !ok {
		return nil, false
	}
	return &m, true
}

// CreateParams describes a sighting to persist.
type CreateParams struct {
	OwnerID          string
	ImageKey         string
	ImageURL         string
	Species          string
	Confidence       float64
	Coordinate       sighting.Coordinate
	Rarity           string
	MatchedSpeciesID *string
}

// CreateSighting persists a new sighting. Rarity defaults to Common and the
// initial mask follows from it. A reused image key is sighting.ErrDuplicate.
func (h *Handler) CreateSighting(ctx context.Context, p CreateParams) (*sighting.Sighting, error) {
	if p.OwnerID == "" {
		return nil, sighting.ErrOwnerRequired
	}

	now := h.now().UTC()
	id, err := sighting.NewID(now)
	if err != nil {
		return nil, err
	}

	rarity := sighting.NormalizeRarity(p.Rarity)
	imageURL := p.ImageURL
	if imageURL == "" {
		imageURL = sighting.ImageURL(h.bucket, p.ImageKey)
	}

	s := &sighting.Sighting{
		ID:               id,
		OwnerID:          p.OwnerID,
		ImageKey:         p.ImageKey,
		ImageURL:         imageURL,
		RawSpeciesLabel:  p.Species,
		MatchedSpeciesID: p.MatchedSpeciesID,
		Confidence:       p.Confidence,
		Coordinate:       p.Coordinate,
		Rarity:           rarity,
		IsMasked:         sighting.InitialMask(rarity),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "sighting created",
		slog.String("sighting_id", s.ID),
		slog.String("owner_id", s.OwnerID),
		slog.String("rarity", string(s.Rarity)),
		slog.Bool("is_masked", s.IsMasked))
	return s, nil
}

// SubmitParams is the input of Submit.
type SubmitParams struct {
	OwnerID  string
	ImageKey string
	Location *sighting.Coordinate
	Rarity   string
}

// Outcome is the result of a successful Submit.
type Outcome struct {
	Result   *Result
	Match    *taxonomy.Match
	Sighting *sighting.Sighting
}

// MatchedSpeciesID returns the linked catalog id, or nil when unresolved.
func (o *Outcome) MatchedSpeciesID() *string {
	if o.Match == nil {
		return nil
	}
	key := o.Match.Species.Key()
	return &key
}

// Submit identifies the image, resolves the label and creates the sighting.
// The image key must lie under the owner's upload prefix. Nothing is
// persisted when identification fails.
func (h *Handler) Submit(ctx context.Context, sess auth.Session, p SubmitParams) (out *Outcome, err error) {
	if !sess.CanActFor(p.OwnerID) {
		return nil, sighting.ErrForbidden
	}
	if !sighting.OwnsImageKey(p.OwnerID, p.ImageKey) {
		h.countSubmission("rejected", false)
		return nil, fmt.Errorf("%w: %s", sighting.ErrForeignImageKey, p.ImageKey)
	}
	ctx, endSpan := tracing.StartSpan(ctx, "identify.submit")
	defer func() { endSpan(err) }()

	result, err := h.Identify(ctx, sess, p.OwnerID, p.ImageKey, p.Location)
	if err != nil {
		h.countSubmission("failed", false)
		return nil, err
	}

	out = &Outcome{Result: result}
	out.Match, _ = h.Resolve(result.Species)
	tracing.AddEvent(ctx, "species.identified",
		attribute.String("species", result.Species),
		attribute.Float64("confidence", result.Confidence),
		attribute.Bool("resolved", out.Match != nil))

	var coord sighting.Coordinate
	if p.Location != nil {
		coord = *p.Location
	}

	s, err := h.CreateSighting(ctx, CreateParams{
		OwnerID:          p.OwnerID,
		ImageKey:         p.ImageKey,
		ImageURL:         result.ImageURL,
		Species:          result.Species,
		Confidence:       result.Confidence,
		Coordinate:       coord,
		Rarity:           p.Rarity,
		MatchedSpeciesID: out.MatchedSpeciesID(),
	})
	if err != nil {
		if errors.Is(err, sighting.ErrDuplicate) {
			h.countSubmission("duplicate", out.Match != nil)
		} else {
			h.countSubmission("failed", out.Match != nil)
		}
		return nil, err
	}

	h.countSubmission("created", out.Match != nil)
	out.Sighting = s
	tracing.SetAttributes(ctx, attribute.String("sighting.id", s.ID))
	return out, nil
}

func (h *Handler) countSubmission(result string, resolved bool) {
	if h.metrics != nil {
		h.metrics.IncSubmission(result, resolved)
	}
}
