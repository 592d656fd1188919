package heatmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/smartplant/internal/sighting"
)

// ErrUnknownFormat is returned when Render is asked for a format it cannot build.
var ErrUnknownFormat = errors.New("unknown heatmap format")

// Source lists the sightings a role may see.
type Source interface {
	Visible(ctx context.Context, role sighting.Role, f sighting.Filter) ([]*sighting.Sighting, error)
}

// Service renders heatmaps from the visibility engine.
type Service struct {
	source  Source
	metrics *Metrics
	logger  *slog.Logger
}

// NewService creates a heatmap service. metrics and logger may be nil.
func NewService(source Source, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, metrics: metrics, logger: logger}
}

// visible lists through the engine and applies the heatmap filter.
func (s *Service) visible(ctx context.Context, role sighting.Role, f Filter) ([]*sighting.Sighting, error) {
	items, err := s.source.Visible(ctx, role, sighting.Filter{Rarity: f.Rarity})
	if err != nil {
		return nil, fmt.Errorf("failed to list visible sightings: %w", err)
	}
	return f.apply(items), nil
}

// Render returns the response shape for format.
func (s *Service) Render(ctx context.Context, role sighting.Role, format Format, f Filter) (Variant, error) {
	items, err := s.visible(ctx, role, f)
	if err != nil {
		return nil, err
	}
	v := Build(format, items, role)
	if v == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if s.metrics != nil {
		s.metrics.IncRenders(format)
	}
	return v, nil
}

// Points renders the GeoJSON shape, then aggregates it into weighted points
// through the same decoder clients use.
func (s *Service) Points(ctx context.Context, role sighting.Role, f Filter) ([]Point, error) {
	v, err := s.Render(ctx, role, FormatGeoJSON, f)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode heatmap: %w", err)
	}

	points := Aggregate(raw)
	if s.metrics != nil {
		s.metrics.AddPoints(len(points))
		if dropped := v.(GeoJSONPayload).Count - len(points); dropped > 0 {
			s.metrics.AddDropped(dropped)
		}
	}
	s.logger.DebugContext(ctx, "heatmap aggregated",
		slog.String("role", role.String()),
		slog.Int("points", len(points)),
	)
	return points, nil
}
