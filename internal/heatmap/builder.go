package heatmap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/smartplant/internal/sighting"
)

// Shape A weights. Operators see masked sightings at a lower weight.
const (
	MaskedConfidence   = 0.3
	UnmaskedConfidence = 0.8
)

// ErrInvalidDate is returned when a date filter is neither RFC3339 nor YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date")

const dateOnly = "2006-01-02"

// Filter narrows heatmap rendering. Zero values mean "no constraint".
type Filter struct {
	Species string    // exact raw label
	Rarity  string    // rarity class after normalization
	Start   time.Time // inclusive
	End     time.Time // inclusive
}

// ParseDate accepts RFC3339 or YYYY-MM-DD. A date-only end bound covers the
// whole day.
func ParseDate(s string, end bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (f Filter) matches(s *sighting.Sighting) bool {
	if f.Species != "" && s.RawSpeciesLabel != f.Species {
		return false
	}
	if f.Rarity != "" && s.Rarity != sighting.NormalizeRarity(f.Rarity) {
		return false
	}
	if !f.Start.IsZero() && s.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && s.CreatedAt.After(f.End) {
		return false
	}
	return true
}

// apply returns the sightings matching f, preserving order.
func (f Filter) apply(items []*sighting.Sighting) []*sighting.Sighting {
	out := make([]*sighting.Sighting, 0, len(items))
	for _, s := range items {
		if f.matches(s) {
			out = append(out, s)
		}
	}
	return out
}

// BuildSightings renders shape A. Sightings whose coordinate role may not see
// are left out.
func BuildSightings(items []*sighting.Sighting, role sighting.Role) SightingsPayload {
	out := SightingsPayload{Sightings: make([]SightingEntry, 0, len(items))}
	for _, s := range items {
		c := sighting.CoordinateFor(s, role)
		if c == nil {
			continue
		}
		conf := UnmaskedConfidence
		if s.IsMasked {
			conf = MaskedConfidence
		}
		out.Sightings = append(out.Sightings, SightingEntry{
			ID:         s.ID,
			Coord:      &LatLng{Lat: Num(c.Lat), Lng: Num(c.Lng)},
			Confidence: Num(conf),
		})
	}
	return out
}

// BuildGeoJSON renders shape B.
func BuildGeoJSON(items []*sighting.Sighting, role sighting.Role) GeoJSONPayload {
	features := make([]Feature, 0, len(items))
	for _, s := range items {
		c := sighting.CoordinateFor(s, role)
		if c == nil {
			continue
		}
		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []Number{Num(c.Lng), Num(c.Lat)},
			},
			Properties: FeatureProperties{
				ID:         s.ID,
				Species:    s.RawSpeciesLabel,
				Rarity:     string(s.Rarity),
				Confidence: Num(s.Confidence),
				CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	return GeoJSONPayload{
		Count:   len(features),
		GeoJSON: FeatureCollection{Type: "FeatureCollection", Features: features},
	}
}

// BuildItems renders shape C with string-typed coordinates, the way the list
// endpoint of the mobile backend returned them.
func BuildItems(items []*sighting.Sighting, role sighting.Role) ItemsPayload {
	out := ItemsPayload{Items: make([]Item, 0, len(items))}
	for _, s := range items {
		c := sighting.CoordinateFor(s, role)
		if c == nil {
			continue
		}
		out.Items = append(out.Items, Item{
			ID:         s.ID,
			Latitude:   Num(c.Lat),
			Longitude:  Num(c.Lng),
			Confidence: Num(s.Confidence),
		})
	}
	return out
}

// Build renders items in format. FormatPoints is not a response shape and
// returns nil.
func Build(format Format, items []*sighting.Sighting, role sighting.Role) Variant {
	switch format {
	case FormatSightings:
		return BuildSightings(items, role)
	case FormatGeoJSON:
		return BuildGeoJSON(items, role)
	case FormatItems:
		return BuildItems(items, role)
	}
	return nil
}
