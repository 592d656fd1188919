// Package heatmap turns heatmap responses into weighted map points and renders
// visibility-filtered sightings into the response shapes the read API serves.
//
// Three response shapes exist in the wild:
//
//	A  {"sightings":[{"coord":{"lat":..,"lng":..},"confidence":..}]}
//	B  {"count":n,"geojson":{"type":"FeatureCollection","features":[...]}}  coordinates are [lng, lat]
//	C  {"items":[{"latitude":..,"longitude":..,"confidence":..}]}           values may be strings
//
// Detect picks the shape and Aggregate flattens any of them into []Point.
package heatmap

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultWeight is the weight of a point whose confidence is missing,
// non-numeric or not positive.
const DefaultWeight = 0.6

// Format names a response shape.
type Format string

// Known formats. FormatPoints is the already-aggregated output.
const (
	FormatSightings Format = "sightings"
	FormatGeoJSON   Format = "geojson"
	FormatItems     Format = "items"
	FormatPoints    Format = "points"
)

// ParseFormat maps a query value onto a Format. Empty input selects
// FormatGeoJSON.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatGeoJSON, true
	case FormatSightings, FormatGeoJSON, FormatItems, FormatPoints:
		return f, true
	}
	return "", false
}

// Point is one weighted heatmap point.
type Point struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

// Variant is a decoded heatmap response.
type Variant interface {
	Format() Format
	Points() []Point
}

// Number is a JSON value that may arrive as a number or a numeric string.
// Decoding never fails: anything else leaves it invalid.
type Number struct {
	value float64
	valid bool
}

// Num returns a valid Number holding v.
func Num(v float64) Number {
	return Number{value: v, valid: true}
}

// Float returns the value and whether it was present and numeric.
func (n Number) Float() (float64, bool) {
	return n.value, n.valid
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	text := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = Number{value: v, valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler. Invalid numbers encode as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.value, 'f', -1, 64), nil
}

// LatLng is the coordinate object of shape A.
type LatLng struct {
	Lat Number `json:"lat"`
	Lng Number `json:"lng"`
}

// SightingEntry is one element of shape A. Latitude and Longitude are the
// fallback when coord is absent.
type SightingEntry struct {
	ID         string  `json:"id,omitempty"`
	Coord      *LatLng `json:"coord,omitempty"`
	Latitude   *Number `json:"latitude,omitempty"`
	Longitude  *Number `json:"longitude,omitempty"`
	Confidence Number  `json:"confidence"`
}

// SightingsPayload is shape A.
type SightingsPayload struct {
	Sightings []SightingEntry `json:"sightings"`
}

// Format implements Variant.
func (SightingsPayload) Format() Format { return FormatSightings }

// Points implements Variant.
func (p SightingsPayload) Points() []Point {
	out := make([]Point, 0, len(p.Sightings))
	for _, e := range p.Sightings {
		var lat, lng Number
		if e.Coord != nil {
			lat, lng = e.Coord.Lat, e.Coord.Lng
		}
		if _, ok := lat.Float(); !ok && e.Latitude != nil {
			lat = *e.Latitude
		}
		if _, ok := lng.Float(); !ok && e.Longitude != nil {
			lng = *e.Longitude
		}
		if pt, ok := newPoint(lat, lng, e.Confidence); ok {
			out = append(out, pt)
		}
	}
	return out
}

// Geometry is a GeoJSON geometry. Coordinates are [lng, lat].
type Geometry struct {
	Type        string   `json:"type"`
	Coordinates []Number `json:"coordinates"`
}

// FeatureProperties are the properties carried by each shape B feature.
type FeatureProperties struct {
	ID         string `json:"id,omitempty"`
	Species    string `json:"species,omitempty"`
	Rarity     string `json:"rarity,omitempty"`
	Confidence Number `json:"confidence"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// Feature is one GeoJSON point feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// GeoJSONPayload is shape B.
type GeoJSONPayload struct {
	Count   int               `json:"count"`
	GeoJSON FeatureCollection `json:"geojson"`
}

// Format implements Variant.
func (GeoJSONPayload) Format() Format { return FormatGeoJSON }

// Points implements Variant. Coordinates are swapped from [lng, lat].
func (p GeoJSONPayload) Points() []Point {
	out := make([]Point, 0, len(p.GeoJSON.Features))
	for _, f := range p.GeoJSON.Features {
		var lat, lng Number
		if len(f.Geometry.Coordinates) >= 2 {
			lng, lat = f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		}
		if pt, ok := newPoint(lat, lng, f.Properties.Confidence); ok {
			out = append(out, pt)
		}
	}
	return out
}

// Item is one element of shape C.
type Item struct {
	ID         string `json:"id,omitempty"`
	Latitude   Number `json:"latitude"`
	Longitude  Number `json:"longitude"`
	Confidence Number `json:"confidence"`
}

// ItemsPayload is shape C.
type ItemsPayload struct {
	Items []Item `json:"items"`
}

// Format implements Variant.
func (ItemsPayload) Format() Format { return FormatItems }

// Points implements Variant.
func (p ItemsPayload) Points() []Point {
	out := make([]Point, 0, len(p.Items))
	for _, it := range p.Items {
		if pt, ok := newPoint(it.Latitude, it.Longitude, it.Confidence); ok {
			out = append(out, pt)
		}
	}
	return out
}

// newPoint drops unparsable coordinates and the (0,0) missing-data marker.
func newPoint(lat, lng, confidence Number) (Point, bool) {
	la, okLat := lat.Float()
	ln, okLng := lng.Float()
	if !okLat || !okLng || (la == 0 && ln == 0) {
		return Point{}, false
	}
	w, ok := confidence.Float()
	if !ok || w <= 0 {
		w = DefaultWeight
	}
	return Point{Lat: la, Lng: ln, Weight: w}, true
}

// shapeMarkers holds the top-level keys that identify a payload shape.
type shapeMarkers struct {
	Sightings json.RawMessage `json:"sightings"`
	GeoJSON   json.RawMessage `json:"geojson"`
	Items     json.RawMessage `json:"items"`
}

// features returns the geojson.features marker, or nil when geojson is not an
// object.
func (p shapeMarkers) features() json.RawMessage {
	var fc struct {
		Features json.RawMessage `json:"features"`
	}
	if json.Unmarshal(p.GeoJSON, &fc) != nil {
		return nil
	}
	return fc.Features
}

// Detect identifies the shape of raw, checking sightings, then
// geojson.features, then items. Each marker must be an array. Returns nil
// when no marker matches or raw is not a JSON object.
func Detect(raw []byte) Variant {
	var p shapeMarkers
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}

	switch {
	case isArray(p.Sightings):
		var out SightingsPayload
		for _, el := range elements(p.Sightings) {
			var e SightingEntry
			if json.Unmarshal(el, &e) == nil {
				out.Sightings = append(out.Sightings, e)
			}
		}
		return out
	case isArray(p.features()):
		out := GeoJSONPayload{GeoJSON: FeatureCollection{Type: "FeatureCollection"}}
		for _, el := range elements(p.features()) {
			var f Feature
			if json.Unmarshal(el, &f) == nil {
				out.GeoJSON.Features = append(out.GeoJSON.Features, f)
			}
		}
		out.Count = len(out.GeoJSON.Features)
		return out
	case isArray(p.Items):
		var out ItemsPayload
		for _, el := range elements(p.Items) {
			var it Item
			if json.Unmarshal(el, &it) == nil {
				out.Items = append(out.Items, it)
			}
		}
		return out
	}
	return nil
}

// Aggregate flattens any known shape into points. It never fails: unknown
// or undecodable input yields an empty slice.
func Aggregate(raw []byte) []Point {
	v := Detect(raw)
	if v == nil {
		return []Point{}
	}
	return v.Points()
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// elements splits a JSON array into its raw elements. Malformed arrays yield
// nothing.
func elements(raw json.RawMessage) []json.RawMessage {
	var els []json.RawMessage
	if err := json.Unmarshal(raw, &els); err != nil {
		return nil
	}
	return els
}
