// Package sighting provides the Sighting model, its persistence backends, the
// role-aware visibility policy and the owner history read path.
package sighting

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Rarity classifies how sensitive a sighting's location is.
type Rarity string

// Known rarity classes.
const (
	RarityCommon     Rarity = "Common"
	RarityUncommon   Rarity = "Uncommon"
	RarityRare       Rarity = "Rare"
	RarityEndangered Rarity = "Endangered"
)

// Sentinel errors returned by repositories and the visibility engine.
var (
	// ErrNotFound is returned when a sighting does not exist.
	ErrNotFound = errors.New("sighting not found")

	// ErrDuplicate is returned when a sighting id or image key already exists.
	ErrDuplicate = errors.New("duplicate sighting")

	// ErrForbidden is returned when a non-operator attempts an operator action.
	ErrForbidden = errors.New("operator role required")

	// ErrForeignImageKey is returned when an image key lies outside the
	// owner's upload prefix.
	ErrForeignImageKey = errors.New("image key belongs to another owner")
)

// ImageKeyPrefix is the object key prefix for plant uploads.
const ImageKeyPrefix = "plants/"

// SanitizeKeyComponent keeps only letters, digits, hyphens and underscores.
func SanitizeKeyComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// OwnerKeyPrefix returns the prefix every upload of ownerID is stored under,
// or "" when the id has no usable characters.
func OwnerKeyPrefix(ownerID string) string {
	owner := SanitizeKeyComponent(ownerID)
	if owner == "" {
		return ""
	}
	return ImageKeyPrefix + owner + "/"
}

// OwnsImageKey reports whether key was issued to ownerID.
func OwnsImageKey(ownerID, key string) bool {
	prefix := OwnerKeyPrefix(ownerID)
	return prefix != "" && len(key) > len(prefix) && strings.HasPrefix(key, prefix)
}

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat" dynamodbav:"lat"`
	Lng float64 `json:"lng" dynamodbav:"lng"`
}

// IsZero reports whether the coordinate is the (0, 0) missing-data marker.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Sighting is a geocoded plant observation created after a successful identification.
// Coordinate is always the true location; what callers see is decided by Engine.
type Sighting struct {
	ID               string     `json:"id" dynamodbav:"id"`
	OwnerID          string     `json:"owner_id" dynamodbav:"owner_id"`
	ImageKey         string     `json:"image_key" dynamodbav:"image_key"`
	ImageURL         string     `json:"image_url" dynamodbav:"image_url"`
	RawSpeciesLabel  string     `json:"species" dynamodbav:"species"`
	MatchedSpeciesID *string    `json:"matched_species_id" dynamodbav:"matched_species_id,omitempty"`
	Confidence       float64    `json:"confidence" dynamodbav:"confidence"`
	Coordinate       Coordinate `json:"coordinate" dynamodbav:"coordinate"`
	Rarity           Rarity     `json:"rarity" dynamodbav:"rarity"`
	IsMasked         bool       `json:"is_masked" dynamodbav:"is_masked"`
	CreatedAt        time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

// NormalizeRarity maps free-form rarity input onto the known classes.
// Matching is case-insensitive. Empty input yields RarityCommon; unrecognised
// values are kept trimmed but otherwise verbatim.
func NormalizeRarity(s string) Rarity {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return RarityCommon
	}
	switch strings.ToLower(trimmed) {
	case "common":
		return RarityCommon
	case "uncommon":
		return RarityUncommon
	case "rare":
		return RarityRare
	case "endangered":
		return RarityEndangered
	}
	return Rarity(trimmed)
}

// Sensitive reports whether sightings of this rarity start out masked.
func (r Rarity) Sensitive() bool {
	return r == RarityRare || r == RarityEndangered
}

// InitialMask returns the mask flag a new sighting of the given rarity starts with.
// Only used at construction; afterwards IsMasked is authoritative.
func InitialMask(r Rarity) bool {
	return r.Sensitive()
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID generates a sighting id of the form plant_<unix-ms>_<9 base36 chars>.
func NewID(now time.Time) (string, error) {
	var suffix strings.Builder
	base := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate id suffix: %w", err)
		}
		suffix.WriteByte(idAlphabet[n.Int64()])
	}
	return fmt.Sprintf("plant_%d_%s", now.UnixMilli(), suffix.String()), nil
}

// ImageURL derives the public display URL for an object key in the given bucket.
func ImageURL(bucket, key string) string {
	if bucket == "" || key == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}

// clone returns a deep copy of s.
func (s *Sighting) clone() *Sighting {
	if s == nil {
		return nil
	}
	c := *s
	if s.MatchedSpeciesID != nil {
		id := *s.MatchedSpeciesID
		c.MatchedSpeciesID = &id
	}
	return &c
}
