// Package taxonomy resolves free-form classifier labels against the static
// species reference set.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrEmptyCatalog is returned when a catalog file contains no species.
var ErrEmptyCatalog = errors.New("taxonomy catalog is empty")

// Species is one entry of the reference set.
type Species struct {
	ID             int    `yaml:"id" json:"id"`
	ScientificName string `yaml:"scientific_name" json:"scientific_name"`
	CommonName     string `yaml:"common_name" json:"common_name"`
	Family         string `yaml:"family" json:"family"`
	Conservation   string `yaml:"conservation" json:"conservation"`
}

// Key returns the id in the string form stored on sightings.
func (s Species) Key() string {
	return strconv.Itoa(s.ID)
}

type catalogFile struct {
	Species []Species `yaml:"species"`
}

// Catalog is an immutable, id-ordered set of species.
type Catalog struct {
	species []Species
	byID    map[int]Species
}

// DefaultCatalog parses the embedded reference set.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// LoadCatalog reads the catalog from path, or the embedded set when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog data. Entries are sorted by id; duplicate
// ids and entries without a scientific name are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy catalog: %w", err)
	}
	if len(file.Species) == 0 {
		return nil, ErrEmptyCatalog
	}

	byID := make(map[int]Species, len(file.Species))
	for _, s := range file.Species {
		if s.ScientificName == "" {
			return nil, fmt.Errorf("species %d has no scientific name", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate species id %d", s.ID)
		}
		byID[s.ID] = s
	}

	species := append([]Species(nil), file.Species...)
	sort.Slice(species, func(i, j int) bool { return species[i].ID < species[j].ID })

	return &Catalog{species: species, byID: byID}, nil
}

// All returns the species in ascending id order. The slice must not be modified.
func (c *Catalog) All() []Species {
	return c.species
}

// Get returns the species with the given id.
func (c *Catalog) Get(id int) (Species, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Len returns the number of species.
func (c *Catalog) Len() int {
	return len(c.species)
}
