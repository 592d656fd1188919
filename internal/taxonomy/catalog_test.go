package taxonomy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog() error = %v", err)
	}
	if c.Len() != 100 {
		t.Errorf("Len() = %d, want 100", c.Len())
	}

	all := c.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("catalog not in ascending id order at index %d: %d then %d", i, all[i-1].ID, all[i].ID)
		}
	}

	tests := []struct {
		id   int
		name string
	}{
		{1, "Alstonia_scholaris"},
		{22, "Shorea macrophylla"},
		{81, "Nepenthes_rafflesiana"},
		{84, "Avicennia marina"},
		{100, "Ficus elastica"},
	}
	for _, tt := range tests {
		s, ok := c.Get(tt.id)
		if !ok {
			t.Errorf("Get(%d) not found", tt.id)
			continue
		}
		if s.ScientificName != tt.name {
			t.Errorf("Get(%d).ScientificName = %q, want %q", tt.id, s.ScientificName, tt.name)
		}
	}

	if s, _ := c.Get(22); s.Conservation != "Endangered" {
		t.Errorf("Shorea macrophylla conservation = %q, want Endangered", s.Conservation)
	}
	if _, ok := c.Get(1000); ok {
		t.Error("Get(1000) should not be found")
	}
}

func TestParseCatalog_SortsAndValidates(t *testing.T) {
	c, err := ParseCatalog([]byte(`
species:
  - id: 3
    scientific_name: Curcuma longa
  - id: 1
    scientific_name: Piper nigrum
`))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	if got := c.All()[0].ID; got != 1 {
		t.Errorf("first id = %d, want 1", got)
	}

	tests := []struct {
		name string
		data string
	}{
		{"malformed", "species: [::"},
		{"duplicate id", "species:\n  - id: 1\n    scientific_name: A b\n  - id: 1\n    scientific_name: C d\n"},
		{"missing name", "species:\n  - id: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.data)); err == nil {
				t.Error("ParseCatalog() expected error")
			}
		})
	}

	if _, err := ParseCatalog([]byte("species: []")); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("ParseCatalog(empty) error = %v, want ErrEmptyCatalog", err)
	}
}

func TestLoadCatalog_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "species:\n  - id: 7\n    scientific_name: Gnetum gnemon\n    family: Gnetaceae\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if c.Len() != 1 || c.All()[0].Family != "Gnetaceae" {
		t.Errorf("LoadCatalog() = %+v", c.All())
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadCatalog(missing) expected error")
	}

	def, err := LoadCatalog("")
	if err != nil || def.Len() != 100 {
		t.Errorf("LoadCatalog(\"\") = %v entries, %v", def.Len(), err)
	}
}

func TestSpecies_Key(t *testing.T) {
	if got := (Species{ID: 81}).Key(); got != "81" {
		t.Errorf("Key() = %q, want 81", got)
	}
}
