package normalize

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var embeddedTables []byte

// Tables holds the static reputation tables.
type Tables struct {
	DefaultPrestige float64            `yaml:"default_prestige"`
	Institutions    map[string]float64 `yaml:"institutions"`
	Superinvestors  []string           `yaml:"superinvestors"`

	tracked map[string]struct{}
}

// LoadTables reads the tables from path, or the embedded copy when path is empty.
func LoadTables(path string) (*Tables, error) {
	data := embeddedTables
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading tables: %w", err)
		}
	}
	return ParseTables(data)
}

// ParseTables decodes YAML tables.
func ParseTables(data []byte) (*Tables, error) {
	t := &Tables{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decoding tables: %w", err)
	}

	institutions := make(map[string]float64, len(t.Institutions))
	for name, p := range t.Institutions {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("prestige for %q must be in [0, 1], got %v", name, p)
		}
		institutions[normalizeName(name)] = p
	}
	t.Institutions = institutions

	t.tracked = make(map[string]struct{}, len(t.Superinvestors))
	for _, m := range t.Superinvestors {
		t.tracked[normalizeName(m)] = struct{}{}
	}
	return t, nil
}

// Prestige returns the reputation weight of an institution.
func (t *Tables) Prestige(institution string) float64 {
	if t == nil {
		return 0
	}
	if p, ok := t.Institutions[normalizeName(institution)]; ok {
		return p
	}
	return t.DefaultPrestige
}

// Tracked reports whether a manager is on the superinvestor list.
func (t *Tables) Tracked(manager string) bool {
	if t == nil {
		return false
	}
	_, ok := t.tracked[normalizeName(manager)]
	return ok
}
