package mappings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"

	"github.com/petr-muller/bzreport/internal/bugzilla"
	"github.com/petr-muller/bzreport/internal/config"
)

const (
	mappingsFileName = "mappings.yaml"

	// UnknownTeam is reported for components without a known team
	UnknownTeam = "Unknown"
)

// Mappings is the serialized form of the component to team mapping
type Mappings struct {
	// ComponentToTeam maps "Product :: Component" keys to team names
	ComponentToTeam map[string]string `yaml:"componentToTeam"`
	// TeamAliases renames teams in reports, e.g. to merge small teams
	TeamAliases map[string]string `yaml:"teamAliases,omitempty"`
}

// NewMappings creates a new empty mappings structure
func NewMappings() *Mappings {
	return &Mappings{
		ComponentToTeam: make(map[string]string),
		TeamAliases:     make(map[string]string),
	}
}

// DefaultPath returns the location of the mappings file in the config directory
func DefaultPath() string {
	return filepath.Join(config.MustConfigDir(), mappingsFileName)
}

// LoadMappings loads mappings from path, returns empty mappings if the file doesn't exist
func LoadMappings(path string) (*Mappings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewMappings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}

	var mappings Mappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}

	if mappings.ComponentToTeam == nil {
		mappings.ComponentToTeam = make(map[string]string)
	}
	if mappings.TeamAliases == nil {
		mappings.TeamAliases = make(map[string]string)
	}

	return &mappings, nil
}

// SaveMappings saves mappings to path, creating the directory when needed
func (m *Mappings) SaveMappings(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mappings file: %w", err)
	}

	return nil
}

// Empty returns true when no component is mapped to a team
func (m *Mappings) Empty() bool {
	return m == nil || len(m.ComponentToTeam) == 0
}

// SetComponentTeam sets the team owning a component
func (m *Mappings) SetComponentTeam(product, component, team string) {
	m.ComponentToTeam[Key(product, component)] = team
}

// FromConfiguration builds mappings from the Bugzilla configuration. Inactive
// products and components are left out.
func FromConfiguration(configuration *bugzilla.Configuration) *Mappings {
	m := NewMappings()
	products := map[int]string{}
	for _, product := range configuration.Field.Product.Values {
		if product.IsActive {
			products[product.ID] = product.Name
		}
	}
	for _, component := range configuration.Field.Component.Values {
		product, ok := products[component.ProductID]
		if !ok || !bool(component.IsActive) || component.TeamName == "" {
			continue
		}
		m.SetComponentTeam(product, component.Name, component.TeamName)
	}
	return m
}

// UpdateFrom replaces the component teams with the ones of other, keeping the
// aliases of m. It returns the number of components whose team changed.
func (m *Mappings) UpdateFrom(other *Mappings) int {
	changed := 0
	for key, team := range other.ComponentToTeam {
		if m.ComponentToTeam[key] != team {
			changed++
		}
	}
	for key := range m.ComponentToTeam {
		if _, ok := other.ComponentToTeam[key]; !ok {
			changed++
		}
	}
	m.ComponentToTeam = lo.Assign(other.ComponentToTeam)
	return changed
}

// Teams returns an immutable lookup built from the mappings
func (m *Mappings) Teams() *Teams {
	return &Teams{
		byComponent: lo.Assign(m.ComponentToTeam),
		aliases:     lo.Assign(m.TeamAliases),
	}
}

// Key returns the mapping key of a component
func Key(product, component string) string {
	return product + " :: " + component
}

// Teams resolves components to teams. It is never modified after construction
// so it can be shared between concurrent classifications.
type Teams struct {
	byComponent map[string]string
	aliases     map[string]string
}

// Team returns the team owning the component, or UnknownTeam
func (t *Teams) Team(product, component string) string {
	if t == nil {
		return UnknownTeam
	}
	team, ok := t.byComponent[Key(product, component)]
	if !ok {
		return UnknownTeam
	}
	if alias, ok := t.aliases[team]; ok {
		return alias
	}
	return team
}

// Names returns all team names, sorted
func (t *Teams) Names() []string {
	if t == nil {
		return nil
	}
	names := lo.Uniq(lo.Map(lo.Values(t.byComponent), func(team string, _ int) string {
		if alias, ok := t.aliases[team]; ok {
			return alias
		}
		return team
	}))
	sort.Strings(names)
	return names
}

// Len returns the number of mapped components
func (t *Teams) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byComponent)
}
