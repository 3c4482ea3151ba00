// Package registry maintains agent identities: the static type catalog, the
// active instance set, and the pane bindings that tie a live multiplexer
// pane to exactly one agent name.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// AgentType is a static catalog entry describing one kind of agent.
type AgentType struct {
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description" json:"description"`
	Capabilities  []string `yaml:"capabilities" json:"capabilities"`
	CapacityLimit int      `yaml:"capacity_limit" json:"capacity_limit"`
	Role          string   `yaml:"role,omitempty" json:"role,omitempty"`
}

// Catalog is the set of known agent types, keyed by name.
type Catalog struct {
	types map[string]AgentType
}

// catalogFile is the on-disk shape of types.yaml.
type catalogFile struct {
	Types []AgentType `yaml:"types"`
}

// defaultCatalog covers a working fleet when no types.yaml exists.
func defaultCatalog() []AgentType {
	return []AgentType{
		{
			Name:          "backend",
			Description:   "API, database, and service implementation",
			Capabilities:  []string{"api", "database", "endpoint", "schema", "sql", "auth", "service"},
			CapacityLimit: 4,
		},
		{
			Name:          "frontend",
			Description:   "UI components, styling, and layout",
			Capabilities:  []string{"css", "component", "ui", "ux", "react", "vue", "angular", "layout", "style", "responsive"},
			CapacityLimit: 4,
		},
		{
			Name:          "devops",
			Description:   "Infrastructure, CI/CD, and deployment",
			Capabilities:  []string{"docker", "kubernetes", "ci", "cd", "deploy", "pipeline", "terraform", "helm"},
			CapacityLimit: 2,
		},
		{
			Name:          "docs",
			Description:   "Documentation and guides",
			Capabilities:  []string{"document", "readme", "guide", "openapi"},
			CapacityLimit: 2,
		},
		{
			Name:          "qa",
			Description:   "Testing, coverage, and quality gates",
			Capabilities:  []string{"test", "coverage", "lint", "e2e", "benchmark"},
			CapacityLimit: 3,
		},
		{
			Name:          "general",
			Description:   "Unspecialized work of any kind",
			Capabilities:  []string{},
			CapacityLimit: 8,
		},
		{
			Name:          "coordinator",
			Description:   "Fleet coordination and triage",
			Capabilities:  []string{"triage", "planning"},
			CapacityLimit: 1,
			Role:          "coordinator",
		},
	}
}

// LoadCatalog reads types.yaml. A missing file yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{types: make(map[string]AgentType)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			for _, t := range defaultCatalog() {
				c.types[t.Name] = t
			}
			return c, nil
		}
		return nil, fmt.Errorf("reading type catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing type catalog: %w", err)
	}
	if len(file.Types) == 0 {
		return nil, fmt.Errorf("type catalog %s defines no types", path)
	}
	for _, t := range file.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("type catalog %s contains an unnamed type", path)
		}
		c.types[t.Name] = t
	}
	return c, nil
}

// Validate reports whether the type exists in the catalog.
func (c *Catalog) Validate(name string) bool {
	_, ok := c.types[name]
	return ok
}

// Type returns a catalog entry.
func (c *Catalog) Type(name string) (AgentType, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Types returns all catalog entries sorted by name.
func (c *Catalog) Types() []AgentType {
	out := make([]AgentType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Capabilities returns the capability set of a type.
func (c *Catalog) Capabilities(name string) ([]string, bool) {
	t, ok := c.types[name]
	if !ok {
		return nil, false
	}
	return t.Capabilities, true
}
