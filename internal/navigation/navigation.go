// Package navigation decides which app tabs a role can see.
package navigation

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/lalith-99/leaguechat/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed tabs.yaml
var defaultTabs []byte

// Tab is one navigation entry. Href is nil when the client should use its
// default route for Name.
type Tab struct {
	Name  string        `yaml:"name" json:"name"`
	Title string        `yaml:"title" json:"title"`
	Icon  string        `yaml:"icon" json:"icon"`
	Href  *string       `yaml:"href,omitempty" json:"href,omitempty"`
	Roles []models.Role `yaml:"roles" json:"-"`
}

func (t Tab) visibleTo(role models.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Menu is the master tab list in declared order.
type Menu struct {
	tabs []Tab
}

// Default returns the built-in menu.
func Default() *Menu {
	m, err := Parse(defaultTabs)
	if err != nil {
		panic(fmt.Sprintf("navigation: built-in tabs: %v", err))
	}
	return m
}

// Load reads a menu from a YAML file, or returns Default when path is empty.
func Load(path string) (*Menu, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tabs file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a tab document.
func Parse(data []byte) (*Menu, error) {
	var doc struct {
		Tabs []Tab `yaml:"tabs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tabs: %w", err)
	}

	seen := make(map[string]bool, len(doc.Tabs))
	for i, t := range doc.Tabs {
		if t.Name == "" {
			return nil, fmt.Errorf("tab %d: missing name", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tab %q: duplicate name", t.Name)
		}
		seen[t.Name] = true
		for _, r := range t.Roles {
			if !r.Valid() {
				return nil, fmt.Errorf("tab %q: unknown role %q", t.Name, r)
			}
		}
	}

	return &Menu{tabs: doc.Tabs}, nil
}

// VisibleTabs returns the tabs whose visibility set includes role, in master
// order. The empty role (signed out) sees nothing.
func (m *Menu) VisibleTabs(role models.Role) []Tab {
	visible := make([]Tab, 0, len(m.tabs))
	if role == "" {
		return visible
	}
	for _, t := range m.tabs {
		if t.visibleTo(role) {
			visible = append(visible, t)
		}
	}
	return visible
}

// All returns the master list.
func (m *Menu) All() []Tab {
	return append([]Tab(nil), m.tabs...)
}
