// CLAUDE:SUMMARY Loads versioned YAML selector profiles and detects which one matches a live page scope.
package selectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk form of a selector Set.
type Profile struct {
	Name                      string            `yaml:"name"`
	Version                   string            `yaml:"version"`
	IsChannel                 bool              `yaml:"is_channel"`
	Roles                     map[string]string `yaml:"roles"`
	ForceScreenshotSubstrings []string          `yaml:"force_screenshot_substrings"`
}

// Set converts the profile.
func (p Profile) Set() *Set {
	roles := make(map[Role]string, len(p.Roles))
	for k, v := range p.Roles {
		roles[Role(k)] = v
	}
	return New(p.Name, p.Version, roles, p.ForceScreenshotSubstrings, p.IsChannel)
}

// Prober answers whether a selector currently matches in some page scope.
type Prober interface {
	Has(ctx context.Context, selector string) (bool, error)
}

// Catalog holds candidate profiles, newest version first.
type Catalog struct {
	sets []*Set
}

// NewCatalog builds a catalog from profiles, ordering them by version
// descending (string compare, as profile files are named by date).
func NewCatalog(profiles ...Profile) *Catalog {
	sorted := append([]Profile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version > sorted[j].Version
	})
	c := &Catalog{}
	for _, p := range sorted {
		c.sets = append(c.sets, p.Set())
	}
	return c
}

// LoadDir reads every *.yaml / *.yml profile in dir.
func LoadDir(dir string) ([]Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("selectors: read dir: %w", err)
	}
	var out []Profile
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadFile reads one YAML profile. A profile without a version takes the
// file name stem.
func LoadFile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("selectors: read %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("selectors: parse %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if p.Version == "" {
		p.Version = stem
	}
	if p.Name == "" {
		p.Name = stem
	}
	return p, nil
}

// Len returns the number of profiles.
func (c *Catalog) Len() int { return len(c.sets) }

// Detect returns the first profile whose app_shell selector matches in
// the probed scope, or nil. Profiles without an app_shell role never match.
func (c *Catalog) Detect(ctx context.Context, p Prober) (*Set, error) {
	for _, s := range c.sets {
		shell, ok := s.Query(AppShell)
		if !ok {
			continue
		}
		found, err := p.Has(ctx, shell)
		if err != nil {
			return nil, err
		}
		if found {
			return s, nil
		}
	}
	return nil, nil
}
