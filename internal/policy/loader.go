package policy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

// tableFile is the on-disk shape of a classification table.
type tableFile struct {
	Self              string           `yaml:"self"`
	IdentityTerms     []string         `yaml:"identity_terms"`
	Tags              map[Tag][]string `yaml:"tags"`
	DangerousSections []SectionRule    `yaml:"dangerous_sections"`
	AppInfoScreens    []string         `yaml:"app_info_screens"`
	UninstallDialogs  []string         `yaml:"uninstall_dialogs"`
	DefaultAllowed    []string         `yaml:"default_allowed"`
}

// DefaultTable returns the built-in classification table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded classification table is invalid: %v", err))
	}
	return t
}

// ParseTable builds a table from YAML.
func ParseTable(data []byte) (*Table, error) {
	t := NewTable("")
	if err := t.merge(data); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTable returns the default table extended by the override file at path.
// An empty path yields the default table. Override entries add to the
// defaults; a non-empty self replaces the default self package.
func LoadTable(path string) (*Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification table: %w", err)
	}
	if err := t.merge(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) merge(data []byte) error {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for tag := range f.Tags {
		if !isKnownTag(tag) {
			return fmt.Errorf("unknown tag %q", tag)
		}
	}
	if f.Self != "" {
		t.SetSelf(f.Self)
	}
	for tag, pkgs := range f.Tags {
		for _, pkg := range pkgs {
			t.Register(pkg, tag)
		}
	}
	for _, r := range f.DangerousSections {
		if r.Match == "" {
			return fmt.Errorf("dangerous section rule without match")
		}
		t.AddDangerousSection(r)
	}
	t.AddIdentityTerms(f.IdentityTerms...)
	t.AddAppInfoScreens(f.AppInfoScreens...)
	t.AddUninstallDialogs(f.UninstallDialogs...)
	t.AddDefaultAllowed(f.DefaultAllowed...)
	return nil
}

func isKnownTag(tag Tag) bool {
	for _, k := range KnownTags {
		if k == tag {
			return true
		}
	}
	return false
}
