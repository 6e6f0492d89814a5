package policy

import (
	"sort"
	"strings"
)

// Table maps package identifiers to tags and carries the screen-matching
// rules. A Table is read-only once handed to the classifier.
type Table struct {
	self              string
	packages          map[string]map[Tag]struct{}
	dangerousSections []SectionRule
	appInfoScreens    []string
	uninstallDialogs  []string
	identityTerms     []string
	defaultAllowed    []string
}

// NewTable creates an empty table for the given self package.
func NewTable(self string) *Table {
	t := &Table{packages: make(map[string]map[Tag]struct{})}
	t.SetSelf(self)
	return t
}

// SetSelf changes the self package and its identity term.
func (t *Table) SetSelf(self string) {
	if t.self != "" {
		if tags, ok := t.packages[t.self]; ok {
			delete(tags, TagSelf)
		}
	}
	t.self = self
	if self == "" {
		return
	}
	t.Register(self, TagSelf)
	t.AddIdentityTerms(self)
}

// Self returns the enforcer's own package identifier.
func (t *Table) Self() string {
	return t.self
}

// Register attaches tags to a package.
func (t *Table) Register(pkg string, tags ...Tag) {
	if pkg == "" {
		return
	}
	set, ok := t.packages[pkg]
	if !ok {
		set = make(map[Tag]struct{})
		t.packages[pkg] = set
	}
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
}

// Has reports whether pkg carries tag.
func (t *Table) Has(pkg string, tag Tag) bool {
	set, ok := t.packages[pkg]
	if !ok {
		return false
	}
	_, ok = set[tag]
	return ok
}

// Tags returns the sorted tags of pkg.
func (t *Table) Tags(pkg string) []Tag {
	set := t.packages[pkg]
	tags := make([]Tag, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Packages returns the sorted packages carrying tag.
func (t *Table) Packages(tag Tag) []string {
	var pkgs []string
	for pkg, set := range t.packages {
		if _, ok := set[tag]; ok {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

// AddDangerousSection appends a settings-screen rule.
func (t *Table) AddDangerousSection(r SectionRule) {
	r.Match = strings.ToLower(r.Match)
	for i, u := range r.Unless {
		r.Unless[i] = strings.ToLower(u)
	}
	t.dangerousSections = append(t.dangerousSections, r)
}

// AddAppInfoScreens appends app-details class-name substrings.
func (t *Table) AddAppInfoScreens(subs ...string) {
	t.appInfoScreens = appendLower(t.appInfoScreens, subs)
}

// AddUninstallDialogs appends uninstall-confirmation class-name substrings.
func (t *Table) AddUninstallDialogs(subs ...string) {
	t.uninstallDialogs = appendLower(t.uninstallDialogs, subs)
}

// AddIdentityTerms appends terms that identify the enforcer in visible text.
func (t *Table) AddIdentityTerms(terms ...string) {
	t.identityTerms = appendLower(t.identityTerms, terms)
}

// AddDefaultAllowed appends packages to the default allow-list.
func (t *Table) AddDefaultAllowed(pkgs ...string) {
	for _, p := range pkgs {
		if p != "" && !contains(t.defaultAllowed, p) {
			t.defaultAllowed = append(t.defaultAllowed, p)
		}
	}
}

// DefaultAllowList returns the allow-list used before any is persisted.
// The self package is always included.
func (t *Table) DefaultAllowList() []string {
	out := append([]string(nil), t.defaultAllowed...)
	if t.self != "" && !contains(out, t.self) {
		out = append(out, t.self)
	}
	return out
}

func appendLower(dst, src []string) []string {
	for _, s := range src {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
