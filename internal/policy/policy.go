// Package policy holds the data-driven package classification table used to
// decide which foreground windows are protected, exempt or dangerous.
package policy

import (
	"strings"
)

// Tag is a capability tag attached to a package identifier.
type Tag string

const (
	TagSelf                 Tag = "self"
	TagLauncher             Tag = "launcher"
	TagSystemUI             Tag = "system_ui"
	TagKeyboard             Tag = "keyboard"
	TagSettings             Tag = "settings"
	TagPermissionController Tag = "permission_controller"
	TagSecurityCenter       Tag = "security_center"
	TagAccessibility        Tag = "accessibility"
	TagPackageInstaller     Tag = "package_installer"
	TagAppStore             Tag = "app_store"
)

// KnownTags lists every tag the classifier understands.
var KnownTags = []Tag{
	TagSelf, TagLauncher, TagSystemUI, TagKeyboard, TagSettings,
	TagPermissionController, TagSecurityCenter, TagAccessibility,
	TagPackageInstaller, TagAppStore,
}

// SectionRule matches a settings screen by class-name substring.
// Unless lists substrings that cancel the match.
type SectionRule struct {
	Match  string   `yaml:"match"`
	Unless []string `yaml:"unless,omitempty"`
}

// Matches reports whether the lowercased class name hits the rule.
func (r SectionRule) Matches(lowerClass string) bool {
	if r.Match == "" || !strings.Contains(lowerClass, r.Match) {
		return false
	}
	for _, u := range r.Unless {
		if strings.Contains(lowerClass, u) {
			return false
		}
	}
	return true
}

// IsSelf reports whether pkg is the enforcer itself.
func (t *Table) IsSelf(pkg string) bool {
	return pkg != "" && pkg == t.self
}

// IsKeyboard reports whether pkg is an input method.
func (t *Table) IsKeyboard(pkg string) bool {
	return t.Has(pkg, TagKeyboard)
}

// IsHome reports whether pkg is a launcher or the system UI.
func (t *Table) IsHome(pkg string) bool {
	return t.Has(pkg, TagLauncher) || t.Has(pkg, TagSystemUI)
}

// IsSettings reports whether pkg is a system settings app.
func (t *Table) IsSettings(pkg string) bool {
	return t.Has(pkg, TagSettings)
}

// IsAppStore reports whether pkg is an app store.
func (t *Table) IsAppStore(pkg string) bool {
	return t.Has(pkg, TagAppStore)
}

// IsPackageInstaller reports whether pkg installs or removes packages.
func (t *Table) IsPackageInstaller(pkg string) bool {
	return t.Has(pkg, TagPackageInstaller)
}

// IsProtectedSurface reports whether pkg is a permission controller,
// security center or accessibility shortcut.
func (t *Table) IsProtectedSurface(pkg string) bool {
	return t.Has(pkg, TagPermissionController) ||
		t.Has(pkg, TagSecurityCenter) ||
		t.Has(pkg, TagAccessibility)
}

// IsDangerousSection reports whether a settings class name is a screen that
// manages privileges or app removal.
func (t *Table) IsDangerousSection(className string) bool {
	lower := strings.ToLower(className)
	for _, r := range t.dangerousSections {
		if r.Matches(lower) {
			return true
		}
	}
	return false
}

// IsAppInfoScreen reports whether the class name is an app details screen.
func (t *Table) IsAppInfoScreen(className string) bool {
	return containsAny(strings.ToLower(className), t.appInfoScreens)
}

// IsUninstallDialog reports whether the class name is an uninstall confirmation.
func (t *Table) IsUninstallDialog(className string) bool {
	return containsAny(strings.ToLower(className), t.uninstallDialogs)
}

// MentionsIdentity reports whether visible text names the enforcer.
func (t *Table) MentionsIdentity(text string) bool {
	return containsAny(strings.ToLower(text), t.identityTerms)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
