// internal/module/detect.go

// Package module infers Odoo module names from changed-file paths. The
// result is derived data, not an authoritative module registry.
package module

import "strings"

// Module names that can never be real modules even when the path rules
// match them.
var reservedNames = map[string]struct{}{
	"":       {},
	".":      {},
	"..":     {},
	"setup":  {},
	"addons": {},
	"odoo":   {},
}

// Detect maps a changed file's path to a module name. It returns "" when no
// module can be inferred. Rules, in precedence order:
//
//  1. paths under addons/ take the first segment after the prefix,
//  2. paths under odoo/addons/ likewise,
//  3. paths with at least one directory whose final segment is a manifest
//     file (__manifest__.py or __openerp__.py) take the path's first
//     segment; a bare manifest at the repository root names no module,
//  4. anything else detects nothing.
//
// Reserved names (., .., setup, addons, odoo, empty) are filtered out even
// when a rule matches them.
func Detect(path string) string {
	var name string
	switch {
	case strings.HasPrefix(path, "addons/"):
		name, _, _ = strings.Cut(strings.TrimPrefix(path, "addons/"), "/")
	case strings.HasPrefix(path, "odoo/addons/"):
		name, _, _ = strings.Cut(strings.TrimPrefix(path, "odoo/addons/"), "/")
	case isManifestPath(path):
		name, _, _ = strings.Cut(path, "/")
	default:
		return ""
	}

	if _, reserved := reservedNames[name]; reserved {
		return ""
	}
	return name
}

func isManifestPath(path string) bool {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return false
	}
	base := path[i+1:]
	return base == "__manifest__.py" || base == "__openerp__.py"
}

// DetectAll returns the distinct module names detected across a batch of
// file paths, in first-seen order.
func DetectAll(paths []string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range paths {
		name := Detect(p)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// PathPrefix is the conventional path prefix recorded for a detected module.
func PathPrefix(name string) string {
	return "addons/" + name + "/"
}
