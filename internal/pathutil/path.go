// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Join appends name to a slash-separated parent path.
// An empty parent yields name itself.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Split breaks a path into its components. Both '/' and '\' separate
// components and empty components are dropped, so "data//maps\\a.pof"
// yields ["data", "maps", "a.pof"].
func Split(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

// ValidComponent reports whether name can be materialized as a single
// filesystem path element below a destination directory.
func ValidComponent(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00") && !strings.Contains(name, ":")
}
