// Package filetype decides which files repodex indexes: the recognized
// extensions and the directories that are never descended into.
package filetype

import (
	"path/filepath"
	"strings"
)

// Type classifies an indexed file.
type Type string

const (
	Terraform  Type = "terraform"
	PowerShell Type = "powershell"
)

// Valid reports whether t is a recognized type.
func (t Type) Valid() bool {
	return t == Terraform || t == PowerShell
}

// ExtensionToType maps lower-case extensions (without dot) to file types.
var ExtensionToType = map[string]Type{
	"tf":     Terraform,
	"tfvars": Terraform,
	"hcl":    Terraform,
	"ps1":    PowerShell,
	"psm1":   PowerShell,
	"psd1":   PowerShell,
}

// DefaultExcludedDirs are directory names skipped wherever they appear in a path.
var DefaultExcludedDirs = []string{
	// Version control
	".git", ".svn", ".hg",
	// Dependencies
	"node_modules", "packages", "vendor",
	// Build output
	"bin", "obj", "dist", "build", "target", "out",
	// Tooling caches
	".terraform", ".terragrunt-cache", "__pycache__", ".cache",
	// Python environments
	"venv", ".venv",
	// IDE / Editor
	".idea", ".vscode", ".vs",
}

// Detect returns the file type for path based on its extension.
func Detect(path string) (Type, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	t, ok := ExtensionToType[ext]
	return t, ok
}

// Filter combines the extension map with a directory exclusion list.
type Filter struct {
	excluded map[string]struct{}
}

// NewFilter builds a Filter from the defaults plus extra directory names.
func NewFilter(extraDirs ...string) *Filter {
	f := &Filter{excluded: make(map[string]struct{}, len(DefaultExcludedDirs)+len(extraDirs))}
	for _, d := range DefaultExcludedDirs {
		f.excluded[strings.ToLower(d)] = struct{}{}
	}
	for _, d := range extraDirs {
		d = strings.TrimSpace(d)
		if d != "" {
			f.excluded[strings.ToLower(d)] = struct{}{}
		}
	}
	return f
}

// ExcludedDir reports whether a single directory name is on the exclusion list.
func (f *Filter) ExcludedDir(name string) bool {
	_, ok := f.excluded[strings.ToLower(name)]
	return ok
}

// Excluded reports whether any directory segment of relPath is excluded.
// The final segment (the file name) is not considered.
func (f *Filter) Excluded(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for _, part := range parts[:len(parts)-1] {
		if f.ExcludedDir(part) {
			return true
		}
	}
	return false
}

// Eligible returns the file's type when it has a recognized extension and
// lies outside every excluded directory.
func (f *Filter) Eligible(relPath string) (Type, bool) {
	t, ok := Detect(relPath)
	if !ok || f.Excluded(relPath) {
		return "", false
	}
	return t, true
}
