package signals

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Resolver maps import paths of the repository's own module to
// repository-relative package directories.
type Resolver struct {
	root   string
	module string
}

// NewResolver reads the module path from root/go.mod. A repository without
// a readable go.mod resolves nothing, so every import is treated as
// external.
func NewResolver(root string) *Resolver {
	r := &Resolver{root: root}
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return r
	}
	r.module = modfile.ModulePath(data)
	return r
}

// Module returns the module path, empty when none was found.
func (r *Resolver) Module() string { return r.module }

// Resolve returns the package directory for importPath when it belongs to
// this module and exists on disk.
func (r *Resolver) Resolve(importPath string) (string, bool) {
	if r.module == "" {
		return "", false
	}
	var rel string
	switch {
	case importPath == r.module:
		rel = "."
	case strings.HasPrefix(importPath, r.module+"/"):
		rel = strings.TrimPrefix(importPath, r.module+"/")
	default:
		return "", false
	}
	info, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil || !info.IsDir() {
		return "", false
	}
	return knowledge.NormalizePath(rel), true
}

// Scan returns the sorted, de-duplicated package directories that head
// imports from this module.
func (r *Resolver) Scan(head []byte) []string {
	var out []string
	for _, imp := range Imports(head) {
		if dir, ok := r.Resolve(imp); ok && !slices.Contains(out, dir) {
			out = append(out, dir)
		}
	}
	slices.Sort(out)
	return out
}

// covers reports whether a declared dependency names the package directory
// dir, either directly or through one of its files.
func covers(dep, dir string) bool {
	dep = knowledge.NormalizePath(dep)
	return dep == dir || path.Dir(dep) == dir
}

// ValidateDependencies compares the scanned package directories with the
// dependencies declared on the file's existing record. For a new file (rec
// nil) nothing is undeclared or stale, but every scanned package still
// counts toward the cross-scope check.
func ValidateDependencies(scanned []string, rec *knowledge.StateRecord, records []knowledge.StateRecord,
	defs *knowledge.ScopeDefinitions, agentScope string) knowledge.DependencyScan {
	scan := knowledge.DependencyScan{
		UndeclaredImports:    []string{},
		StaleDeclaredDeps:    []string{},
		CrossScopeUndeclared: []string{},
	}

	candidates := scanned
	if rec != nil {
		candidates = nil
		for _, dir := range scanned {
			if !slices.ContainsFunc(rec.Dependencies, func(d string) bool { return covers(d, dir) }) {
				candidates = append(candidates, dir)
			}
		}
		scan.UndeclaredImports = append(scan.UndeclaredImports, candidates...)
		for _, d := range rec.Dependencies {
			if !slices.ContainsFunc(scanned, func(dir string) bool { return covers(d, dir) }) {
				scan.StaleDeclaredDeps = append(scan.StaleDeclaredDeps, knowledge.NormalizePath(d))
			}
		}
		slices.Sort(scan.StaleDeclaredDeps)
	}

	var known []string
	if defs != nil {
		known = defs.KnownExpectedCrossScopeImports
	}
	for _, dir := range candidates {
		scope := scopeOf(dir, records)
		if scope == "" || scope == agentScope || knownExpected(dir, known) {
			continue
		}
		scan.CrossScopeUndeclared = append(scan.CrossScopeUndeclared, dir)
	}
	return scan
}

// scopeOf returns the semantic scope of the first record that lives in dir.
func scopeOf(dir string, records []knowledge.StateRecord) string {
	for _, rec := range records {
		if rec.SemanticScope != "" && covers(rec.Path, dir) {
			return rec.SemanticScope
		}
	}
	return ""
}

// knownExpected matches dir against the allow-list. Entries ending in "/"
// match by prefix.
func knownExpected(dir string, known []string) bool {
	for _, entry := range known {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(dir, knowledge.NormalizePath(strings.TrimSuffix(entry, "/"))) {
				return true
			}
			continue
		}
		if dir == knowledge.NormalizePath(entry) {
			return true
		}
	}
	return false
}
