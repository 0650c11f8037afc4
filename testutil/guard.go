// Package testutil holds architecture checks shared by package tests. They
// keep the layering honest: pkg/listing depends on nothing internal, and the
// orchestration packages reach storage only through pkg/listing and
// internal/blob.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
)

// Predicate reports whether an import path is off limits.
type Predicate func(importPath string) bool

// InternalImportForbidden matches anything under an internal/ tree.
func InternalImportForbidden(path string) bool {
	return strings.HasPrefix(path, "internal/") || strings.Contains(path, "/internal/")
}

// InfraImportForbidden matches the concrete storage and persistence drivers.
func InfraImportForbidden(path string) bool {
	return strings.HasSuffix(path, "/internal/infra") || strings.Contains(path, "/internal/infra/")
}

// AnyOf matches when any of preds does.
func AnyOf(preds ...Predicate) Predicate {
	return func(path string) bool {
		return slices.ContainsFunc(preds, func(p Predicate) bool { return p(path) })
	}
}

// AssertNoDirectImports fails t when a non-test file in dir imports a path
// matched by forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	imports, err := FileImports(dir)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	report(t, reason, violations(imports, forbidden))
}

// FileImports parses the import block of every non-test .go file in dir and
// returns the import paths keyed by file name.
func FileImports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, spec := range f.Imports {
			p, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[name] = append(out[name], p)
		}
	}
	return out, nil
}

func violations(imports map[string][]string, forbidden Predicate) []string {
	var out []string
	for file, paths := range imports {
		for _, p := range paths {
			if forbidden(p) {
				out = append(out, fmt.Sprintf("%s imports %s", file, p))
			}
		}
	}
	slices.Sort(out)
	return out
}

type fataler interface {
	Fatalf(format string, args ...any)
}

func report(t fataler, reason string, viols []string) {
	if len(viols) == 0 {
		return
	}
	t.Fatalf("forbidden imports (%s):\n  %s", reason, strings.Join(viols, "\n  "))
}
