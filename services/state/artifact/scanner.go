// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Line-pattern fallbacks for sources tree-sitter cannot parse.
// Best-effort by design: a miss means a skipped dependency, never an error.
var importPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[\w.]+\s+)?"([^"]+)"\s*$`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`),
		regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
	},
	"javascript": {
		regexp.MustCompile(`(?m)^\s*import\s+[^'"\n]*['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?m)^\s*export\s+[^'"\n]*\bfrom\s+['"]([^'"]+)['"]`),
		regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
	},
}

func init() {
	importPatterns["typescript"] = importPatterns["javascript"]
}

// languageForPath maps a file extension to a scanner language tag.
// Unknown extensions return "" and are not scanned.
func languageForPath(p string) string {
	switch path.Ext(p) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	default:
		return ""
	}
}

// ScanImports extracts import specifiers from source code.
//
// # Description
//
// Parses the source with tree-sitter and collects import statements
// from the AST, which avoids false positives from imports mentioned in
// comments or strings. Falls back to line-pattern matching when the
// parse fails. Unknown languages yield no specifiers.
//
// # Thread Safety
//
// Safe for concurrent use. Parser created per-call.
func ScanImports(ctx context.Context, source []byte, language string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lang *sitter.Language
	switch language {
	case "go":
		lang = golang.GetLanguage()
	case "python":
		lang = python.GetLanguage()
	case "javascript":
		lang = javascript.GetLanguage()
	case "typescript":
		lang = typescript.GetLanguage()
	default:
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return scanWithPatterns(source, language), nil
	}
	defer tree.Close()

	specs := collectImports(tree.RootNode(), source, language)
	return dedupe(specs), nil
}

// collectImports recursively walks the AST gathering import specifiers.
func collectImports(node *sitter.Node, source []byte, language string) []string {
	if node == nil {
		return nil
	}
	if spec, ok := extractImport(node, source, language); ok {
		return []string{spec}
	}
	var specs []string
	for i := uint32(0); i < node.ChildCount(); i++ {
		specs = append(specs, collectImports(node.Child(int(i)), source, language)...)
	}
	return specs
}

func extractImport(node *sitter.Node, source []byte, language string) (string, bool) {
	switch language {
	case "go":
		if node.Type() == "import_spec" {
			if p := node.ChildByFieldName("path"); p != nil {
				return strings.Trim(p.Content(source), "\"`"), true
			}
			return strings.Trim(node.Content(source), "\"`"), true
		}
	case "python":
		switch node.Type() {
		case "import_from_statement":
			if mod := node.ChildByFieldName("module_name"); mod != nil {
				return mod.Content(source), true
			}
		case "import_statement":
			for i := 0; i < int(node.NamedChildCount()); i++ {
				child := node.NamedChild(i)
				switch child.Type() {
				case "dotted_name":
					return child.Content(source), true
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						return name.Content(source), true
					}
				}
			}
		}
	case "javascript", "typescript":
		if node.Type() == "import_statement" {
			if src := node.ChildByFieldName("source"); src != nil {
				return strings.Trim(src.Content(source), `'"`), true
			}
		}
	}
	return "", false
}

func scanWithPatterns(source []byte, language string) []string {
	var specs []string
	for _, pattern := range importPatterns[language] {
		for _, match := range pattern.FindAllSubmatch(source, -1) {
			specs = append(specs, string(match[1]))
		}
	}
	return dedupe(specs)
}

func dedupe(specs []string) []string {
	seen := make(map[string]struct{}, len(specs))
	var out []string
	for _, s := range specs {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ScanDependencies infers and links dependencies for a source artifact.
//
// # Description
//
// Scans the artifact's current content for import statements and
// resolves each specifier against the project's path index: relative
// JavaScript/TypeScript imports resolve against the importing file's
// directory, Python dotted modules resolve against the project root
// and the importing directory. Unresolved specifiers (external
// packages, unknown paths) are silently skipped. Each resolved target
// becomes a dependency edge.
//
// # Outputs
//
//   - int: The number of dependency edges added.
//   - error: Non-nil only on store failures, never on unresolved imports.
func (m *Manager) ScanDependencies(ctx context.Context, id string) (int, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	language := languageForPath(a.Path)
	if language == "" {
		return 0, nil
	}
	source, err := m.versions.GetVersionContent(ctx, a.LatestVersionID)
	if err != nil {
		return 0, err
	}
	specs, err := ScanImports(ctx, source, language)
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, spec := range specs {
		targetID, ok := m.resolveImport(ctx, a, spec, language)
		if !ok || targetID == a.ID {
			continue
		}
		if err := m.AddDependency(ctx, a.ID, targetID); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

func (m *Manager) resolveImport(ctx context.Context, a *Artifact, spec, language string) (string, bool) {
	var candidates []string
	dir := path.Dir(a.Path)

	switch language {
	case "javascript", "typescript":
		if !strings.HasPrefix(spec, ".") {
			return "", false // external package
		}
		base := path.Join(dir, spec)
		candidates = append(candidates, base)
		for _, ext := range []string{".js", ".jsx", ".mjs", ".ts", ".tsx"} {
			candidates = append(candidates, base+ext)
		}
		candidates = append(candidates, path.Join(base, "index.js"), path.Join(base, "index.ts"))
	case "python":
		rel := strings.ReplaceAll(strings.Trim(spec, "."), ".", "/")
		if rel == "" {
			return "", false
		}
		for _, root := range []string{"", dir} {
			candidates = append(candidates,
				path.Join(root, rel+".py"),
				path.Join(root, rel, "__init__.py"))
		}
	default:
		// Go import paths are module-scoped, not file-relative.
		return "", false
	}

	for _, candidate := range candidates {
		id, err := m.lookupPath(ctx, a.ProjectID, path.Clean(candidate))
		if err == nil {
			return id, true
		}
		if !errors.Is(err, ErrNotFound) {
			return "", false
		}
	}
	return "", false
}
