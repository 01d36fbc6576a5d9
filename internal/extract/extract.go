// Package extract turns source files into named, line-addressed units.
// Code files yield one unit per top-level definition, markdown files one
// per heading section, and anything else a single whole-file unit.
package extract

import (
	"strings"
)

// Unit is one extracted block with its position in the file.
type Unit struct {
	Name      string
	Kind      string // function, class, method, type, section, file
	StartLine int    // 1-indexed
	EndLine   int    // 1-indexed, inclusive
	Content   string
	Comments  string // leading comment block, if any
}

// Import records one module imported by a file.
type Import struct {
	Module  string
	Symbols []string
}

// Result is the full extraction output for one file.
type Result struct {
	Units   []Unit
	Doc     bool // true when the file is documentation rather than code
	Imports []Import
}

// defaultRegistry carries the built-in extractors, resolved at startup.
var defaultRegistry = NewRegistry()

// File extracts units from file content using the default registry.
func File(path, content string) Result {
	return defaultRegistry.Extract(path, content)
}

// wholeFile wraps the entire content as a single unit.
func wholeFile(path string, content string) Unit {
	lines := strings.Count(content, "\n") + 1
	if strings.HasSuffix(content, "\n") {
		lines--
	}
	if lines < 1 {
		lines = 1
	}
	return Unit{
		Name:      baseName(path),
		Kind:      "file",
		StartLine: 1,
		EndLine:   lines,
		Content:   content,
	}
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
