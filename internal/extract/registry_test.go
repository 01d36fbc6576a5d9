package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesByExtension(t *testing.T) {
	r := NewRegistry()

	assert.IsType(t, codeExtractor{}, r.For("internal/store/sqlite.go"))
	assert.IsType(t, codeExtractor{}, r.For("app.py"))
	assert.IsType(t, markdownExtractor{}, r.For("docs/README.md"))
	assert.IsType(t, plainTextExtractor{}, r.For("NOTES.txt"))
	assert.IsType(t, wholeFileExtractor{}, r.For("data.csv"))
	assert.IsType(t, wholeFileExtractor{}, r.For("config.yaml"))
}

func TestRegistryResolvesWellKnownFilenames(t *testing.T) {
	r := NewRegistry()

	// Makefile has no extension; the filename entry claims it.
	assert.IsType(t, wholeFileExtractor{}, r.For("Makefile"))
	assert.IsType(t, plainTextExtractor{}, r.For(".gitignore"))
}

type stubExtractor struct {
	called bool
}

func (s *stubExtractor) Extract(path, content string) Result {
	s.called = true
	return Result{Units: []Unit{{Name: "stub", Kind: "file", StartLine: 1, EndLine: 1, Content: content}}}
}

func TestRegistryRegisterOverridesBuiltin(t *testing.T) {
	r := NewRegistry()
	stub := &stubExtractor{}
	r.Register(".go", stub)

	result := r.Extract("main.go", "package main\n")
	assert.True(t, stub.called)
	require.Len(t, result.Units, 1)
	assert.Equal(t, "stub", result.Units[0].Name)
}

func TestRegistryRegisterNewExtension(t *testing.T) {
	r := NewRegistry()
	stub := &stubExtractor{}
	r.Register(".proto", stub)

	r.Extract("api/v1/service.proto", "syntax = \"proto3\";\n")
	assert.True(t, stub.called)
}

func TestRegistryEmptyContent(t *testing.T) {
	r := NewRegistry()
	result := r.Extract("main.go", "")
	assert.Empty(t, result.Units)
}

func TestFileUsesDefaultRegistry(t *testing.T) {
	// File and a fresh registry must agree for every built-in route.
	r := NewRegistry()

	for _, path := range []string{"a.go", "b.md", "c.txt", "d.csv"} {
		got := File(path, "content\n")
		want := r.Extract(path, "content\n")
		assert.Equal(t, want, got, path)
	}
}
