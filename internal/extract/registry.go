package extract

import (
	"path/filepath"
	"strings"
)

// Extractor turns one file's content into line-addressed units.
type Extractor interface {
	Extract(path, content string) Result
}

// Registry resolves the extractor responsible for a file. Built-in
// entries are keyed by extension (plus a few well-known filenames) and
// resolved once at startup; Register installs or replaces an entry, which
// is the seam for plugging in richer parsers.
type Registry struct {
	byExt      map[string]Extractor
	byFilename map[string]Extractor
	fallback   Extractor
}

// NewRegistry builds a registry with the built-in extractors: structured
// code languages get the heuristic code extractor, markdown gets the
// heading splitter, plain-text formats a whole-file documentation unit,
// and everything else a whole-file code unit.
func NewRegistry() *Registry {
	r := &Registry{
		byExt:      make(map[string]Extractor),
		byFilename: make(map[string]Extractor),
		fallback:   wholeFileExtractor{},
	}

	for ext, lang := range extToLang {
		if e := builtinFor(lang); e != nil {
			r.byExt[ext] = e
		}
	}
	for name, lang := range filenameToLang {
		if e := builtinFor(lang); e != nil {
			r.byFilename[name] = e
		}
	}

	return r
}

func builtinFor(lang string) Extractor {
	switch {
	case lang == LangMarkdown:
		return markdownExtractor{}
	case lang == LangText:
		return plainTextExtractor{}
	case SupportsStructure(lang):
		return codeExtractor{}
	default:
		return nil
	}
}

// Register installs an extractor for an extension (including the leading
// dot), replacing any built-in entry.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// For returns the extractor for a path. Well-known filenames win over
// extensions; unknown files get the whole-file fallback.
func (r *Registry) For(path string) Extractor {
	if e, ok := r.byFilename[filepath.Base(path)]; ok {
		return e
	}
	if e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return e
	}
	return r.fallback
}

// Extract runs the resolved extractor. Empty content yields an empty
// result without consulting the registry.
func (r *Registry) Extract(path, content string) Result {
	if content == "" {
		return Result{}
	}
	return r.For(path).Extract(path, content)
}

// codeExtractor applies the heuristic definition scanner for languages
// with recognizable top-level structure.
type codeExtractor struct{}

func (codeExtractor) Extract(path, content string) Result {
	lang := DetectLanguage(path)
	return Result{Units: extractCode(content, lang), Imports: extractImports(content, lang)}
}

// markdownExtractor splits markdown into heading sections.
type markdownExtractor struct{}

func (markdownExtractor) Extract(_, content string) Result {
	return Result{Units: extractMarkdown(content), Doc: true}
}

// plainTextExtractor wraps text formats as one documentation unit.
type plainTextExtractor struct{}

func (plainTextExtractor) Extract(path, content string) Result {
	return Result{Units: []Unit{wholeFile(path, content)}, Doc: true}
}

// wholeFileExtractor is the fallback for files no entry claims.
type wholeFileExtractor struct{}

func (wholeFileExtractor) Extract(path, content string) Result {
	return Result{Units: []Unit{wholeFile(path, content)}}
}
