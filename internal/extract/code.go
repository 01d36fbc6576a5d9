package extract

import (
	"regexp"
	"strings"
)

// extractCode splits source code at top-level definition boundaries and
// names each resulting unit after the definition that starts it.
func extractCode(content, lang string) []Unit {
	lines := strings.Split(content, "\n")
	boundaries := findDefinitionBoundaries(lines, lang)

	if len(boundaries) == 0 {
		return []Unit{{
			Name:      "file",
			Kind:      "file",
			StartLine: 1,
			EndLine:   len(lines),
			Content:   content,
		}}
	}

	var units []Unit
	for i, boundary := range boundaries {
		endLine := len(lines)
		if i+1 < len(boundaries) {
			endLine = boundaries[i+1]
		}

		unitLines := lines[boundary:endLine]
		unitContent := strings.TrimRight(strings.Join(unitLines, "\n"), "\n")
		if strings.TrimSpace(unitContent) == "" {
			continue
		}

		def := strings.TrimSpace(lines[boundary])
		name, kind := parseDefinition(def, lang)
		comments := leadingComments(lines, boundary, lang)

		units = append(units, Unit{
			Name:      name,
			Kind:      kind,
			StartLine: boundary + 1,
			EndLine:   boundary + len(unitLines),
			Content:   unitContent,
			Comments:  comments,
		})
	}

	if len(units) == 0 {
		return []Unit{{
			Name:      "file",
			Kind:      "file",
			StartLine: 1,
			EndLine:   len(lines),
			Content:   content,
		}}
	}

	return units
}

// findDefinitionBoundaries finds line numbers where top-level definitions start.
func findDefinitionBoundaries(lines []string, lang string) []int {
	var boundaries []int
	inMultilineComment := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}

		if strings.Contains(trimmed, "/*") {
			inMultilineComment = true
		}
		if strings.Contains(trimmed, "*/") {
			inMultilineComment = false
			continue
		}
		if inMultilineComment {
			continue
		}

		// Indented lines are nested in a preceding definition.
		if line != "" && (line[0] == ' ' || line[0] == '\t') && lang != LangPython {
			continue
		}

		if isDefinitionStart(trimmed, lang) {
			boundaries = append(boundaries, i)
		}
	}

	if len(boundaries) == 0 {
		return nil
	}
	if boundaries[0] > 0 {
		// Content before the first definition (package clause, imports)
		// belongs to a preamble unit.
		boundaries = append([]int{0}, boundaries...)
	}

	return boundaries
}

// isDefinitionStart checks if a line starts a function/class/type definition.
func isDefinitionStart(line, lang string) bool {
	switch lang {
	case LangGo:
		return strings.HasPrefix(line, "func ") ||
			strings.HasPrefix(line, "type ")

	case LangTypeScript, LangJavaScript:
		return strings.HasPrefix(line, "function ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "interface ") ||
			strings.HasPrefix(line, "export function ") ||
			strings.HasPrefix(line, "export class ") ||
			strings.HasPrefix(line, "export interface ") ||
			strings.HasPrefix(line, "export type ") ||
			strings.HasPrefix(line, "export default ") ||
			strings.HasPrefix(line, "export async function ") ||
			strings.HasPrefix(line, "async function ")

	case LangPython:
		return strings.HasPrefix(line, "def ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "async def ")

	case LangRust:
		return strings.HasPrefix(line, "fn ") ||
			strings.HasPrefix(line, "pub fn ") ||
			strings.HasPrefix(line, "struct ") ||
			strings.HasPrefix(line, "pub struct ") ||
			strings.HasPrefix(line, "enum ") ||
			strings.HasPrefix(line, "pub enum ") ||
			strings.HasPrefix(line, "impl ") ||
			strings.HasPrefix(line, "trait ") ||
			strings.HasPrefix(line, "pub trait ")

	case LangJava, LangCSharp:
		return strings.Contains(line, "class ") ||
			strings.Contains(line, "interface ") ||
			strings.Contains(line, "enum ")

	case LangC, LangCPP:
		return (strings.Contains(line, "(") && !strings.HasSuffix(line, ";") &&
			!strings.HasPrefix(line, "//") && !strings.HasPrefix(line, "#")) ||
			strings.HasPrefix(line, "struct ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "namespace ")

	case LangRuby:
		return strings.HasPrefix(line, "def ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "module ")

	case LangPHP:
		return strings.HasPrefix(line, "function ") ||
			strings.Contains(line, "class ") ||
			strings.Contains(line, "interface ") ||
			strings.Contains(line, "trait ")

	case LangSwift:
		return strings.HasPrefix(line, "func ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "struct ") ||
			strings.HasPrefix(line, "enum ") ||
			strings.HasPrefix(line, "protocol ") ||
			strings.HasPrefix(line, "extension ")

	case LangKotlin:
		return strings.HasPrefix(line, "fun ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "interface ") ||
			strings.HasPrefix(line, "object ") ||
			strings.HasPrefix(line, "data class ")

	case LangScala:
		return strings.HasPrefix(line, "def ") ||
			strings.HasPrefix(line, "class ") ||
			strings.HasPrefix(line, "object ") ||
			strings.HasPrefix(line, "trait ") ||
			strings.HasPrefix(line, "case class ")
	}

	return false
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// parseDefinition pulls a name and kind out of a definition line.
func parseDefinition(line, lang string) (name, kind string) {
	kind = definitionKind(line, lang)

	rest := line
	for _, keyword := range []string{
		"export default ", "export async ", "export ", "pub ", "public ", "private ",
		"protected ", "static ", "abstract ", "final ", "async ", "data ", "case ",
	} {
		rest = strings.TrimPrefix(rest, keyword)
	}
	for _, keyword := range []string{
		"func ", "function ", "def ", "fn ", "fun ", "type ", "class ", "interface ",
		"struct ", "enum ", "trait ", "impl ", "object ", "module ", "namespace ",
		"protocol ", "extension ",
	} {
		if strings.HasPrefix(rest, keyword) {
			rest = rest[len(keyword):]
			break
		}
	}

	// Go methods: skip the receiver.
	if lang == LangGo && strings.HasPrefix(rest, "(") {
		if idx := strings.Index(rest, ")"); idx >= 0 {
			rest = strings.TrimSpace(rest[idx+1:])
			kind = "method"
		}
	}

	name = identifierRe.FindString(rest)
	if name == "" {
		name = "block"
	}
	return name, kind
}

func definitionKind(line, lang string) string {
	switch {
	case strings.Contains(line, "class "):
		return "class"
	case strings.Contains(line, "interface "), strings.Contains(line, "trait "),
		strings.Contains(line, "protocol "):
		return "interface"
	case strings.Contains(line, "struct "), strings.HasPrefix(line, "type "),
		strings.Contains(line, "enum "):
		return "type"
	case strings.HasPrefix(line, "func "), strings.HasPrefix(line, "function "),
		strings.HasPrefix(line, "def "), strings.HasPrefix(line, "async def "),
		strings.HasPrefix(line, "fn "), strings.HasPrefix(line, "pub fn "),
		strings.HasPrefix(line, "fun "),
		strings.Contains(line, " function "), strings.HasPrefix(line, "async function "):
		return "function"
	default:
		return "block"
	}
}

// leadingComments collects the contiguous comment block immediately above a
// definition line.
func leadingComments(lines []string, defLine int, lang string) string {
	prefix := "//"
	switch lang {
	case LangPython, LangRuby, LangShell:
		prefix = "#"
	}

	var comments []string
	for i := defLine - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, prefix) {
			comments = append([]string{trimmed}, comments...)
			continue
		}
		break
	}

	return strings.Join(comments, "\n")
}

var (
	goImportSingleRe = regexp.MustCompile(`^import\s+(?:\w+\s+)?"([^"]+)"`)
	goImportLineRe   = regexp.MustCompile(`^(?:\w+\s+)?"([^"]+)"`)
	pyImportRe       = regexp.MustCompile(`^import\s+([\w.]+)`)
	pyFromRe         = regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+(.+)`)
	jsImportRe       = regexp.MustCompile(`^import\s+(?:(.+)\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequireRe      = regexp.MustCompile(`require\(['"]([^'"]+)['"]\)`)
	rustUseRe        = regexp.MustCompile(`^(?:pub\s+)?use\s+([\w:]+)`)
	javaImportRe     = regexp.MustCompile(`^import\s+(?:static\s+)?([\w.]+)\s*;`)
)

// extractImports parses import statements into dependency edges.
func extractImports(content, lang string) []Import {
	lines := strings.Split(content, "\n")
	var imports []Import
	inGoBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch lang {
		case LangGo:
			if trimmed == "import (" {
				inGoBlock = true
				continue
			}
			if inGoBlock {
				if trimmed == ")" {
					inGoBlock = false
					continue
				}
				if m := goImportLineRe.FindStringSubmatch(trimmed); m != nil {
					imports = append(imports, Import{Module: m[1]})
				}
				continue
			}
			if m := goImportSingleRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1]})
			}

		case LangPython:
			if m := pyFromRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1], Symbols: splitSymbols(m[2])})
			} else if m := pyImportRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1]})
			}

		case LangTypeScript, LangJavaScript:
			if m := jsImportRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[2], Symbols: splitSymbols(m[1])})
			} else if m := jsRequireRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1]})
			}

		case LangRust:
			if m := rustUseRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1]})
			}

		case LangJava, LangCSharp, LangKotlin, LangScala:
			if m := javaImportRe.FindStringSubmatch(trimmed); m != nil {
				imports = append(imports, Import{Module: m[1]})
			}
		}
	}

	return imports
}

// splitSymbols parses "a, b as c, { d, e }" into bare symbol names.
func splitSymbols(s string) []string {
	s = strings.NewReplacer("{", "", "}", "", "*", "").Replace(s)
	parts := strings.Split(s, ",")
	var symbols []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		// "x as y" binds y locally but imports x.
		if idx := strings.Index(part, " as "); idx >= 0 {
			part = strings.TrimSpace(part[:idx])
		}
		if part == "" || !identifierRe.MatchString(part) {
			continue
		}
		symbols = append(symbols, identifierRe.FindString(part))
	}
	return symbols
}
