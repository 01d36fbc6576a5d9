package extract

import (
	"path/filepath"
	"strings"
)

// Language constants for common programming languages.
const (
	LangGo         = "go"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangPython     = "python"
	LangRust       = "rust"
	LangJava       = "java"
	LangC          = "c"
	LangCPP        = "cpp"
	LangCSharp     = "csharp"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangSwift      = "swift"
	LangKotlin     = "kotlin"
	LangScala      = "scala"
	LangShell      = "shell"
	LangSQL        = "sql"
	LangHTML       = "html"
	LangCSS        = "css"
	LangJSON       = "json"
	LangYAML       = "yaml"
	LangTOML       = "toml"
	LangMarkdown   = "markdown"
	LangXML        = "xml"
	LangText       = "text"
	LangUnknown    = ""
)

var (
	extToLang = map[string]string{
		".go": LangGo,

		".ts":  LangTypeScript,
		".tsx": LangTypeScript,
		".mts": LangTypeScript,
		".cts": LangTypeScript,
		".js":  LangJavaScript,
		".jsx": LangJavaScript,
		".mjs": LangJavaScript,
		".cjs": LangJavaScript,

		".py":  LangPython,
		".pyi": LangPython,
		".pyw": LangPython,

		".rs": LangRust,

		".java": LangJava,

		".c":   LangC,
		".h":   LangC,
		".cc":  LangCPP,
		".cpp": LangCPP,
		".cxx": LangCPP,
		".hpp": LangCPP,
		".hxx": LangCPP,

		".cs": LangCSharp,

		".rb":   LangRuby,
		".rake": LangRuby,

		".php": LangPHP,

		".swift": LangSwift,

		".kt":  LangKotlin,
		".kts": LangKotlin,

		".scala": LangScala,

		".sh":   LangShell,
		".bash": LangShell,
		".zsh":  LangShell,
		".fish": LangShell,

		".sql": LangSQL,

		".html": LangHTML,
		".htm":  LangHTML,
		".css":  LangCSS,
		".scss": LangCSS,
		".sass": LangCSS,
		".less": LangCSS,

		".json":  LangJSON,
		".jsonc": LangJSON,
		".yaml":  LangYAML,
		".yml":   LangYAML,
		".toml":  LangTOML,
		".xml":   LangXML,

		".md":       LangMarkdown,
		".markdown": LangMarkdown,
		".txt":      LangText,
		".text":     LangText,
		".rst":      LangText,
	}

	filenameToLang = map[string]string{
		"Makefile":      LangShell,
		"makefile":      LangShell,
		"Dockerfile":    LangShell,
		"dockerfile":    LangShell,
		"Rakefile":      LangRuby,
		"Gemfile":       LangRuby,
		"Jenkinsfile":   LangShell,
		".bashrc":       LangShell,
		".zshrc":        LangShell,
		".profile":      LangShell,
		".gitignore":    LangText,
		".gitconfig":    LangText,
		".editorconfig": LangText,
	}
)

// DetectLanguage determines the programming language of a file based on its path.
func DetectLanguage(path string) string {
	filename := filepath.Base(path)

	if lang, ok := filenameToLang[filename]; ok {
		return lang
	}

	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extToLang[ext]; ok {
		return lang
	}

	return LangUnknown
}

// IsDocFile returns true if the file is documentation rather than code.
func IsDocFile(path string) bool {
	lang := DetectLanguage(path)
	return lang == LangMarkdown || lang == LangText
}

// SupportsStructure returns true if the language supports definition-level
// extraction.
func SupportsStructure(lang string) bool {
	switch lang {
	case LangGo, LangTypeScript, LangJavaScript, LangPython, LangRust,
		LangJava, LangC, LangCPP, LangCSharp, LangRuby, LangPHP,
		LangSwift, LangKotlin, LangScala:
		return true
	default:
		return false
	}
}
