// Package chunker turns extracted units into storable blocks, splitting
// oversize code units into fixed line windows.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ncrowell/codeatlas/internal/extract"
	"github.com/ncrowell/codeatlas/internal/store"
)

// DefaultMaxLines is the line count above which a code unit is split.
const DefaultMaxLines = 50

// Options configures chunking behavior.
type Options struct {
	// MaxLines is the split threshold. Units with strictly more lines are
	// split into windows of this size. Zero means DefaultMaxLines.
	MaxLines int
}

// Chunker converts extraction results into blocks.
type Chunker struct {
	maxLines int
}

// New creates a chunker with the given options.
func New(opts Options) *Chunker {
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Chunker{maxLines: maxLines}
}

// Blocks converts extracted units into block inputs for one file.
// Documentation units are never split; their sections are already
// reader-sized.
func (c *Chunker) Blocks(filePath string, result extract.Result) []store.BlockInput {
	category := store.CategoryCode
	if result.Doc {
		category = store.CategoryDocumentation
	}

	var blocks []store.BlockInput
	for _, unit := range result.Units {
		lineCount := unit.EndLine - unit.StartLine + 1

		if result.Doc || lineCount <= c.maxLines {
			blocks = append(blocks, c.block(filePath, category, unit, unit.Name, "", unit.StartLine, unit.EndLine, unit.Content))
			continue
		}

		blocks = append(blocks, c.split(filePath, category, unit)...)
	}

	return blocks
}

// split breaks an oversize unit into fixed windows of maxLines lines. Each
// window keeps the unit's name plus a part suffix and records the unit as
// its parent. Windows cover the unit's full line span with no gaps: blank
// windows are kept, and a content shorter than the span (trailing newlines
// trimmed upstream) is padded with empty lines.
func (c *Chunker) split(filePath string, category store.Category, unit extract.Unit) []store.BlockInput {
	span := unit.EndLine - unit.StartLine + 1
	lines := strings.Split(unit.Content, "\n")
	for len(lines) < span {
		lines = append(lines, "")
	}

	var blocks []store.BlockInput
	for offset := 0; offset < span; offset += c.maxLines {
		end := offset + c.maxLines
		if end > span {
			end = span
		}

		content := strings.Join(lines[offset:end], "\n")

		part := len(blocks) + 1
		name := fmt.Sprintf("%s[%d]", unit.Name, part)
		startLine := unit.StartLine + offset
		endLine := unit.StartLine + end - 1

		blocks = append(blocks, c.block(filePath, category, unit, name, unit.Name, startLine, endLine, content))
	}

	return blocks
}

func (c *Chunker) block(filePath string, category store.Category, unit extract.Unit, name, parentName string, startLine, endLine int, content string) store.BlockInput {
	return store.BlockInput{
		Name:       name,
		Kind:       unit.Kind,
		Category:   category,
		FilePath:   filePath,
		StartLine:  startLine,
		EndLine:    endLine,
		Content:    content,
		Comments:   unit.Comments,
		ParentName: parentName,
		TokenCount: EstimateTokens(content),
	}
}

// EstimateTokens approximates the token count of text. Four characters per
// token tracks common BPE vocabularies closely enough for budgets.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// EmbedText builds the text sent to the embedding model. File path, block
// name and summary are prepended so the vector carries location context,
// which matters most for sub-chunks whose content alone lacks it.
func EmbedText(block store.BlockInput) string {
	var b strings.Builder

	b.WriteString(block.FilePath)
	if block.ParentName != "" {
		b.WriteString(" > ")
		b.WriteString(block.ParentName)
	}
	b.WriteString(" > ")
	b.WriteString(block.Name)
	b.WriteString("\n")

	if block.ParentSummary != "" {
		b.WriteString(block.ParentSummary)
		b.WriteString("\n")
	}
	if block.Summary != "" {
		b.WriteString(block.Summary)
		b.WriteString("\n")
	}
	if block.Comments != "" {
		b.WriteString(block.Comments)
		b.WriteString("\n")
	}

	b.WriteString(block.Content)
	return b.String()
}
