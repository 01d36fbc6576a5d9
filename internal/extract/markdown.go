package extract

import "strings"

// extractMarkdown splits a markdown document into heading sections. Content
// before the first heading becomes a preamble section. Headings inside
// fenced code blocks are ignored.
func extractMarkdown(content string) []Unit {
	lines := strings.Split(content, "\n")

	var boundaries []int
	var titles []string
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if title == "" {
				title = "section"
			}
			boundaries = append(boundaries, i)
			titles = append(titles, title)
		}
	}

	if len(boundaries) == 0 {
		return []Unit{{
			Name:      "document",
			Kind:      "section",
			StartLine: 1,
			EndLine:   len(lines),
			Content:   strings.TrimRight(content, "\n"),
		}}
	}

	var units []Unit

	if boundaries[0] > 0 {
		preamble := strings.TrimRight(strings.Join(lines[:boundaries[0]], "\n"), "\n")
		if strings.TrimSpace(preamble) != "" {
			units = append(units, Unit{
				Name:      "preamble",
				Kind:      "section",
				StartLine: 1,
				EndLine:   boundaries[0],
				Content:   preamble,
			})
		}
	}

	for i, boundary := range boundaries {
		endLine := len(lines)
		if i+1 < len(boundaries) {
			endLine = boundaries[i+1]
		}

		sectionContent := strings.TrimRight(strings.Join(lines[boundary:endLine], "\n"), "\n")
		if strings.TrimSpace(sectionContent) == "" {
			continue
		}

		units = append(units, Unit{
			Name:      titles[i],
			Kind:      "section",
			StartLine: boundary + 1,
			EndLine:   endLine,
			Content:   sectionContent,
		})
	}

	return units
}
