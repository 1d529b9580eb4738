package preparse

import (
	"strings"
)

// Transform rewrites the JSPWiki block markup that survives the syntax
// handlers: forced line breaks and tables with a header row.
func Transform(content string) string {
	content = ConvertLineBreaks(content)
	return ConvertTables(content)
}

// ConvertLineBreaks turns \\ into an HTML line break.
func ConvertLineBreaks(content string) string {
	if !strings.Contains(content, `\\`) {
		return content
	}
	return strings.ReplaceAll(content, `\\`, "<br />")
}

// ConvertTables rewrites JSPWiki tables into GFM tables. A table starts at
// a line beginning with || (the header row) and runs while lines start with |.
// Tables without a header row are left alone.
func ConvertTables(content string) string {
	if !strings.Contains(content, "||") {
		return content
	}
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines)+2)
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		if !strings.HasPrefix(line, "||") {
			out = append(out, lines[i])
			continue
		}
		header := splitCells(line[2:], "||")
		out = append(out, row(header), separator(len(header)))
		for i+1 < len(lines) && strings.HasPrefix(lines[i+1], "|") {
			i++
			next := strings.ReplaceAll(strings.TrimRight(lines[i], " \t"), "||", "|")
			cells := splitCells(next[1:], "|")
			for len(cells) < len(header) {
				cells = append(cells, "")
			}
			out = append(out, row(cells))
		}
	}
	return strings.Join(out, "\n")
}

func splitCells(s, sep string) []string {
	s = strings.TrimSuffix(strings.TrimSpace(s), sep)
	parts := strings.Split(s, sep)
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func row(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func separator(n int) string {
	return "|" + strings.Repeat(" --- |", n)
}
