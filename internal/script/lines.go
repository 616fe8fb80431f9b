package script

import "strings"

const commentPrefix = "//"

// Line is a script line with its 1-based position in the source.
type Line struct {
	Number int
	Text   string
}

// Fields splits the line on whitespace.
func (l Line) Fields() []string {
	return strings.Fields(l.Text)
}

// SplitLines drops blank lines and // comments, keeping original line numbers.
func SplitLines(src string) []Line {
	var out []Line
	for i, text := range strings.Split(src, "\n") {
		text = strings.TrimRight(text, "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, commentPrefix) {
			continue
		}
		out = append(out, Line{Number: i + 1, Text: text})
	}
	return out
}

// lineReader hands out script lines one at a time. Block parsers pull from
// the same reader as the top-level loop.
type lineReader struct {
	lines []Line
	pos   int
}

func newLineReader(lines []Line) *lineReader {
	return &lineReader{lines: lines}
}

func (r *lineReader) next() (Line, bool) {
	if r.pos >= len(r.lines) {
		return Line{}, false
	}
	l := r.lines[r.pos]
	r.pos++
	return l, true
}
