package value

import (
	"sort"

	"rsc.io/edit"
)

// Match is one recognized syntax instance inside the working string.
// Start and End are byte offsets into the string the match was found in.
type Match struct {
	Text   string
	Name   string
	Params string
	Body   string

	// HasBody distinguishes an empty paired body from the simple form.
	HasBody bool

	Start int
	End   int
}

// Len is the byte length of the matched span.
func (m Match) Len() int { return m.End - m.Start }

// Splice replaces every match in content with replace(match).
//
// Matches are visited from the last source offset to the first. Replacement
// text never shifts the offsets of matches still pending, because every
// pending match lies strictly before the span being replaced. A match that
// overlaps one already visited is left untouched.
func Splice(content string, matches []Match, replace func(Match) string) string {
	if len(matches) == 0 {
		return content
	}

	ordered := make([]Match, len(matches))
	copy(ordered, matches)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	buf := edit.NewBuffer([]byte(content))
	limit := len(content)
	for _, m := range ordered {
		if m.Start < 0 || m.End > limit || m.Start > m.End {
			continue
		}
		buf.Replace(m.Start, m.End, replace(m))
		limit = m.Start
	}
	return buf.String()
}
