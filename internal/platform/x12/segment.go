package x12

import (
	"strings"
)

// Segment is one X12 segment split into elements. Element 0 is the segment
// ID, so Element(1) is e.g. CLP01.
type Segment []string

// ID returns the segment identifier ("ISA", "CLP", ...).
func (s Segment) ID() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Element returns the element at the 1-based X12 position, or "" when the
// segment is shorter.
func (s Segment) Element(i int) string {
	if i <= 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

// Split breaks raw interchange text into segments using d. Line breaks are
// normalized first and blank segments dropped, so files wrapped at the
// segment terminator decode the same as single-line files.
func Split(content string, d Delimiters) []Segment {
	content = normalizeLineEndings(content)
	raw := strings.Split(content, string(d.Segment))

	segments := make([]Segment, 0, len(raw))
	for _, r := range raw {
		// ISA padding is interior, so trimming the ends is safe.
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		segments = append(segments, Segment(strings.Split(r, string(d.Element))))
	}
	return segments
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// writer accumulates outbound segments and joins them with the configured
// delimiters.
type writer struct {
	d        Delimiters
	segments []string
}

func newWriter(d Delimiters) *writer {
	return &writer{d: d}
}

// add appends a segment. Trailing empty elements are dropped as X12 requires;
// interior empty elements keep their positions.
func (w *writer) add(id string, elems ...string) {
	end := len(elems)
	for end > 0 && elems[end-1] == "" {
		end--
	}
	var b strings.Builder
	b.WriteString(id)
	for _, e := range elems[:end] {
		b.WriteByte(w.d.Element)
		b.WriteString(e)
	}
	w.segments = append(w.segments, b.String())
}

// addFixed appends a segment without trimming. Used for the ISA header whose
// every element is mandatory and fixed width.
func (w *writer) addFixed(id string, elems ...string) {
	w.segments = append(w.segments, id+string(w.d.Element)+strings.Join(elems, string(w.d.Element)))
}

// composite joins component values with the component separator.
func (w *writer) composite(parts ...string) string {
	return strings.Join(parts, string(w.d.Component))
}

func (w *writer) count() int {
	return len(w.segments)
}

// String renders every segment followed by the segment terminator.
func (w *writer) String() string {
	var b strings.Builder
	for _, s := range w.segments {
		b.WriteString(s)
		b.WriteByte(w.d.Segment)
	}
	return b.String()
}
