// Package x12 encodes and decodes ANSI X12 005010 healthcare transactions:
// 837P professional claims going out, 835 remittance advice and 999/997
// acknowledgments coming back.
package x12

import (
	"fmt"
	"strings"
)

// ISA is a fixed-width segment. These offsets hold in every conformant
// interchange regardless of which delimiters the sender picked.
const (
	isaLength                = 106
	isaElementSeparatorIndex = 3
	isaSegmentTerminatorIdx  = 105
	isaElementCount          = 17
	isaComponentSeparatorIdx = 16
	isaRepetitionSeparator   = 11
)

// Delimiters holds the four separator characters of an interchange.
type Delimiters struct {
	Segment    byte
	Element    byte
	Component  byte
	Repetition byte
}

// DefaultDelimiters are the separators used on outbound files unless the
// trading partner agreement says otherwise.
var DefaultDelimiters = Delimiters{
	Segment:    '~',
	Element:    '*',
	Component:  ':',
	Repetition: '^',
}

// orDefault fills in any unset separator from DefaultDelimiters.
func (d Delimiters) orDefault() Delimiters {
	if d.Segment == 0 {
		d.Segment = DefaultDelimiters.Segment
	}
	if d.Element == 0 {
		d.Element = DefaultDelimiters.Element
	}
	if d.Component == 0 {
		d.Component = DefaultDelimiters.Component
	}
	if d.Repetition == 0 {
		d.Repetition = DefaultDelimiters.Repetition
	}
	return d
}

// Validate reports whether the four separators are distinct.
func (d Delimiters) Validate() error {
	seen := map[byte]string{}
	for name, c := range map[string]byte{
		"segment":    d.Segment,
		"element":    d.Element,
		"component":  d.Component,
		"repetition": d.Repetition,
	} {
		if c == 0 {
			return fmt.Errorf("x12: %s delimiter is not set", name)
		}
		if other, dup := seen[c]; dup {
			return fmt.Errorf("x12: %s and %s delimiters are both %q", name, other, c)
		}
		seen[c] = name
	}
	return nil
}

// DetectDelimiters reads the separators from the fixed positions of the ISA
// header. Leading whitespace is ignored.
func DetectDelimiters(content string) (Delimiters, error) {
	content = strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(content, "ISA") {
		return Delimiters{}, &DecodeError{Segment: "ISA", Reason: "interchange does not start with an ISA segment"}
	}
	if len(content) < isaLength {
		return Delimiters{}, &DecodeError{
			Segment: "ISA",
			Reason:  fmt.Sprintf("content too short for ISA header (need %d bytes, got %d)", isaLength, len(content)),
		}
	}

	d := Delimiters{
		Element: content[isaElementSeparatorIndex],
		Segment: content[isaSegmentTerminatorIdx],
	}
	if d.Element == d.Segment {
		return Delimiters{}, &DecodeError{Segment: "ISA", Reason: fmt.Sprintf("segment terminator %q equals element separator", d.Segment)}
	}

	elems := strings.Split(content[:isaSegmentTerminatorIdx], string(d.Element))
	if len(elems) < isaElementCount {
		return Delimiters{}, &DecodeError{
			Segment: "ISA",
			Reason:  fmt.Sprintf("expected %d elements, got %d", isaElementCount, len(elems)),
		}
	}
	if c := elems[isaComponentSeparatorIdx]; len(c) == 1 {
		d.Component = c[0]
	} else {
		d.Component = DefaultDelimiters.Component
	}
	// ISA11 carried the interchange standards identifier ("U") before 00501.
	if r := elems[isaRepetitionSeparator]; len(r) == 1 && r != "U" {
		d.Repetition = r[0]
	}
	return d, nil
}
