package x12

import "fmt"

// DecodeError reports an inbound file that cannot be trusted, typically
// because a structurally mandatory segment is absent.
type DecodeError struct {
	Segment string
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Segment == "" {
		return "x12: decode: " + e.Reason
	}
	return fmt.Sprintf("x12: decode %s: %s", e.Segment, e.Reason)
}
