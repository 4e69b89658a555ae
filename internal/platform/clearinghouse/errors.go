package clearinghouse

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotConfigured is returned by every network operation when the trading
// partner credentials are missing. No request is attempted.
var ErrNotConfigured = errors.New("clearinghouse: credentials not configured")

// ValidationError aborts a submission before anything is transmitted. The
// messages are the validator's, keyed by claim ID.
type ValidationError struct {
	ClaimErrors map[string][]string
}

// Add records the messages for the claim at index. A claim without an ID is
// keyed claim[index]; a repeated ID is keyed id#index.
func (e *ValidationError) Add(claimID string, index int, msgs []string) {
	if e.ClaimErrors == nil {
		e.ClaimErrors = map[string][]string{}
	}
	key := claimID
	if key == "" {
		key = fmt.Sprintf("claim[%d]", index)
	}
	if _, dup := e.ClaimErrors[key]; dup {
		key = fmt.Sprintf("%s#%d", key, index)
	}
	e.ClaimErrors[key] = msgs
}

func (e *ValidationError) Error() string {
	ids := make([]string, 0, len(e.ClaimErrors))
	for id := range e.ClaimErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, strings.Join(e.ClaimErrors[id], "; ")))
	}
	return "clearinghouse: claim validation failed: " + strings.Join(parts, " | ")
}

// TransportError wraps a failed call to the clearinghouse. StatusCode is 0
// when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("clearinghouse: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("clearinghouse: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrNoClaims is returned when a submission carries no claims.
var ErrNoClaims = errors.New("clearinghouse: no claims to submit")
