package clearinghouse

import (
	"time"

	"github.com/serenity/billing/internal/platform/x12"
)

// SubmissionStatus tracks a batch from transmission to acknowledgment.
//
//	submitted -> pending -> accepted | rejected | partially_accepted
type SubmissionStatus string

const (
	StatusSubmitted         SubmissionStatus = "submitted"
	StatusPending           SubmissionStatus = "pending"
	StatusAccepted          SubmissionStatus = "accepted"
	StatusRejected          SubmissionStatus = "rejected"
	StatusPartiallyAccepted SubmissionStatus = "partially_accepted"
)

// Terminal reports whether no further acknowledgment is expected.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusPartiallyAccepted:
		return true
	}
	return false
}

// ParseStatus maps a clearinghouse status string; unknown values read as
// pending so the poller keeps asking.
func ParseStatus(s string) SubmissionStatus {
	switch SubmissionStatus(s) {
	case StatusSubmitted, StatusAccepted, StatusRejected, StatusPartiallyAccepted:
		return SubmissionStatus(s)
	}
	return StatusPending
}

// Submission is the handle returned for a transmitted batch.
type Submission struct {
	ID            string           `json:"submission_id"`
	Status        SubmissionStatus `json:"status"`
	ControlNumber int              `json:"control_number"`
	ClaimIDs      []string         `json:"claim_ids"`
	Message       string           `json:"message,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	// Content is the 837P text that was sent.
	Content string `json:"-"`
}

// AcknowledgmentResult is one poll of a submission's 999.
type AcknowledgmentResult struct {
	SubmissionID   string              `json:"submission_id"`
	Status         SubmissionStatus    `json:"status"`
	Errors         []string            `json:"errors,omitempty"`
	Acknowledgment *x12.Acknowledgment `json:"acknowledgment,omitempty"`
	CheckedAt      time.Time           `json:"checked_at"`
}

// DateRange bounds a remittance query, both ends inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// RemittanceSummary is one 835 listed by the clearinghouse.
type RemittanceSummary struct {
	ID            string     `json:"remittance_id"`
	PayerID       string     `json:"payer_id,omitempty"`
	PayerName     string     `json:"payer_name"`
	PaymentAmount float64    `json:"payment_amount"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	CheckNumber   string     `json:"check_number,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
}

// HistoryEntry is one row of the clearinghouse submission history.
type HistoryEntry struct {
	SubmissionID string           `json:"submission_id"`
	Status       SubmissionStatus `json:"status"`
	ClaimCount   int              `json:"claim_count"`
	SubmittedAt  time.Time        `json:"submitted_at"`
}
