package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/x12"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrRemittanceNotFound = errors.New("remittance not found")

	// ErrDuplicateRemittance is returned by Create when the clearinghouse
	// remittance ID is already recorded.
	ErrDuplicateRemittance = errors.New("remittance already recorded")
)

// SubmissionRecord maps to the claim_submissions table: one transmitted
// 837P interchange and its acknowledgment state.
type SubmissionRecord struct {
	ID             uuid.UUID                      `db:"id" json:"id"`
	ExternalID     string                         `db:"external_id" json:"submission_id"`
	ControlNumber  int                            `db:"control_number" json:"control_number"`
	Status         clearinghouse.SubmissionStatus `db:"status" json:"status"`
	ClaimIDs       []string                       `db:"claim_ids" json:"claim_ids"`
	ClaimCount     int                            `db:"claim_count" json:"claim_count"`
	TotalCharge    float64                        `db:"total_charge" json:"total_charge"`
	Content        string                         `db:"content" json:"-"`
	AckErrors      []string                       `db:"ack_errors" json:"ack_errors,omitempty"`
	SubmittedAt    time.Time                      `db:"submitted_at" json:"submitted_at"`
	LastCheckedAt  *time.Time                     `db:"last_checked_at" json:"last_checked_at,omitempty"`
	AcknowledgedAt *time.Time                     `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	UpdatedAt      time.Time                      `db:"updated_at" json:"updated_at"`
}

// newSubmissionRecord builds the ledger row for a fresh submission.
func newSubmissionRecord(sub *clearinghouse.Submission, claims []*x12.Claim) *SubmissionRecord {
	var total float64
	for _, c := range claims {
		if c != nil {
			total += c.TotalCharge
		}
	}
	return &SubmissionRecord{
		ExternalID:    sub.ID,
		ControlNumber: sub.ControlNumber,
		Status:        sub.Status,
		ClaimIDs:      sub.ClaimIDs,
		ClaimCount:    len(claims),
		TotalCharge:   total,
		Content:       sub.Content,
		AckErrors:     []string{},
		SubmittedAt:   sub.SubmittedAt,
	}
}

// applyAcknowledgment folds one poll result into the record.
func (r *SubmissionRecord) applyAcknowledgment(ack *clearinghouse.AcknowledgmentResult) {
	checked := ack.CheckedAt
	r.LastCheckedAt = &checked
	r.Status = ack.Status
	r.AckErrors = ack.Errors
	if r.AckErrors == nil {
		r.AckErrors = []string{}
	}
	if ack.Status.Terminal() && r.AcknowledgedAt == nil {
		r.AcknowledgedAt = &checked
	}
}

// RemittanceRecord maps to the remittances table: one posted 835.
type RemittanceRecord struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	ExternalID    *string         `db:"external_id" json:"remittance_id,omitempty"`
	PayerID       string          `db:"payer_id" json:"payer_id"`
	PayerName     string          `db:"payer_name" json:"payer_name"`
	CheckNumber   string          `db:"check_number" json:"check_number"`
	PaymentAmount float64         `db:"payment_amount" json:"payment_amount"`
	PaidTotal     float64         `db:"paid_total" json:"paid_total"`
	PaymentDate   *time.Time      `db:"payment_date" json:"payment_date,omitempty"`
	ClaimCount    int             `db:"claim_count" json:"claim_count"`
	Balanced      bool            `db:"balanced" json:"balanced"`
	Content       string          `db:"content" json:"-"`
	Data          *x12.EDI835Data `db:"data" json:"data"`
	ReceivedAt    time.Time       `db:"received_at" json:"received_at"`
}

// newRemittanceRecord summarizes a decoded 835 for the ledger.
func newRemittanceRecord(externalID *string, content string, data *x12.EDI835Data) *RemittanceRecord {
	return &RemittanceRecord{
		ExternalID:    externalID,
		PayerID:       data.Payment.PayerID,
		PayerName:     data.Payment.PayerName,
		CheckNumber:   data.Payment.CheckNumber,
		PaymentAmount: data.Payment.TotalAmount,
		PaidTotal:     data.TotalPaid(),
		PaymentDate:   data.Payment.PaymentDate,
		ClaimCount:    len(data.Claims),
		Balanced:      x12.ValidatePaymentAmount(data),
		Content:       content,
		Data:          data,
	}
}

// StatusCount is the number of submissions and claims in one status.
type StatusCount struct {
	Submissions int `json:"submissions"`
	Claims      int `json:"claims"`
}

// RemittanceTotals aggregates the remittance ledger.
type RemittanceTotals struct {
	Count      int     `json:"count"`
	Unbalanced int     `json:"unbalanced"`
	Paid       float64 `json:"paid"`
}

// Metrics is the claim processing summary served at /billing/metrics.
type Metrics struct {
	ByStatus          map[string]StatusCount `json:"by_status"`
	ClaimsSubmitted   int                    `json:"claims_submitted"`
	PendingClaims     int                    `json:"pending_claims"`
	RejectedClaims    int                    `json:"rejected_claims"`
	ClaimApprovalRate float64                `json:"claim_approval_rate"`
	Remittances       RemittanceTotals       `json:"remittances"`
	GeneratedAt       time.Time              `json:"generated_at"`
}
