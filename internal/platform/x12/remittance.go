package x12

import (
	"fmt"
	"math"
	"time"
)

// Adjustment group codes (CAS01).
const (
	GroupContractualObligation = "CO"
	GroupCorrectionReversal    = "CR"
	GroupOtherAdjustment       = "OA"
	GroupPayerInitiated        = "PI"
	GroupPatientResponsibility = "PR"
)

// paymentTolerance is the rounding slack allowed between BPR02 and the sum of
// CLP04 paid amounts.
const paymentTolerance = 0.10

// EDI835Data is a decoded remittance advice.
type EDI835Data struct {
	InterchangeControlNumber string         `json:"interchange_control_number"`
	GroupControlNumber       string         `json:"group_control_number"`
	TransactionControlNumber string         `json:"transaction_control_number"`
	Payment                  PaymentHeader  `json:"payment"`
	Claims                   []ClaimPayment `json:"claims"`
}

// PaymentHeader carries BPR, TRN and the 1000A/1000B party loops.
type PaymentHeader struct {
	TotalAmount     float64    `json:"total_amount"`
	CreditDebitFlag string     `json:"credit_debit_flag"`
	PaymentMethod   string     `json:"payment_method"`
	PaymentDate     *time.Time `json:"payment_date,omitempty"`
	CheckNumber     string     `json:"check_number"`
	PayerName       string     `json:"payer_name"`
	PayerID         string     `json:"payer_id"`
	PayeeName       string     `json:"payee_name,omitempty"`
	PayeeNPI        string     `json:"payee_npi,omitempty"`
}

// ClaimPayment is one CLP loop (2100).
type ClaimPayment struct {
	ClaimID                 string           `json:"claim_id"`
	StatusCode              int              `json:"status_code"`
	ChargedAmount           float64          `json:"charged_amount"`
	PaidAmount              float64          `json:"paid_amount"`
	PatientResponsibility   float64          `json:"patient_responsibility"`
	FilingIndicator         string           `json:"filing_indicator"`
	PayerClaimControlNumber string           `json:"payer_claim_control_number"`
	PatientFirstName        string           `json:"patient_first_name,omitempty"`
	PatientLastName         string           `json:"patient_last_name,omitempty"`
	PatientID               string           `json:"patient_id,omitempty"`
	StatementFrom           *time.Time       `json:"statement_from,omitempty"`
	StatementTo             *time.Time       `json:"statement_to,omitempty"`
	ServiceLines            []ServicePayment `json:"service_lines"`
	Adjustments             []Adjustment     `json:"adjustments"`
}

// ServicePayment is one SVC loop (2110).
type ServicePayment struct {
	ProcedureCode string       `json:"procedure_code"`
	ChargedAmount float64      `json:"charged_amount"`
	PaidAmount    float64      `json:"paid_amount"`
	Units         float64      `json:"units"`
	ServiceDate   *time.Time   `json:"service_date,omitempty"`
	Adjustments   []Adjustment `json:"adjustments"`
}

// Adjustment is one reason/amount triplet of a CAS segment.
type Adjustment struct {
	GroupCode  string   `json:"group_code"`
	ReasonCode string   `json:"reason_code"`
	Amount     float64  `json:"amount"`
	Quantity   *float64 `json:"quantity,omitempty"`
}

var claimStatusDescriptions = map[int]string{
	1:  "Processed as Primary",
	2:  "Processed as Secondary",
	3:  "Processed as Tertiary",
	4:  "Denied",
	19: "Processed as Primary, Forwarded to Additional Payer(s)",
	20: "Processed as Secondary, Forwarded to Additional Payer(s)",
	21: "Processed as Tertiary, Forwarded to Additional Payer(s)",
	22: "Reversal of Previous Payment",
	23: "Not Our Claim, Forwarded to Additional Payer(s)",
	25: "Predetermination Pricing Only - No Payment",
}

var adjustmentGroupDescriptions = map[string]string{
	GroupContractualObligation: "Contractual Obligation",
	GroupCorrectionReversal:    "Correction and Reversal",
	GroupOtherAdjustment:       "Other Adjustment",
	GroupPayerInitiated:        "Payer Initiated Reduction",
	GroupPatientResponsibility: "Patient Responsibility",
}

// ClaimStatusDescription returns the human-readable CLP02 status.
func ClaimStatusDescription(code int) string {
	if d, ok := claimStatusDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown Status (%d)", code)
}

// AdjustmentGroupDescription returns the human-readable CAS01 group.
func AdjustmentGroupDescription(code string) string {
	if d, ok := adjustmentGroupDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown Group (%s)", code)
}

// AdjustmentTotals sums a claim's adjustments by group code, counting
// claim-level and service-line-level CAS together.
func AdjustmentTotals(claim *ClaimPayment) map[string]float64 {
	totals := map[string]float64{}
	if claim == nil {
		return totals
	}
	for _, adj := range claim.Adjustments {
		totals[adj.GroupCode] += adj.Amount
	}
	for _, line := range claim.ServiceLines {
		for _, adj := range line.Adjustments {
			totals[adj.GroupCode] += adj.Amount
		}
	}
	return totals
}

// TotalPaid sums CLP04 across every claim.
func (d *EDI835Data) TotalPaid() float64 {
	var sum float64
	for _, c := range d.Claims {
		sum += c.PaidAmount
	}
	return sum
}

// ValidatePaymentAmount reports whether the BPR total matches the sum of
// claim payments within a ten-cent rounding tolerance. A mismatch is a
// posting concern, not a decode failure.
func ValidatePaymentAmount(data *EDI835Data) bool {
	if data == nil {
		return false
	}
	// The epsilon keeps a difference of exactly $0.10 on the accepting side
	// despite binary float representation.
	return math.Abs(data.Payment.TotalAmount-data.TotalPaid()) <= paymentTolerance+1e-9
}
