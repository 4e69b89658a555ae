package x12

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ValidationResult is the outcome of Validate. Errors block submission;
// warnings are surfaced to the biller but do not.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var (
	npiPattern   = regexp.MustCompile(`^\d{10}$`)
	icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9][0-9A-Z](\.?[0-9A-Z]{1,4})?$`)
)

// chargeTolerance absorbs float rounding when comparing the claim total with
// the sum of its lines.
const chargeTolerance = 0.01

// Validator checks a claim before it is encoded. It holds no state and is
// safe for concurrent use.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs every rule and returns all findings at once. Error messages
// are payer-facing and are meant to be shown verbatim.
func (v *Validator) Validate(claim *Claim) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if claim == nil {
		res.Errors = append(res.Errors, "Claim is required")
		return res
	}

	npi := strings.TrimSpace(claim.BillingProvider.NPI)
	switch {
	case npi == "":
		res.Errors = append(res.Errors, "Billing provider NPI is required")
	case !npiPattern.MatchString(npi):
		res.Errors = append(res.Errors, "Billing provider NPI must be 10 digits")
	}

	if strings.TrimSpace(claim.Subscriber.MemberID) == "" {
		res.Errors = append(res.Errors, "Subscriber member ID is required")
	}

	if len(claim.DiagnosisCodes) == 0 {
		res.Errors = append(res.Errors, "At least one diagnosis code is required")
	}
	for _, code := range claim.DiagnosisCodes {
		if !icd10Pattern.MatchString(strings.ToUpper(strings.TrimSpace(code))) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Diagnosis code %q does not look like ICD-10", code))
		}
	}

	if len(claim.ServiceLines) == 0 {
		res.Errors = append(res.Errors, "At least one service line is required")
	}
	for i, line := range claim.ServiceLines {
		if strings.TrimSpace(line.ProcedureCode) == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("Service line %d: Procedure code is required", i+1))
		}
		if line.ChargeAmount <= 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Service line %d: Charge amount must be greater than 0", i+1))
		}
	}

	if len(claim.ServiceLines) > 0 {
		if sum := claim.LineChargeTotal(); math.Abs(sum-claim.TotalCharge) > chargeTolerance {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Total charge %s does not equal the sum of service line charges %s",
				FormatAmount(claim.TotalCharge), FormatAmount(sum)))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}
