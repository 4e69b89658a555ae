package x12

// Address is a postal address as carried in N3/N4.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// BillingProvider is the agency billing for the visits (loop 2010AA).
type BillingProvider struct {
	Name     string  `json:"name"`
	NPI      string  `json:"npi"`
	TaxID    string  `json:"tax_id"`
	Taxonomy string  `json:"taxonomy,omitempty"`
	Address  Address `json:"address"`
}

// Subscriber is the insured member (loop 2010BA).
type Subscriber struct {
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	MemberID    string  `json:"member_id"`
	DateOfBirth string  `json:"date_of_birth"` // YYYY-MM-DD
	Gender      string  `json:"gender"`        // M, F or U
	Address     Address `json:"address"`
}

// ServiceLine is one billed visit (loop 2400). Built from a completed,
// EVV-verified visit and not modified afterwards.
type ServiceLine struct {
	ProcedureCode string   `json:"procedure_code"`
	Modifiers     []string `json:"modifiers,omitempty"`
	ChargeAmount  float64  `json:"charge_amount"`
	ServiceDate   string   `json:"service_date"` // YYYY-MM-DD
	Units         int      `json:"units"`
}

// Claim is the input of the 837P generator.
type Claim struct {
	ID              string          `json:"id"`
	BillingProvider BillingProvider `json:"billing_provider"`
	Subscriber      Subscriber      `json:"subscriber"`
	PayerID         string          `json:"payer_id"`
	PayerName       string          `json:"payer_name"`
	// FilingIndicator is SBR09; "CI" (commercial) when empty, "MC" for Medicaid.
	FilingIndicator string        `json:"filing_indicator,omitempty"`
	DiagnosisCodes  []string      `json:"diagnosis_codes"`
	ServiceLines    []ServiceLine `json:"service_lines"`
	TotalCharge     float64       `json:"total_charge"`
}

// LineChargeTotal sums the service-line charges.
func (c *Claim) LineChargeTotal() float64 {
	var total float64
	for _, l := range c.ServiceLines {
		total += l.ChargeAmount
	}
	return total
}
