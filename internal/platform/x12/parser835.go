package x12

import (
	"strings"
)

// remitState is the position of the 835 decoder inside the claim loops. It
// decides where a CAS segment lands.
type remitState int

const (
	stateNoClaim remitState = iota
	stateInClaim
	stateInServiceLine
)

func (s remitState) String() string {
	switch s {
	case stateInClaim:
		return "in-claim"
	case stateInServiceLine:
		return "in-service-line"
	default:
		return "no-claim"
	}
}

// remitDecoder walks 835 segments in order.
//
//	no-claim        --CLP--> in-claim
//	in-claim        --SVC--> in-service-line
//	in-service-line --SVC--> in-service-line (new line)
//	any             --CLP--> in-claim        (previous claim closed)
//	any             --SE---> no-claim        (open claim closed)
//
// CAS attaches to the open service line in in-service-line, to the claim in
// in-claim, and is dropped in no-claim.
type remitDecoder struct {
	delims Delimiters
	data   *EDI835Data
	state  remitState
	claim  *ClaimPayment
	line   *ServicePayment

	sawISA bool
	sawBPR bool
}

// Parse835 decodes an 835 remittance advice. The delimiters are taken from
// the ISA header. It fails when ISA or BPR is missing because the payment
// cannot be posted without them.
func Parse835(content string) (*EDI835Data, error) {
	content = strings.TrimLeft(normalizeLineEndings(content), " \t\n")
	delims, err := DetectDelimiters(content)
	if err != nil {
		return nil, err
	}

	dec := &remitDecoder{
		delims: delims,
		data:   &EDI835Data{Claims: []ClaimPayment{}},
	}
	for _, seg := range Split(content, delims) {
		dec.handle(seg)
	}
	// Files truncated before SE still yield their last claim.
	dec.closeClaim()

	if !dec.sawISA {
		return nil, &DecodeError{Segment: "ISA", Reason: "interchange control header not found"}
	}
	if !dec.sawBPR {
		return nil, &DecodeError{Segment: "BPR", Reason: "financial information segment not found"}
	}
	return dec.data, nil
}

func (d *remitDecoder) handle(seg Segment) {
	switch seg.ID() {
	case "ISA":
		d.sawISA = true
		d.data.InterchangeControlNumber = strings.TrimSpace(seg.Element(13))
	case "GS":
		d.data.GroupControlNumber = seg.Element(6)
	case "ST":
		d.data.TransactionControlNumber = seg.Element(2)
	case "BPR":
		d.sawBPR = true
		d.data.Payment.TotalAmount = parseAmount(seg.Element(2))
		d.data.Payment.CreditDebitFlag = seg.Element(3)
		d.data.Payment.PaymentMethod = seg.Element(4)
		d.data.Payment.PaymentDate = parseDatePtr(seg.Element(16))
	case "TRN":
		d.data.Payment.CheckNumber = seg.Element(2)
	case "N1":
		d.handleParty(seg)
	case "CLP":
		d.openClaim(seg)
	case "NM1":
		if seg.Element(1) == "QC" && d.claim != nil {
			d.claim.PatientLastName = seg.Element(3)
			d.claim.PatientFirstName = seg.Element(4)
			d.claim.PatientID = seg.Element(9)
		}
	case "SVC":
		d.openServiceLine(seg)
	case "DTM":
		d.handleDate(seg)
	case "CAS":
		d.handleAdjustment(seg)
	case "SE":
		d.closeClaim()
	}
}

func (d *remitDecoder) handleParty(seg Segment) {
	switch seg.Element(1) {
	case "PR":
		d.data.Payment.PayerName = seg.Element(2)
		d.data.Payment.PayerID = seg.Element(4)
	case "PE":
		d.data.Payment.PayeeName = seg.Element(2)
		d.data.Payment.PayeeNPI = seg.Element(4)
	}
}

func (d *remitDecoder) openClaim(seg Segment) {
	d.closeClaim()
	d.claim = &ClaimPayment{
		ClaimID:                 seg.Element(1),
		StatusCode:              parseInt(seg.Element(2)),
		ChargedAmount:           parseAmount(seg.Element(3)),
		PaidAmount:              parseAmount(seg.Element(4)),
		PatientResponsibility:   parseAmount(seg.Element(5)),
		FilingIndicator:         seg.Element(6),
		PayerClaimControlNumber: seg.Element(7),
		ServiceLines:            []ServicePayment{},
		Adjustments:             []Adjustment{},
	}
	d.state = stateInClaim
}

func (d *remitDecoder) openServiceLine(seg Segment) {
	if d.state == stateNoClaim {
		return
	}
	d.closeServiceLine()

	// SVC01 may be a composite; the procedure code is its last component.
	parts := strings.Split(seg.Element(1), string(d.delims.Component))
	code := parts[len(parts)-1]
	units := 1.0
	if u := seg.Element(5); u != "" {
		units = parseAmount(u)
	}
	d.line = &ServicePayment{
		ProcedureCode: code,
		ChargedAmount: parseAmount(seg.Element(2)),
		PaidAmount:    parseAmount(seg.Element(3)),
		Units:         units,
		Adjustments:   []Adjustment{},
	}
	d.state = stateInServiceLine
}

func (d *remitDecoder) handleDate(seg Segment) {
	switch seg.Element(1) {
	case "472":
		if d.state == stateInServiceLine {
			d.line.ServiceDate = parseDatePtr(seg.Element(2))
		}
	case "232":
		if d.claim != nil {
			d.claim.StatementFrom = parseDatePtr(seg.Element(2))
		}
	case "233":
		if d.claim != nil {
			d.claim.StatementTo = parseDatePtr(seg.Element(2))
		}
	}
}

// handleAdjustment decodes CAS01 followed by up to six
// reason/amount/quantity triplets.
func (d *remitDecoder) handleAdjustment(seg Segment) {
	group := seg.Element(1)
	var adjs []Adjustment
	for i := 2; i+1 < len(seg); i += 3 {
		reason := seg.Element(i)
		if reason == "" {
			continue
		}
		adj := Adjustment{
			GroupCode:  group,
			ReasonCode: reason,
			Amount:     parseAmount(seg.Element(i + 1)),
		}
		if q := seg.Element(i + 2); q != "" {
			qty := parseAmount(q)
			adj.Quantity = &qty
		}
		adjs = append(adjs, adj)
	}

	switch d.state {
	case stateInServiceLine:
		d.line.Adjustments = append(d.line.Adjustments, adjs...)
	case stateInClaim:
		d.claim.Adjustments = append(d.claim.Adjustments, adjs...)
	}
}

func (d *remitDecoder) closeServiceLine() {
	if d.line == nil {
		return
	}
	d.claim.ServiceLines = append(d.claim.ServiceLines, *d.line)
	d.line = nil
	d.state = stateInClaim
}

func (d *remitDecoder) closeClaim() {
	if d.claim == nil {
		return
	}
	d.closeServiceLine()
	d.data.Claims = append(d.data.Claims, *d.claim)
	d.claim = nil
	d.line = nil
	d.state = stateNoClaim
}
