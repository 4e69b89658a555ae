package x12

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Implementation guide identifiers for the 837 professional claim.
const (
	Version837P          = "005010X222A1"
	interchangeVersion   = "00501"
	transactionSet837    = "837"
	functionalGroup837   = "HC"
	defaultIDQualifier   = "ZZ"
	defaultFilingCode    = "CI"
	facilityCodeHome     = "11"
	facilityQualifier    = "B"
	claimFrequencyCode   = "1"
	lineDiagnosisPointer = "1"
)

// GeneratorConfig is the per-submission envelope context. ControlNumber is
// written to ISA13, GS06 and ST02; the caller guarantees it is unique per
// trading partner within the retention window.
type GeneratorConfig struct {
	SenderID      string
	ReceiverID    string
	ControlNumber int
	IsTest        bool

	SenderQualifier   string // ISA05, "ZZ" when empty
	ReceiverQualifier string // ISA07, "ZZ" when empty
	SubmitterName     string
	SubmitterContact  string
	SubmitterPhone    string
	ReceiverName      string
	Delimiters        Delimiters

	// Now supplies the ISA/GS/BHT timestamp; time.Now when nil.
	Now func() time.Time
}

// Generator serializes claims to 837P text. It keeps no state between
// calls and is safe for concurrent use.
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator returns a Generator for one submission context.
func NewGenerator(cfg GeneratorConfig) *Generator {
	cfg.Delimiters = cfg.Delimiters.orDefault()
	if cfg.SenderQualifier == "" {
		cfg.SenderQualifier = defaultIDQualifier
	}
	if cfg.ReceiverQualifier == "" {
		cfg.ReceiverQualifier = defaultIDQualifier
	}
	if cfg.SubmitterName == "" {
		cfg.SubmitterName = cfg.SenderID
	}
	if cfg.ReceiverName == "" {
		cfg.ReceiverName = cfg.ReceiverID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{cfg: cfg}
}

// Generate837P encodes one claim in its own ISA/GS/ST envelope. The claim is
// not validated here; malformed input yields well-formed but wrong segments,
// so run Validator.Validate first.
func (g *Generator) Generate837P(claim *Claim) string {
	return g.Generate837PBatch([]*Claim{claim})
}

// Generate837PBatch encodes claims as one interchange holding one functional
// group with one ST/SE transaction set per claim. ST02 of the i-th set is
// ControlNumber+i.
func (g *Generator) Generate837PBatch(claims []*Claim) string {
	now := g.cfg.Now()
	w := newWriter(g.cfg.Delimiters)

	g.writeISA(w, now)
	w.add("GS",
		functionalGroup837,
		g.cfg.SenderID,
		g.cfg.ReceiverID,
		now.Format("20060102"),
		now.Format("1504"),
		strconv.Itoa(g.cfg.ControlNumber),
		"X",
		Version837P,
	)

	for i, claim := range claims {
		g.writeTransaction(w, claim, g.cfg.ControlNumber+i, now)
	}

	w.add("GE", strconv.Itoa(len(claims)), strconv.Itoa(g.cfg.ControlNumber))
	w.add("IEA", "1", PadNumber(g.cfg.ControlNumber, 9))
	return w.String()
}

func (g *Generator) writeISA(w *writer, now time.Time) {
	usage := "P"
	if g.cfg.IsTest {
		usage = "T"
	}
	w.addFixed("ISA",
		"00", PadRight("", 10),
		"00", PadRight("", 10),
		PadRight(g.cfg.SenderQualifier, 2), PadRight(g.cfg.SenderID, 15),
		PadRight(g.cfg.ReceiverQualifier, 2), PadRight(g.cfg.ReceiverID, 15),
		now.Format("060102"),
		now.Format("1504"),
		string(g.cfg.Delimiters.Repetition),
		interchangeVersion,
		PadNumber(g.cfg.ControlNumber, 9),
		"1",
		usage,
		string(g.cfg.Delimiters.Component),
	)
}

func (g *Generator) writeTransaction(w *writer, claim *Claim, controlNumber int, now time.Time) {
	if claim == nil {
		claim = &Claim{}
	}
	stControl := PadNumber(controlNumber, 4)
	start := w.count()

	w.add("ST", transactionSet837, stControl, Version837P)
	w.add("BHT", "0019", "00", claim.ID, now.Format("20060102"), now.Format("1504"), "CH")

	// 1000A submitter, 1000B receiver
	w.add("NM1", "41", "2", g.cfg.SubmitterName, "", "", "", "", "46", g.cfg.SenderID)
	w.add("PER", "IC", g.cfg.SubmitterContact, "TE", g.cfg.SubmitterPhone)
	w.add("NM1", "40", "2", g.cfg.ReceiverName, "", "", "", "", "46", g.cfg.ReceiverID)

	// 2000A billing provider
	bp := claim.BillingProvider
	w.add("HL", "1", "", "20", "1")
	if bp.Taxonomy != "" {
		w.add("PRV", "BI", "PXC", bp.Taxonomy)
	}
	w.add("NM1", "85", "2", bp.Name, "", "", "", "", "XX", bp.NPI)
	writeAddress(w, bp.Address)
	w.add("REF", "EI", bp.TaxID)

	// 2000B subscriber, self-insured, no dependent levels
	sub := claim.Subscriber
	filing := claim.FilingIndicator
	if filing == "" {
		filing = defaultFilingCode
	}
	w.add("HL", "2", "1", "22", "0")
	w.add("SBR", "P", "18", "", "", "", "", "", "", filing)
	w.add("NM1", "IL", "1", sub.LastName, sub.FirstName, "", "", "", "MI", sub.MemberID)
	writeAddress(w, sub.Address)
	w.add("DMG", "D8", FormatDate(sub.DateOfBirth), strings.ToUpper(sub.Gender))
	w.add("NM1", "PR", "2", claim.PayerName, "", "", "", "", "PI", claim.PayerID)

	// 2300 claim
	w.add("CLM",
		claim.ID,
		FormatAmount(claim.TotalCharge),
		"", "",
		w.composite(facilityCodeHome, facilityQualifier, claimFrequencyCode),
		"Y", "A", "Y", "Y",
	)
	if hi := g.diagnosisElements(w, claim.DiagnosisCodes); len(hi) > 0 {
		w.add("HI", hi...)
	}

	// 2400 service lines
	for i, line := range claim.ServiceLines {
		n := i + 1
		procedure := append([]string{"HC", line.ProcedureCode}, line.Modifiers...)
		w.add("LX", strconv.Itoa(n))
		w.add("SV1",
			w.composite(procedure...),
			FormatAmount(line.ChargeAmount),
			"UN",
			strconv.Itoa(line.Units),
			"", "",
			lineDiagnosisPointer,
		)
		w.add("DTP", "472", "D8", FormatDate(line.ServiceDate))
		w.add("REF", "6R", fmt.Sprintf("%s-%d", claim.ID, n))
	}

	// SE counts every segment from ST through SE inclusive.
	w.add("SE", strconv.Itoa(w.count()-start+1), stControl)
}

// diagnosisElements qualifies the principal diagnosis BK and the rest BF,
// stripping the ICD-10 decimal point.
func (g *Generator) diagnosisElements(w *writer, codes []string) []string {
	elems := make([]string, 0, len(codes))
	for i, code := range codes {
		qualifier := "BF"
		if i == 0 {
			qualifier = "BK"
		}
		elems = append(elems, w.composite(qualifier, strings.ReplaceAll(strings.TrimSpace(code), ".", "")))
	}
	return elems
}

func writeAddress(w *writer, a Address) {
	w.add("N3", a.Line1, a.Line2)
	w.add("N4", a.City, a.State, a.PostalCode)
}
