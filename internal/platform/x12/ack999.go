package x12

import (
	"fmt"
	"strings"
)

// AckStatus is the overall disposition of an acknowledged functional group.
type AckStatus string

const (
	AckAccepted          AckStatus = "accepted"
	AckRejected          AckStatus = "rejected"
	AckPartiallyAccepted AckStatus = "partially_accepted"
)

// Acknowledgment is a decoded 999 (or legacy 997) implementation
// acknowledgment.
type Acknowledgment struct {
	InterchangeControlNumber string           `json:"interchange_control_number"`
	AcknowledgedGroup        string           `json:"acknowledged_group"` // AK102, our GS06
	Status                   AckStatus        `json:"status"`
	IncludedCount            int              `json:"included_count"`
	ReceivedCount            int              `json:"received_count"`
	AcceptedCount            int              `json:"accepted_count"`
	Transactions             []TransactionAck `json:"transactions"`
}

// TransactionAck is the AK2 loop for one transaction set.
type TransactionAck struct {
	ControlNumber string    `json:"control_number"` // AK202, our ST02
	Status        AckStatus `json:"status"`
	Errors        []string  `json:"errors,omitempty"`
}

// ackCodeStatus maps AK9/IK5/AK5 response codes.
func ackCodeStatus(code string) AckStatus {
	switch code {
	case "A", "E":
		return AckAccepted
	case "P":
		return AckPartiallyAccepted
	default:
		return AckRejected
	}
}

// Parse999 decodes a 999 or 997 acknowledgment.
func Parse999(content string) (*Acknowledgment, error) {
	content = strings.TrimLeft(normalizeLineEndings(content), " \t\n")
	delims, err := DetectDelimiters(content)
	if err != nil {
		return nil, err
	}

	ack := &Acknowledgment{Transactions: []TransactionAck{}}
	var current *TransactionAck
	var sawAK9 bool
	flush := func() {
		if current != nil {
			ack.Transactions = append(ack.Transactions, *current)
			current = nil
		}
	}

	for _, seg := range Split(content, delims) {
		switch seg.ID() {
		case "ISA":
			ack.InterchangeControlNumber = strings.TrimSpace(seg.Element(13))
		case "AK1":
			ack.AcknowledgedGroup = seg.Element(2)
		case "AK2":
			flush()
			current = &TransactionAck{ControlNumber: seg.Element(2)}
		case "IK3", "AK3":
			if current != nil {
				current.Errors = append(current.Errors,
					fmt.Sprintf("segment %s at position %s: error code %s", seg.Element(1), seg.Element(2), seg.Element(4)))
			}
		case "IK4", "AK4":
			if current != nil {
				current.Errors = append(current.Errors,
					fmt.Sprintf("element %s: error code %s", seg.Element(1), seg.Element(3)))
			}
		case "IK5", "AK5":
			if current != nil {
				current.Status = ackCodeStatus(seg.Element(1))
			}
			flush()
		case "AK9":
			sawAK9 = true
			ack.Status = ackCodeStatus(seg.Element(1))
			ack.IncludedCount = parseInt(seg.Element(2))
			ack.ReceivedCount = parseInt(seg.Element(3))
			ack.AcceptedCount = parseInt(seg.Element(4))
		}
	}
	flush()

	if !sawAK9 {
		return nil, &DecodeError{Segment: "AK9", Reason: "functional group response trailer not found"}
	}
	return ack, nil
}
