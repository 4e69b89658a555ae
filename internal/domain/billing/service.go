package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/x12"
)

// pollBatchSize caps how many submissions one poll run checks.
const pollBatchSize = 100

// Clearinghouse is the submission workflow the service drives. It is
// satisfied by *clearinghouse.Service.
type Clearinghouse interface {
	Configured() bool
	SubmitClaims(ctx context.Context, claims []*x12.Claim) (*clearinghouse.Submission, error)
	CheckAcknowledgment(ctx context.Context, submissionID string) (*clearinghouse.AcknowledgmentResult, error)
	GetRemittanceAdvice(ctx context.Context, r clearinghouse.DateRange) ([]clearinghouse.RemittanceSummary, error)
	DownloadRemittanceFile(ctx context.Context, remittanceID string) (string, error)
	GetSubmissionHistory(ctx context.Context, days int) ([]clearinghouse.HistoryEntry, error)
}

// GeneratedFile is an 837P rendered without transmission.
type GeneratedFile struct {
	ControlNumber int    `json:"control_number"`
	ClaimCount    int    `json:"claim_count"`
	Content       string `json:"content"`
}

type Service struct {
	submissions SubmissionRepository
	remittances RemittanceRepository
	ch          Clearinghouse
	validator   *x12.Validator
	envelope    x12.GeneratorConfig
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService wires the ledger to the clearinghouse. envelope supplies the
// ISA/GS identities for locally generated files.
func NewService(subs SubmissionRepository, remits RemittanceRepository, ch Clearinghouse, envelope x12.GeneratorConfig, logger zerolog.Logger) *Service {
	return &Service{
		submissions: subs,
		remittances: remits,
		ch:          ch,
		validator:   x12.NewValidator(),
		envelope:    envelope,
		logger:      logger,
		now:         time.Now,
	}
}

// -- Claims --

func (s *Service) ValidateClaim(claim *x12.Claim) x12.ValidationResult {
	return s.validator.Validate(claim)
}

// GenerateClaims validates and renders claims as one interchange using the
// next ledger control number. Nothing is transmitted.
func (s *Service) GenerateClaims(ctx context.Context, claims []*x12.Claim) (*GeneratedFile, error) {
	if len(claims) == 0 {
		return nil, clearinghouse.ErrNoClaims
	}
	invalid := &clearinghouse.ValidationError{}
	for i, claim := range claims {
		if res := s.validator.Validate(claim); !res.IsValid {
			var id string
			if claim != nil {
				id = claim.ID
			}
			invalid.Add(id, i, res.Errors)
		}
	}
	if len(invalid.ClaimErrors) > 0 {
		return nil, invalid
	}

	n, err := s.submissions.NextControlNumber(ctx)
	if err != nil {
		return nil, err
	}
	env := s.envelope
	env.ControlNumber = n
	env.Now = s.now
	gen := x12.NewGenerator(env)

	return &GeneratedFile{
		ControlNumber: n,
		ClaimCount:    len(claims),
		Content:       gen.Generate837PBatch(claims),
	}, nil
}

// SubmitClaims transmits claims and records the submission in the ledger.
// A transmitted batch that fails to persist is logged with its clearinghouse
// ID so it can be reconciled from submission history.
func (s *Service) SubmitClaims(ctx context.Context, claims []*x12.Claim) (*SubmissionRecord, error) {
	sub, err := s.ch.SubmitClaims(ctx, claims)
	if err != nil {
		return nil, err
	}

	rec := newSubmissionRecord(sub, claims)
	if err := s.submissions.Create(ctx, rec); err != nil {
		s.logger.Error().
			Err(err).
			Str("submission_id", sub.ID).
			Int("control_number", sub.ControlNumber).
			Msg("submitted batch not recorded")
		return nil, fmt.Errorf("record submission %s: %w", sub.ID, err)
	}
	return rec, nil
}

func (s *Service) GetSubmission(ctx context.Context, id uuid.UUID) (*SubmissionRecord, error) {
	return s.submissions.GetByID(ctx, id)
}

func (s *Service) ListSubmissions(ctx context.Context, status string, limit, offset int) ([]*SubmissionRecord, int, error) {
	return s.submissions.List(ctx, status, limit, offset)
}

// RefreshAcknowledgment polls the clearinghouse for one submission. Records
// already in a terminal state are returned without a call.
func (s *Service) RefreshAcknowledgment(ctx context.Context, id uuid.UUID) (*SubmissionRecord, error) {
	rec, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	return rec, s.refresh(ctx, rec)
}

func (s *Service) refresh(ctx context.Context, rec *SubmissionRecord) error {
	ack, err := s.ch.CheckAcknowledgment(ctx, rec.ExternalID)
	if err != nil {
		return err
	}
	previous := rec.Status
	rec.applyAcknowledgment(ack)
	if err := s.submissions.UpdateAcknowledgment(ctx, rec); err != nil {
		return err
	}
	if previous != rec.Status {
		s.logger.Info().
			Str("submission_id", rec.ExternalID).
			Str("from", string(previous)).
			Str("to", string(rec.Status)).
			Msg("submission status changed")
	}
	return nil
}

// PollPendingAcknowledgments refreshes every submission still awaiting an
// acknowledgment and returns how many reached a terminal state. A failure on
// one submission does not stop the run.
func (s *Service) PollPendingAcknowledgments(ctx context.Context) (int, error) {
	if !s.ch.Configured() {
		return 0, clearinghouse.ErrNotConfigured
	}
	pending, err := s.submissions.ListAwaitingAcknowledgment(ctx, pollBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	var errs []error
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.refresh(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", rec.ExternalID).Msg("acknowledgment poll failed")
			errs = append(errs, err)
			continue
		}
		if rec.Status.Terminal() {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

// SubmissionHistory proxies the clearinghouse history for the last days days.
func (s *Service) SubmissionHistory(ctx context.Context, days int) ([]clearinghouse.HistoryEntry, error) {
	return s.ch.GetSubmissionHistory(ctx, days)
}

// -- Remittances --

// AvailableRemittances lists the 835s the clearinghouse holds for r.
func (s *Service) AvailableRemittances(ctx context.Context, r clearinghouse.DateRange) ([]clearinghouse.RemittanceSummary, error) {
	return s.ch.GetRemittanceAdvice(ctx, r)
}

// ImportRemittance downloads, decodes and records one clearinghouse 835.
// Importing the same remittance twice returns the existing record with
// created false.
func (s *Service) ImportRemittance(ctx context.Context, remittanceID string) (*RemittanceRecord, bool, error) {
	existing, err := s.remittances.GetByExternalID(ctx, remittanceID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrRemittanceNotFound) {
		return nil, false, err
	}

	content, err := s.ch.DownloadRemittanceFile(ctx, remittanceID)
	if err != nil {
		return nil, false, err
	}
	id := remittanceID
	rec, err := s.record(ctx, &id, content)
	if errors.Is(err, ErrDuplicateRemittance) {
		// A concurrent import recorded it first.
		existing, err := s.remittances.GetByExternalID(ctx, remittanceID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// PostRemittance decodes and records an 835 received outside the
// clearinghouse API.
func (s *Service) PostRemittance(ctx context.Context, content string) (*RemittanceRecord, error) {
	return s.record(ctx, nil, content)
}

func (s *Service) record(ctx context.Context, externalID *string, content string) (*RemittanceRecord, error) {
	data, err := x12.Parse835(content)
	if err != nil {
		return nil, err
	}

	rec := newRemittanceRecord(externalID, content, data)
	rec.ReceivedAt = s.now().UTC()
	if !rec.Balanced {
		s.logger.Warn().
			Str("check_number", rec.CheckNumber).
			Float64("payment_amount", rec.PaymentAmount).
			Float64("paid_total", rec.PaidTotal).
			Msg("remittance payment does not match claim payments")
	}
	if err := s.remittances.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) GetRemittance(ctx context.Context, id uuid.UUID) (*RemittanceRecord, error) {
	return s.remittances.GetByID(ctx, id)
}

func (s *Service) ListRemittances(ctx context.Context, limit, offset int) ([]*RemittanceRecord, int, error) {
	return s.remittances.List(ctx, limit, offset)
}

// -- Metrics --

// Metrics summarizes the ledger. The approval rate is accepted claims over
// claims with a terminal acknowledgment, as a percentage.
func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	byStatus, err := s.submissions.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.remittances.Totals(ctx)
	if err != nil {
		return nil, err
	}

	m := &Metrics{ByStatus: byStatus, Remittances: totals, GeneratedAt: s.now().UTC()}
	var acknowledged, accepted int
	for status, c := range byStatus {
		m.ClaimsSubmitted += c.Claims
		switch st := clearinghouse.SubmissionStatus(status); {
		case !st.Terminal():
			m.PendingClaims += c.Claims
		case st == clearinghouse.StatusRejected:
			m.RejectedClaims += c.Claims
			acknowledged += c.Claims
		case st == clearinghouse.StatusAccepted:
			accepted += c.Claims
			acknowledged += c.Claims
		default:
			acknowledged += c.Claims
		}
	}
	if acknowledged > 0 {
		m.ClaimApprovalRate = float64(accepted) / float64(acknowledged) * 100
	}
	return m, nil
}
