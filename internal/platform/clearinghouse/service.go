package clearinghouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/serenity/billing/internal/platform/x12"
)

const (
	defaultHistoryDays     = 30
	defaultRemittanceTTL   = 15 * time.Minute
	remittanceCacheSweep   = 10 * time.Minute
	remittanceDateLayout   = "2006-01-02"
	remittanceFileCacheKey = "remittance-file:"
)

// ControlNumberSource hands out interchange control numbers. Implementations
// must never return the same number twice for one trading partner.
type ControlNumberSource interface {
	NextControlNumber(ctx context.Context) (int, error)
}

// counterSource is the in-process fallback used when no persistent sequence
// is injected.
type counterSource struct {
	n atomic.Int64
}

func (c *counterSource) NextControlNumber(context.Context) (int, error) {
	return int(c.n.Add(1)), nil
}

// Service runs the submission workflow: validate, generate, transmit, then
// poll and fetch. Construct one at startup and share it; it is safe for
// concurrent use.
type Service struct {
	client    *client
	validator *x12.Validator
	envelope  x12.GeneratorConfig
	sequence  ControlNumberSource
	files     *gocache.Cache
	fileTTL   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the HTTP client used for clearinghouse calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client.http = c }
}

// WithControlNumbers injects a persistent control number sequence.
func WithControlNumbers(src ControlNumberSource) Option {
	return func(s *Service) { s.sequence = src }
}

// WithRemittanceCacheTTL sets how long downloaded 835 files are kept in
// memory. Zero or negative disables the cache.
func WithRemittanceCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.fileTTL = ttl }
}

// WithClock overrides the time source for envelopes and history windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service. envelope supplies the ISA/GS identities; its
// ControlNumber is ignored and drawn from the sequence per submission. An
// empty envelope SenderID falls back to the configured submitter ID.
func NewService(cfg Config, envelope x12.GeneratorConfig, logger zerolog.Logger, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if envelope.SenderID == "" {
		envelope.SenderID = cfg.SubmitterID
	}

	s := &Service{
		client:    newClient(cfg, nil, logger),
		validator: x12.NewValidator(),
		envelope:  envelope,
		sequence:  &counterSource{},
		fileTTL:   defaultRemittanceTTL,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fileTTL > 0 {
		s.files = gocache.New(s.fileTTL, remittanceCacheSweep)
	}
	return s
}

// Configured reports whether the trading partner credentials are present.
func (s *Service) Configured() bool {
	return s.client.cfg.Configured()
}

type submitRequest struct {
	SubmitterID    string   `json:"submitterId"`
	ControlNumber  string   `json:"controlNumber"`
	ClaimIDs       []string `json:"claimIds"`
	UsageIndicator string   `json:"usageIndicator"`
	X12            string   `json:"x12"`
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// SubmitClaims validates every claim, encodes them into one interchange and
// transmits it. Any validation error aborts the whole batch before
// transmission.
func (s *Service) SubmitClaims(ctx context.Context, claims []*x12.Claim) (*Submission, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}

	invalid := &ValidationError{}
	ids := make([]string, 0, len(claims))
	for i, claim := range claims {
		res := s.validator.Validate(claim)
		var id string
		if claim != nil {
			id = claim.ID
			ids = append(ids, id)
		}
		if !res.IsValid {
			invalid.Add(id, i, res.Errors)
		}
	}
	if len(invalid.ClaimErrors) > 0 {
		return nil, invalid
	}

	controlNumber, err := s.sequence.NextControlNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("clearinghouse: next control number: %w", err)
	}

	env := s.envelope
	env.ControlNumber = controlNumber
	env.Now = s.now
	gen := x12.NewGenerator(env)

	var content string
	if len(claims) == 1 {
		content = gen.Generate837P(claims[0])
	} else {
		content = gen.Generate837PBatch(claims)
	}

	usage := "P"
	if env.IsTest {
		usage = "T"
	}
	body, err := s.client.do(ctx, "submit claims", http.MethodPost, "/claims/submissions", submitRequest{
		SubmitterID:    s.client.cfg.SubmitterID,
		ControlNumber:  x12.PadNumber(controlNumber, 9),
		ClaimIDs:       ids,
		UsageIndicator: usage,
		X12:            content,
	})
	if err != nil {
		return nil, err
	}

	var resp submitResponse
	if err := decode("submit claims", body, &resp); err != nil {
		return nil, err
	}
	if resp.SubmissionID == "" {
		return nil, &TransportError{Op: "submit claims", Err: errors.New("response carried no submission id")}
	}

	status := StatusSubmitted
	if resp.Status != "" {
		status = ParseStatus(resp.Status)
	}

	s.logger.Info().
		Str("submission_id", resp.SubmissionID).
		Int("control_number", controlNumber).
		Int("claims", len(claims)).
		Str("status", string(status)).
		Msg("claims submitted")

	return &Submission{
		ID:            resp.SubmissionID,
		Status:        status,
		ControlNumber: controlNumber,
		ClaimIDs:      ids,
		Message:       resp.Message,
		SubmittedAt:   s.now(),
		Content:       content,
	}, nil
}

type ackResponse struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
	// X12 holds the raw 999 when the clearinghouse has one.
	X12 string `json:"x12"`
}

// CheckAcknowledgment polls the acknowledgment of one submission. A raw 999
// in the response takes precedence over the clearinghouse's status field.
func (s *Service) CheckAcknowledgment(ctx context.Context, submissionID string) (*AcknowledgmentResult, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if submissionID == "" {
		return nil, errors.New("clearinghouse: submission id is required")
	}

	var resp ackResponse
	path := "/claims/submissions/" + url.PathEscape(submissionID) + "/acknowledgment"
	if err := s.client.getJSON(ctx, "check acknowledgment", path, &resp); err != nil {
		return nil, err
	}

	result := &AcknowledgmentResult{
		SubmissionID: submissionID,
		Errors:       resp.Errors,
		CheckedAt:    s.now(),
	}

	if resp.X12 != "" {
		ack, err := x12.Parse999(resp.X12)
		if err != nil {
			return nil, fmt.Errorf("clearinghouse: acknowledgment for %s: %w", submissionID, err)
		}
		result.Acknowledgment = ack
		result.Status = SubmissionStatus(ack.Status)
		for _, tx := range ack.Transactions {
			for _, e := range tx.Errors {
				result.Errors = append(result.Errors, fmt.Sprintf("ST %s: %s", tx.ControlNumber, e))
			}
		}
	} else {
		result.Status = ParseStatus(resp.Status)
		if result.Status == StatusSubmitted {
			result.Status = StatusPending
		}
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Str("status", string(result.Status)).
		Msg("acknowledgment checked")
	return result, nil
}

type wireRemittance struct {
	ID            string    `json:"remittanceId"`
	PayerID       string    `json:"payerId"`
	PayerName     string    `json:"payerName"`
	PaymentAmount float64   `json:"paymentAmount"`
	PaymentDate   string    `json:"paymentDate"`
	CheckNumber   string    `json:"checkNumber"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

type remittanceListResponse struct {
	Remittances []wireRemittance `json:"remittances"`
}

// GetRemittanceAdvice lists the 835 files received in r.
func (s *Service) GetRemittanceAdvice(ctx context.Context, r DateRange) ([]RemittanceSummary, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		return nil, fmt.Errorf("clearinghouse: invalid date range %s..%s",
			r.Start.Format(remittanceDateLayout), r.End.Format(remittanceDateLayout))
	}

	q := url.Values{}
	q.Set("startDate", r.Start.Format(remittanceDateLayout))
	q.Set("endDate", r.End.Format(remittanceDateLayout))

	var resp remittanceListResponse
	if err := s.client.getJSON(ctx, "list remittances", "/remittances?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]RemittanceSummary, 0, len(resp.Remittances))
	for _, w := range resp.Remittances {
		sum := RemittanceSummary{
			ID:            w.ID,
			PayerID:       w.PayerID,
			PayerName:     w.PayerName,
			PaymentAmount: w.PaymentAmount,
			CheckNumber:   w.CheckNumber,
			ReceivedAt:    w.ReceivedAt,
		}
		if t, err := time.Parse(remittanceDateLayout, w.PaymentDate); err == nil {
			sum.PaymentDate = &t
		}
		out = append(out, sum)
	}
	return out, nil
}

// DownloadRemittanceFile returns the raw 835 text of one remittance. Files
// are immutable once issued, so repeated downloads are served from memory.
func (s *Service) DownloadRemittanceFile(ctx context.Context, remittanceID string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if remittanceID == "" {
		return "", errors.New("clearinghouse: remittance id is required")
	}

	key := remittanceFileCacheKey + remittanceID
	if s.files != nil {
		if v, ok := s.files.Get(key); ok {
			return v.(string), nil
		}
	}

	body, err := s.client.do(ctx, "download remittance", http.MethodGet,
		"/remittances/"+url.PathEscape(remittanceID)+"/file", nil)
	if err != nil {
		return "", err
	}

	content := string(body)
	if s.files != nil {
		s.files.Set(key, content, gocache.DefaultExpiration)
	}
	return content, nil
}

type historyResponse struct {
	Submissions []struct {
		SubmissionID string    `json:"submissionId"`
		Status       string    `json:"status"`
		ClaimCount   int       `json:"claimCount"`
		SubmittedAt  time.Time `json:"submittedAt"`
	} `json:"submissions"`
}

// GetSubmissionHistory lists submissions made in the last days days. Values
// below one default to thirty.
func (s *Service) GetSubmissionHistory(ctx context.Context, days int) ([]HistoryEntry, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if days < 1 {
		days = defaultHistoryDays
	}

	since := s.now().AddDate(0, 0, -days)
	q := url.Values{}
	q.Set("since", since.Format(remittanceDateLayout))

	var resp historyResponse
	if err := s.client.getJSON(ctx, "submission history", "/claims/submissions?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(resp.Submissions))
	for _, sub := range resp.Submissions {
		out = append(out, HistoryEntry{
			SubmissionID: sub.SubmissionID,
			Status:       ParseStatus(sub.Status),
			ClaimCount:   sub.ClaimCount,
			SubmittedAt:  sub.SubmittedAt,
		})
	}
	return out, nil
}
