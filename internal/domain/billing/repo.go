package billing

import (
	"context"

	"github.com/google/uuid"
)

// SubmissionRepository persists the submission ledger. NextControlNumber
// makes it a clearinghouse.ControlNumberSource.
type SubmissionRepository interface {
	Create(ctx context.Context, s *SubmissionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*SubmissionRecord, error)
	GetByExternalID(ctx context.Context, externalID string) (*SubmissionRecord, error)
	UpdateAcknowledgment(ctx context.Context, s *SubmissionRecord) error
	List(ctx context.Context, status string, limit, offset int) ([]*SubmissionRecord, int, error)
	ListAwaitingAcknowledgment(ctx context.Context, limit int) ([]*SubmissionRecord, error)
	CountByStatus(ctx context.Context) (map[string]StatusCount, error)
	NextControlNumber(ctx context.Context) (int, error)
}

type RemittanceRepository interface {
	Create(ctx context.Context, r *RemittanceRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*RemittanceRecord, error)
	GetByExternalID(ctx context.Context, externalID string) (*RemittanceRecord, error)
	List(ctx context.Context, limit, offset int) ([]*RemittanceRecord, int, error)
	Totals(ctx context.Context) (RemittanceTotals, error)
}
