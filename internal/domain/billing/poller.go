package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/serenity/billing/internal/platform/clearinghouse"
)

// AckPoller refreshes pending acknowledgments on a cron schedule. Runs never
// overlap; a tick that fires while the previous run is active is skipped.
type AckPoller struct {
	cron    *cron.Cron
	svc     *Service
	logger  zerolog.Logger
	timeout time.Duration
}

// NewAckPoller parses schedule (standard five-field cron or a descriptor
// such as "@every 15m"). timeout bounds each run.
func NewAckPoller(svc *Service, schedule string, timeout time.Duration, logger zerolog.Logger) (*AckPoller, error) {
	p := &AckPoller{svc: svc, logger: logger, timeout: timeout}
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("ack poll schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *AckPoller) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running poll to finish or ctx to
// expire.
func (p *AckPoller) Stop(ctx context.Context) error {
	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AckPoller) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	settled, err := p.svc.PollPendingAcknowledgments(ctx)
	if errors.Is(err, clearinghouse.ErrNotConfigured) {
		p.logger.Debug().Msg("acknowledgment poll skipped: clearinghouse not configured")
		return
	}

	evt := p.logger.Info()
	if err != nil {
		evt = p.logger.Warn().Err(err)
	}
	evt.Int("settled", settled).Dur("duration", time.Since(start)).Msg("acknowledgment poll")
}
