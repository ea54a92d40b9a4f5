package application

import (
	"context"
	"log"
	"time"
)

// Sweeper runs the scheduled-promotion and expiry loops on their own
// tickers until the context is cancelled.
type Sweeper struct {
	dispatch *DispatchService
	cfg      FleetConfig
	logger   *log.Logger
}

// NewSweeper constructs a sweeper.
func NewSweeper(dispatch *DispatchService, cfg FleetConfig, logger *log.Logger) *Sweeper {
	return &Sweeper{dispatch: dispatch, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	scheduled := time.NewTicker(s.cfg.ScheduledSweepInterval())
	expiry := time.NewTicker(s.cfg.ExpirySweepInterval())
	defer scheduled.Stop()
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduled.C:
			if n, err := s.dispatch.SweepScheduled(ctx); err != nil {
				s.logf("scheduled sweep error: %v", err)
			} else if n > 0 {
				s.logf("scheduled sweep promoted %d command(s)", n)
			}
		case <-expiry.C:
			if n, err := s.dispatch.SweepExpired(ctx); err != nil {
				s.logf("expiry sweep error: %v", err)
			} else if n > 0 {
				s.logf("expiry sweep resolved %d command(s)", n)
			}
		}
	}
}

func (s *Sweeper) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
