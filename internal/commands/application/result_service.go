package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	commands "tpv-fleet/internal/commands/domain"
	"tpv-fleet/internal/notify"
	"tpv-fleet/internal/observability/metrics"
	terminals "tpv-fleet/internal/terminals/domain"
)

// ResultInput is a device-reported execution result.
type ResultInput struct {
	CommandID  string    `json:"command_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	ReportedAt time.Time `json:"reported_at,omitempty"`
}

// ResultService applies device acknowledgements to the lifecycle and the
// terminal registry. Devices on flaky links skip lifecycle notices, so
// every handler walks the command forward through the states the missing
// notices would have covered.
type ResultService struct {
	queue      *QueueService
	terminals  TerminalDirectory
	aggregator *BulkAggregator
	notifier   notify.Notifier
	clock      Clock
	logger     *log.Logger
}

// ResultOption configures the result service.
type ResultOption func(*ResultService)

// WithResultClock overrides the clock.
func WithResultClock(clock Clock) ResultOption {
	return func(s *ResultService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithResultNotifier sets the best-effort observer notifier.
func WithResultNotifier(notifier notify.Notifier) ResultOption {
	return func(s *ResultService) { s.notifier = notifier }
}

// WithResultLogger sets the logger.
func WithResultLogger(logger *log.Logger) ResultOption {
	return func(s *ResultService) { s.logger = logger }
}

// NewResultService constructs a result service.
func NewResultService(queue *QueueService, terminalDir TerminalDirectory, aggregator *BulkAggregator, opts ...ResultOption) (*ResultService, error) {
	if queue == nil {
		return nil, errors.New("result service: nil queue service")
	}
	if terminalDir == nil {
		return nil, errors.New("result service: nil terminal directory")
	}
	service := &ResultService{
		queue:      queue,
		terminals:  terminalDir,
		aggregator: aggregator,
		clock:      SystemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleAck marks a command as received by the device.
func (s *ResultService) HandleAck(ctx context.Context, commandID string) error {
	_, err := s.queue.Transition(ctx, commandID, commands.StatusReceived,
		[]string{commands.StatusSent}, commands.StatusUpdate{}, "acknowledged by terminal")
	if errors.Is(err, commands.ErrInvalidTransition) {
		// Late or duplicate ACK. The command already moved on.
		return nil
	}
	return err
}

// HandleStarted marks a command as executing, walking it through RECEIVED
// first when the device skipped the acknowledgement.
func (s *ResultService) HandleStarted(ctx context.Context, commandID string) error {
	cmd, err := s.queue.GetCommand(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd.Status == commands.StatusSent {
		if err := s.HandleAck(ctx, commandID); err != nil {
			return err
		}
	}
	_, err = s.queue.Transition(ctx, commandID, commands.StatusExecuting,
		[]string{commands.StatusReceived}, commands.StatusUpdate{}, "execution started")
	if errors.Is(err, commands.ErrInvalidTransition) {
		return nil
	}
	return err
}

// HandleResult finalizes a command from a device result, applies the side
// effects a successful command has on the terminal registry, and refreshes
// the parent bulk operation.
func (s *ResultService) HandleResult(ctx context.Context, input ResultInput) error {
	if input.CommandID == "" {
		return fmt.Errorf("%w: command_id required", commands.ErrValidation)
	}
	switch input.Status {
	case commands.ResultSuccess, commands.ResultPartialSuccess, commands.ResultFailure, commands.ResultTimeout:
	default:
		return fmt.Errorf("%w: unknown result status %q", commands.ErrValidation, input.Status)
	}

	cmd, err := s.queue.GetCommand(ctx, input.CommandID)
	if err != nil {
		return err
	}
	if commands.IsTerminalStatus(cmd.Status) {
		// Duplicate delivery from the event feed.
		return nil
	}
	if cmd.Status == commands.StatusSent || cmd.Status == commands.StatusReceived {
		if err := s.HandleStarted(ctx, input.CommandID); err != nil {
			return err
		}
	}

	target := commands.StatusCompleted
	if input.Status != commands.ResultSuccess && input.Status != commands.ResultPartialSuccess {
		target = commands.StatusFailed
	}
	executedAt := input.ReportedAt
	if executedAt.IsZero() {
		executedAt = s.clock.Now()
	}
	message := input.Message
	if message == "" {
		message = "result: " + input.Status
	}
	final, err := s.queue.Transition(ctx, input.CommandID, target,
		[]string{commands.StatusExecuting},
		commands.StatusUpdate{
			ResultStatus:  input.Status,
			ResultMessage: message,
			ExecutedAt:    executedAt,
		}, message)
	if err != nil {
		if errors.Is(err, commands.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	metrics.IncCommandResult(final.Status)
	metrics.ObserveCommandResolution(final.Status, executedAt.Sub(final.CreatedAt))

	if final.Status == commands.StatusCompleted && input.Status == commands.ResultSuccess {
		updated, err := s.applySideEffects(ctx, final)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("terminal update after %s failed: terminal=%s: %v", final.Type, final.TerminalID, err)
			}
		} else if updated != nil {
			s.broadcastTerminalStatus(ctx, updated)
		}
	}
	if s.aggregator != nil && final.BulkOperationID != "" {
		if err := s.aggregator.Recompute(ctx, final.BulkOperationID); err != nil {
			return err
		}
	}
	return nil
}

// applySideEffects mirrors a confirmed command outcome into the terminal
// registry. Only a success report mutates the registry. A nil terminal
// with a nil error means the command type has no side effect.
func (s *ResultService) applySideEffects(ctx context.Context, cmd *commands.Command) (*terminals.Terminal, error) {
	now := s.clock.Now()
	var update terminals.Update
	switch cmd.Type {
	case commands.TypeLock:
		locked := true
		update.IsLocked = &locked
		update.LockedAt = &now
	case commands.TypeUnlock, commands.TypeFactoryReset:
		locked := false
		var zero time.Time
		update.IsLocked = &locked
		update.LockedAt = &zero
	case commands.TypeMaintenance:
		status := terminals.OperatingMaintenance
		update.OperatingStatus = &status
	case commands.TypeExitMaintenance, commands.TypeReactivate:
		status := terminals.OperatingActive
		update.OperatingStatus = &status
	case commands.TypeShutdown:
		status := terminals.OperatingInactive
		update.OperatingStatus = &status
	default:
		return nil, nil
	}
	return s.terminals.Apply(ctx, cmd.TerminalID, update)
}

// broadcastTerminalStatus pushes the terminal's post-command state to live
// observers.
func (s *ResultService) broadcastTerminalStatus(ctx context.Context, terminal *terminals.Terminal) {
	if s.notifier == nil || terminal == nil {
		return
	}
	status := terminal.OperatingStatus
	if terminal.IsLocked {
		status = "locked"
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindTerminalStatus,
		VenueID:    terminal.VenueID,
		TerminalID: terminal.ID,
		Status:     status,
		At:         s.clock.Now(),
	})
}
