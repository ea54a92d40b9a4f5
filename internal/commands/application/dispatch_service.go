package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tpv-fleet/internal/channel"
	commands "tpv-fleet/internal/commands/domain"
	"tpv-fleet/internal/observability/metrics"
	terminals "tpv-fleet/internal/terminals/domain"
)

// wireCommand is the payload handed to the terminal channel.
type wireCommand struct {
	CommandID     string          `json:"command_id"`
	CorrelationID string          `json:"correlation_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	RequiresPin   bool            `json:"requires_pin"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// BulkInput represents a bulk fan-out request.
type BulkInput struct {
	VenueID         string          `json:"venue_id"`
	TerminalIDs     []string        `json:"terminal_ids"`
	Type            commands.Type   `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ScheduledFor    time.Time       `json:"scheduled_for,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	RequestedByName string          `json:"requested_by_name,omitempty"`
	Confirmed       bool            `json:"confirmed,omitempty"`
}

// BulkTerminalResult reports the per-terminal outcome of the fan-out loop.
type BulkTerminalResult struct {
	TerminalID string `json:"terminal_id"`
	CommandID  string `json:"command_id,omitempty"`
	Queued     bool   `json:"queued"`
	Error      string `json:"error,omitempty"`
}

// BulkResult is returned after a bulk fan-out.
type BulkResult struct {
	BulkOperationID string               `json:"bulk_operation_id"`
	Status          string               `json:"status"`
	Total           int                  `json:"total"`
	Failed          int                  `json:"failed"`
	Results         []BulkTerminalResult `json:"results"`
}

// DispatchService owns the wire side of the lifecycle: handing commands to
// terminals, bulk fan-out, and the scheduled and expiry sweeps.
type DispatchService struct {
	queue      *QueueService
	cmds       CommandStore
	bulks      BulkStore
	terminals  TerminalDirectory
	aggregator *BulkAggregator
	wire       channel.Channel
	cfg        FleetConfig
	clock      Clock
	logger     *log.Logger
}

// DispatchOption configures the dispatch service.
type DispatchOption func(*DispatchService)

// WithDispatchClock overrides the clock.
func WithDispatchClock(clock Clock) DispatchOption {
	return func(s *DispatchService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(logger *log.Logger) DispatchOption {
	return func(s *DispatchService) { s.logger = logger }
}

// NewDispatchService constructs a dispatch service.
func NewDispatchService(
	queue *QueueService,
	cmds CommandStore,
	bulks BulkStore,
	terminalDir TerminalDirectory,
	aggregator *BulkAggregator,
	wire channel.Channel,
	cfg FleetConfig,
	opts ...DispatchOption,
) (*DispatchService, error) {
	if queue == nil {
		return nil, errors.New("dispatch service: nil queue service")
	}
	if cmds == nil {
		return nil, errors.New("dispatch service: nil command store")
	}
	if bulks == nil {
		return nil, errors.New("dispatch service: nil bulk store")
	}
	if terminalDir == nil {
		return nil, errors.New("dispatch service: nil terminal directory")
	}
	if wire == nil {
		return nil, errors.New("dispatch service: nil channel")
	}
	service := &DispatchService{
		queue:      queue,
		cmds:       cmds,
		bulks:      bulks,
		terminals:  terminalDir,
		aggregator: aggregator,
		wire:       wire,
		cfg:        cfg,
		clock:      SystemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ExecuteCommand queues a command and, when the terminal is online and the
// command is due, delivers it immediately.
func (s *DispatchService) ExecuteCommand(ctx context.Context, input QueueInput) (*QueueResult, error) {
	result, err := s.queue.QueueCommand(ctx, input)
	if err != nil {
		return nil, err
	}
	if result.Status != commands.StatusQueued {
		return result, nil
	}
	sent, err := s.SendToTerminal(ctx, result.CommandID)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("immediate delivery failed, command stays queued: command=%s: %v", result.CommandID, err)
		}
		return result, nil
	}
	if sent {
		result.Status = commands.StatusSent
	}
	return result, nil
}

// SendToTerminal delivers one queued command over the channel. It returns
// false without error when the command is no longer deliverable: terminal
// offline, command expired, attempts exhausted, or a concurrent transition
// won the race.
func (s *DispatchService) SendToTerminal(ctx context.Context, commandID string) (bool, error) {
	cmd, err := s.queue.GetCommand(ctx, commandID)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	if cmd.Status != commands.StatusPending && cmd.Status != commands.StatusQueued {
		return false, nil
	}
	if !cmd.Due(now) || cmd.ExpiredAt(now) {
		return false, nil
	}
	if cmd.MaxAttempts > 0 && cmd.Attempts >= cmd.MaxAttempts {
		metrics.IncDeliverySkip()
		return false, nil
	}
	terminal, err := s.terminals.Get(ctx, cmd.TerminalID)
	if err != nil {
		return false, err
	}
	if terminal == nil || !terminal.Online(now, s.cfg.PresenceThreshold()) {
		return false, nil
	}

	payload, err := json.Marshal(wireCommand{
		CommandID:     cmd.ID,
		CorrelationID: cmd.CorrelationID,
		Type:          string(cmd.Type),
		Payload:       cmd.Payload,
		Priority:      cmd.Priority,
		RequiresPin:   cmd.RequiresPin,
		ExpiresAt:     cmd.ExpiresAt,
	})
	if err != nil {
		return false, err
	}
	target := channel.Target{VenueID: cmd.VenueID, TerminalID: cmd.TerminalID}
	if err := s.wire.Publish(ctx, target, "command.execute", payload); err != nil {
		metrics.IncCommandSend("error")
		return false, fmt.Errorf("publish command %s: %w", cmd.ID, err)
	}

	_, err = s.queue.Transition(ctx, cmd.ID, commands.StatusSent,
		[]string{commands.StatusPending, commands.StatusQueued},
		commands.StatusUpdate{}, "delivered to terminal")
	if err != nil {
		// The publish went out but a concurrent transition won. The device
		// will report against the final state and the CAS keeps it safe.
		if errors.Is(err, commands.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	metrics.IncCommandSend("ok")
	return true, nil
}

// ExecuteBulk fans a request out to each target terminal. Venue membership
// is verified up front: a terminal outside the venue rejects the whole call
// before anything is persisted. After that, per-terminal enqueue failures
// are isolated and tallied.
func (s *DispatchService) ExecuteBulk(ctx context.Context, input BulkInput) (*BulkResult, error) {
	if len(input.TerminalIDs) == 0 {
		return nil, fmt.Errorf("%w: terminal_ids required", commands.ErrValidation)
	}
	if input.VenueID == "" {
		return nil, fmt.Errorf("%w: venue_id required", commands.ErrValidation)
	}
	policy, err := s.cfg.PolicyFor(input.Type)
	if err != nil {
		return nil, err
	}
	if policy.DoubleConfirm && !input.Confirmed {
		return nil, fmt.Errorf("%w: %s requires explicit confirmation", commands.ErrValidation, input.Type)
	}
	if venue, err := s.queue.venues.Get(ctx, input.VenueID); err != nil {
		return nil, err
	} else if venue == nil {
		return nil, fmt.Errorf("%w: unknown venue %s", commands.ErrValidation, input.VenueID)
	}

	seen := make(map[string]struct{}, len(input.TerminalIDs))
	targets := make([]string, 0, len(input.TerminalIDs))
	for _, id := range input.TerminalIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: terminal_ids required", commands.ErrValidation)
	}
	for _, terminalID := range targets {
		terminal, err := s.terminals.Get(ctx, terminalID)
		if err != nil {
			return nil, err
		}
		if terminal == nil || terminal.VenueID != input.VenueID {
			return nil, fmt.Errorf("%w: terminal %s does not belong to venue %s", commands.ErrValidation, terminalID, input.VenueID)
		}
	}

	now := s.clock.Now()
	scheduled := input.ScheduledFor.After(now)
	op := &commands.BulkOperation{
		ID:             newID("bulk"),
		VenueID:        input.VenueID,
		Type:           input.Type,
		Payload:        input.Payload,
		TerminalIDs:    targets,
		TotalTerminals: len(targets),
		Status:         commands.BulkStatusInProgress,
		RequestedBy:    input.RequestedBy,
		CreatedAt:      now,
	}
	if scheduled {
		op.ScheduledFor = input.ScheduledFor
		op.Status = commands.BulkStatusPending
	}
	if err := s.bulks.Create(ctx, op); err != nil {
		return nil, err
	}

	results := make([]BulkTerminalResult, 0, len(targets))
	failed := 0
	for _, terminalID := range targets {
		queued, err := s.ExecuteCommand(ctx, QueueInput{
			TerminalID:      terminalID,
			VenueID:         input.VenueID,
			Type:            input.Type,
			Payload:         input.Payload,
			ScheduledFor:    input.ScheduledFor,
			RequestedBy:     input.RequestedBy,
			RequestedByName: input.RequestedByName,
			Confirmed:       input.Confirmed,
			BulkOperationID: op.ID,
		})
		if err != nil {
			failed++
			results = append(results, BulkTerminalResult{TerminalID: terminalID, Error: err.Error()})
			if s.logger != nil {
				s.logger.Printf("bulk enqueue rejected: operation=%s terminal=%s: %v", op.ID, terminalID, err)
			}
			continue
		}
		results = append(results, BulkTerminalResult{
			TerminalID: terminalID,
			CommandID:  queued.CommandID,
			Queued:     true,
		})
	}

	// First-pass estimate from the enqueue tallies. Device acknowledgements
	// refine it through the aggregator from here.
	op.FailedTerminals = failed
	op.Status = commands.FanOutStatus(op.TotalTerminals, failed, scheduled)
	if op.Status == commands.BulkStatusFailed {
		op.CompletedAt = s.clock.Now()
	}
	if err := s.bulks.Update(ctx, op); err != nil {
		return nil, err
	}
	metrics.IncBulkOperation("created")

	return &BulkResult{
		BulkOperationID: op.ID,
		Status:          op.Status,
		Total:           op.TotalTerminals,
		Failed:          failed,
		Results:         results,
	}, nil
}

// GetBulkOperation returns one bulk operation by id.
func (s *DispatchService) GetBulkOperation(ctx context.Context, id string) (*commands.BulkOperation, error) {
	op, err := s.bulks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, commands.ErrNotFound
	}
	return op, nil
}

// BulkCommands lists the fanned-out commands of a bulk operation.
func (s *DispatchService) BulkCommands(ctx context.Context, bulkID string) ([]commands.Command, error) {
	return s.cmds.ListByBulkOperation(ctx, bulkID)
}

// DrainOfflineQueue delivers the backlog accumulated while a terminal was
// offline, highest priority first. Called when a heartbeat brings the
// terminal back. Per-command send failures are logged and do not halt the
// drain; the failed command stays queued for the next trigger.
func (s *DispatchService) DrainOfflineQueue(ctx context.Context, terminalID string) (int, error) {
	backlog, err := s.cmds.ListPendingForTerminal(ctx, terminalID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	delivered := 0
	for i := range backlog {
		sent, err := s.SendToTerminal(ctx, backlog[i].ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("offline drain delivery failed: command=%s: %v", backlog[i].ID, err)
			}
			continue
		}
		if sent {
			delivered++
		}
	}
	return delivered, nil
}

// SweepScheduled promotes due scheduled commands and attempts immediate
// delivery for terminals that are online.
func (s *DispatchService) SweepScheduled(ctx context.Context) (int, error) {
	due, err := s.cmds.ListDueScheduled(ctx, s.clock.Now(), s.cfg.SweepBatchSize)
	if err != nil {
		metrics.IncSweepRun("scheduled", "error")
		return 0, err
	}
	promoted := 0
	for i := range due {
		if _, err := s.queue.MarkQueued(ctx, due[i].ID); err != nil {
			if errors.Is(err, commands.ErrInvalidTransition) || errors.Is(err, commands.ErrNotFound) {
				continue
			}
			metrics.IncSweepRun("scheduled", "error")
			return promoted, err
		}
		promoted++
		if _, err := s.SendToTerminal(ctx, due[i].ID); err != nil && s.logger != nil {
			s.logger.Printf("scheduled delivery failed, command stays queued: command=%s: %v", due[i].ID, err)
		}
	}
	metrics.IncSweepRun("scheduled", "ok")
	return promoted, nil
}

// SweepExpired resolves commands past their expiration as expired with a
// timeout result, then refreshes any affected bulk operations.
func (s *DispatchService) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	stale, err := s.cmds.ListExpired(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		metrics.IncSweepRun("expiry", "error")
		return 0, err
	}
	nonTerminal := []string{
		commands.StatusPending, commands.StatusQueued, commands.StatusSent,
		commands.StatusReceived, commands.StatusExecuting,
	}
	expired := 0
	for i := range stale {
		cmd, err := s.queue.Transition(ctx, stale[i].ID, commands.StatusExpired, nonTerminal,
			commands.StatusUpdate{
				ResultStatus:  commands.ResultTimeout,
				ResultMessage: "expired before completion",
			}, "expired before completion")
		if err != nil {
			if errors.Is(err, commands.ErrInvalidTransition) || errors.Is(err, commands.ErrNotFound) {
				continue
			}
			metrics.IncSweepRun("expiry", "error")
			return expired, err
		}
		expired++
		metrics.IncCommandResult(commands.StatusExpired)
		metrics.ObserveCommandResolution(commands.StatusExpired, now.Sub(cmd.CreatedAt))
		if s.aggregator != nil && cmd.BulkOperationID != "" {
			if err := s.aggregator.Recompute(ctx, cmd.BulkOperationID); err != nil && s.logger != nil {
				s.logger.Printf("bulk recompute after expiry failed: operation=%s: %v", cmd.BulkOperationID, err)
			}
		}
	}
	metrics.IncSweepRun("expiry", "ok")
	return expired, nil
}

// Cancel forwards to the queue service so HTTP wiring needs one dependency.
func (s *DispatchService) Cancel(ctx context.Context, commandID, cancelledBy, reason string) (*commands.Command, error) {
	return s.queue.Cancel(ctx, commandID, cancelledBy, reason)
}

// TerminalCommands lists the deliverable backlog for a terminal along with
// its presence, for the fleet console.
func (s *DispatchService) TerminalCommands(ctx context.Context, terminalID string) ([]commands.Command, *terminals.Terminal, error) {
	terminal, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return nil, nil, err
	}
	if terminal == nil {
		return nil, nil, terminals.ErrNotFound
	}
	backlog, err := s.cmds.ListPendingForTerminal(ctx, terminalID, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	return backlog, terminal, nil
}
