package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tpv-fleet/internal/channel"
	commandsevents "tpv-fleet/internal/commands/application/events"
	commands "tpv-fleet/internal/commands/domain"
	"tpv-fleet/internal/eventing"
	"tpv-fleet/internal/notify"
	"tpv-fleet/internal/observability/metrics"
	terminals "tpv-fleet/internal/terminals/domain"
)

// QueueInput represents a command queue request.
type QueueInput struct {
	TerminalID      string          `json:"terminal_id"`
	VenueID         string          `json:"venue_id"`
	Type            commands.Type   `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Priority        int             `json:"priority,omitempty"`
	ScheduledFor    time.Time       `json:"scheduled_for,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	RequestedByName string          `json:"requested_by_name,omitempty"`
	Confirmed       bool            `json:"confirmed,omitempty"`
	BulkOperationID string          `json:"-"`
}

// QueueResult is returned after a command is accepted into the queue.
// Deferred reports that the command waits for a schedule or a reconnect
// instead of being deliverable right away.
type QueueResult struct {
	CommandID      string `json:"command_id"`
	CorrelationID  string `json:"correlation_id"`
	Status         string `json:"status"`
	Deferred       bool   `json:"deferred"`
	TerminalOnline bool   `json:"terminal_online"`
}

// QueueService validates and persists command requests and owns the
// lifecycle transitions that do not involve the wire.
type QueueService struct {
	cmds      CommandStore
	terminals TerminalDirectory
	venues    VenueDirectory
	publisher *eventing.Publisher
	notifier  notify.Notifier
	wire      channel.Channel
	history   *historyRecorder
	cfg       FleetConfig
	clock     Clock
	logger    *log.Logger
}

// QueueOption configures the queue service.
type QueueOption func(*QueueService)

// WithQueueClock overrides the clock.
func WithQueueClock(clock Clock) QueueOption {
	return func(s *QueueService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithQueueNotifier sets the best-effort observer notifier.
func WithQueueNotifier(notifier notify.Notifier) QueueOption {
	return func(s *QueueService) { s.notifier = notifier }
}

// WithQueueChannel sets the terminal channel used for cancellation notices.
func WithQueueChannel(wire channel.Channel) QueueOption {
	return func(s *QueueService) { s.wire = wire }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *log.Logger) QueueOption {
	return func(s *QueueService) { s.logger = logger }
}

// NewQueueService constructs a queue service.
func NewQueueService(
	cmds CommandStore,
	history HistoryStore,
	terminalDir TerminalDirectory,
	venueDir VenueDirectory,
	publisher *eventing.Publisher,
	cfg FleetConfig,
	opts ...QueueOption,
) (*QueueService, error) {
	if cmds == nil {
		return nil, errors.New("queue service: nil command store")
	}
	if history == nil {
		return nil, errors.New("queue service: nil history store")
	}
	if terminalDir == nil {
		return nil, errors.New("queue service: nil terminal directory")
	}
	if venueDir == nil {
		return nil, errors.New("queue service: nil venue directory")
	}
	if publisher == nil {
		return nil, errors.New("queue service: nil publisher")
	}
	service := &QueueService{
		cmds:      cmds,
		terminals: terminalDir,
		venues:    venueDir,
		publisher: publisher,
		cfg:       cfg,
		clock:     SystemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	service.history = &historyRecorder{
		store:     history,
		terminals: terminalDir,
		venues:    venueDir,
		clock:     service.clock,
		logger:    service.logger,
	}
	return service, nil
}

// QueueCommand validates the request against the terminal's current state,
// persists the command, and classifies its initial status. Nothing is
// persisted when validation fails.
func (s *QueueService) QueueCommand(ctx context.Context, input QueueInput) (*QueueResult, error) {
	if input.TerminalID == "" {
		return nil, fmt.Errorf("%w: terminal_id required", commands.ErrValidation)
	}
	if input.VenueID == "" {
		return nil, fmt.Errorf("%w: venue_id required", commands.ErrValidation)
	}
	if len(input.Payload) > 0 && !json.Valid(input.Payload) {
		return nil, fmt.Errorf("%w: invalid payload", commands.ErrValidation)
	}
	policy, err := s.cfg.PolicyFor(input.Type)
	if err != nil {
		return nil, err
	}
	if policy.DoubleConfirm && !input.Confirmed {
		return nil, fmt.Errorf("%w: %s requires explicit confirmation", commands.ErrValidation, input.Type)
	}

	terminal, err := s.terminals.Get(ctx, input.TerminalID)
	if err != nil {
		return nil, err
	}
	if terminal == nil {
		return nil, terminals.ErrNotFound
	}
	if terminal.VenueID != input.VenueID {
		return nil, fmt.Errorf("%w: terminal %s does not belong to venue %s", commands.ErrValidation, input.TerminalID, input.VenueID)
	}
	if err := validateAgainstTerminalState(input.Type, terminal); err != nil {
		return nil, err
	}
	venue, err := s.venues.Get(ctx, input.VenueID)
	if err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, fmt.Errorf("%w: unknown venue %s", commands.ErrValidation, input.VenueID)
	}

	now := s.clock.Now()
	scheduled := input.ScheduledFor.After(now)
	expiryBase := now
	if scheduled {
		expiryBase = input.ScheduledFor
	}
	online := terminal.Online(now, s.cfg.PresenceThreshold())

	status := commands.StatusPending
	if !scheduled && online {
		status = commands.StatusQueued
	}
	priority := input.Priority
	if priority <= 0 {
		priority = policy.DefaultPriority
	}

	cmd := &commands.Command{
		ID:              newID("cmd"),
		CorrelationID:   eventing.NewEventID(),
		TerminalID:      input.TerminalID,
		VenueID:         input.VenueID,
		Type:            input.Type,
		Payload:         input.Payload,
		Priority:        priority,
		Status:          status,
		MaxAttempts:     policy.MaxRetries,
		RequiresPin:     policy.RequiresPin,
		ExpiresAt:       expiryBase.Add(time.Duration(policy.ExpirationMinutes) * time.Minute),
		RequestedBy:     input.RequestedBy,
		RequestedByName: input.RequestedByName,
		BulkOperationID: input.BulkOperationID,
		CreatedAt:       now,
	}
	if scheduled {
		cmd.ScheduledFor = input.ScheduledFor
	}

	if err := s.cmds.Create(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.IncCommandQueued()
	s.history.record(ctx, cmd, "accepted into queue")

	ctx = eventing.WithCorrelationID(ctx, cmd.CorrelationID)
	if err := s.publisher.Publish(ctx, commandsevents.CommandQueued{
		EventID:       eventing.NewEventID(),
		CommandID:     cmd.ID,
		CorrelationID: cmd.CorrelationID,
		TerminalID:    cmd.TerminalID,
		VenueID:       cmd.VenueID,
		CommandType:   string(cmd.Type),
		Payload:       cmd.Payload,
		Scheduled:     scheduled,
		OccurredAt:    now,
	}); err != nil {
		return nil, err
	}

	if status == commands.StatusPending {
		s.broadcast(ctx, notify.Event{
			Kind:          notify.KindCommandQueued,
			VenueID:       cmd.VenueID,
			TerminalID:    cmd.TerminalID,
			CommandID:     cmd.ID,
			CorrelationID: cmd.CorrelationID,
			CommandType:   string(cmd.Type),
			Status:        cmd.Status,
			At:            now,
		})
	}

	return &QueueResult{
		CommandID:      cmd.ID,
		CorrelationID:  cmd.CorrelationID,
		Status:         cmd.Status,
		Deferred:       status == commands.StatusPending,
		TerminalOnline: online,
	}, nil
}

func validateAgainstTerminalState(commandType commands.Type, terminal *terminals.Terminal) error {
	switch commandType {
	case commands.TypeLock:
		if terminal.IsLocked {
			return fmt.Errorf("%w: terminal %s is already locked", commands.ErrValidation, terminal.ID)
		}
	case commands.TypeUnlock:
		if !terminal.IsLocked {
			return fmt.Errorf("%w: terminal %s is not locked", commands.ErrValidation, terminal.ID)
		}
	case commands.TypeFactoryReset:
		if terminal.IsLocked {
			return fmt.Errorf("%w: terminal %s must be unlocked before a factory reset", commands.ErrValidation, terminal.ID)
		}
	case commands.TypeExitMaintenance:
		if terminal.OperatingStatus != terminals.OperatingMaintenance {
			return fmt.Errorf("%w: terminal %s is not in maintenance", commands.ErrValidation, terminal.ID)
		}
	}
	return nil
}

// GetCommand returns one command by id.
func (s *QueueService) GetCommand(ctx context.Context, id string) (*commands.Command, error) {
	cmd, err := s.cmds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, commands.ErrNotFound
	}
	return cmd, nil
}

// CommandHistory returns the lifecycle timeline of one command.
func (s *QueueService) CommandHistory(ctx context.Context, commandID string) ([]commands.HistoryEntry, error) {
	if _, err := s.GetCommand(ctx, commandID); err != nil {
		return nil, err
	}
	return s.history.store.ListByCommand(ctx, commandID)
}

// VenueHistory returns the audit timeline of a venue within [from, to].
func (s *QueueService) VenueHistory(ctx context.Context, venueID string, from, to time.Time) ([]commands.HistoryEntry, error) {
	if venueID == "" {
		return nil, fmt.Errorf("%w: venue_id required", commands.ErrValidation)
	}
	return s.history.store.ListByVenue(ctx, venueID, from, to)
}

// PendingForTerminal returns the deliverable backlog for a terminal ordered
// by priority descending then createdAt ascending.
func (s *QueueService) PendingForTerminal(ctx context.Context, terminalID string) ([]commands.Command, error) {
	if terminalID == "" {
		return nil, fmt.Errorf("%w: terminal_id required", commands.ErrValidation)
	}
	return s.cmds.ListPendingForTerminal(ctx, terminalID, s.clock.Now())
}

// Transition applies one lifecycle move with CAS semantics, records history,
// broadcasts to observers, and publishes the status event.
func (s *QueueService) Transition(ctx context.Context, commandID, to string, from []string, update commands.StatusUpdate, message string) (*commands.Command, error) {
	cmd, err := s.cmds.Transition(ctx, commandID, to, from, update)
	if err != nil {
		return nil, err
	}
	s.history.record(ctx, cmd, message)
	s.broadcast(ctx, statusEvent(cmd, s.clock.Now()))

	ctx = eventing.WithCorrelationID(ctx, cmd.CorrelationID)
	if err := s.publisher.Publish(ctx, commandsevents.CommandStatusChanged{
		EventID:       eventing.NewEventID(),
		CommandID:     cmd.ID,
		CorrelationID: cmd.CorrelationID,
		TerminalID:    cmd.TerminalID,
		VenueID:       cmd.VenueID,
		CommandType:   string(cmd.Type),
		Status:        cmd.Status,
		ResultStatus:  cmd.ResultStatus,
		ResultMessage: cmd.ResultMessage,
		Attempts:      cmd.Attempts,
		OccurredAt:    s.clock.Now(),
	}); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// MarkQueued flips a due scheduled command from pending to queued so that a
// reconnect or the next sweep can deliver it. A CAS miss means another
// trigger got there first and is not an error for the sweep.
func (s *QueueService) MarkQueued(ctx context.Context, commandID string) (*commands.Command, error) {
	return s.Transition(ctx, commandID, commands.StatusQueued,
		[]string{commands.StatusPending}, commands.StatusUpdate{}, "due for delivery")
}

// Cancel cancels a command that has not been handed to the wire yet. For
// commands at SENT or later cancellation is refused: the device may already
// be executing.
func (s *QueueService) Cancel(ctx context.Context, commandID, cancelledBy, reason string) (*commands.Command, error) {
	cmd, err := s.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != commands.StatusPending && cmd.Status != commands.StatusQueued {
		return nil, fmt.Errorf("%w: cannot cancel a command in status %s", commands.ErrValidation, cmd.Status)
	}
	message := reason
	if message == "" {
		message = "cancelled by " + cancelledBy
	}
	cancelled, err := s.Transition(ctx, commandID, commands.StatusCancelled,
		[]string{commands.StatusPending, commands.StatusQueued},
		commands.StatusUpdate{ResultMessage: message}, message)
	if err != nil {
		return nil, err
	}
	metrics.IncCommandResult(commands.StatusCancelled)
	s.notifyDeviceCancel(ctx, cancelled)
	return cancelled, nil
}

// notifyDeviceCancel sends a best-effort cancellation notice when the
// terminal is currently online. Failures are logged only.
func (s *QueueService) notifyDeviceCancel(ctx context.Context, cmd *commands.Command) {
	if s.wire == nil || cmd == nil {
		return
	}
	terminal, err := s.terminals.Get(ctx, cmd.TerminalID)
	if err != nil || terminal == nil {
		return
	}
	if !terminal.Online(s.clock.Now(), s.cfg.PresenceThreshold()) {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"command_id":     cmd.ID,
		"correlation_id": cmd.CorrelationID,
	})
	if err != nil {
		return
	}
	target := channel.Target{VenueID: cmd.VenueID, TerminalID: cmd.TerminalID}
	if err := s.wire.Publish(ctx, target, "command.cancel", payload); err != nil && s.logger != nil {
		s.logger.Printf("cancel notice publish error: command=%s: %v", cmd.ID, err)
	}
}

func (s *QueueService) broadcast(ctx context.Context, event notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}

func statusEvent(cmd *commands.Command, at time.Time) notify.Event {
	return notify.Event{
		Kind:            notify.KindCommandStatus,
		VenueID:         cmd.VenueID,
		TerminalID:      cmd.TerminalID,
		CommandID:       cmd.ID,
		CorrelationID:   cmd.CorrelationID,
		BulkOperationID: cmd.BulkOperationID,
		CommandType:     string(cmd.Type),
		Status:          cmd.Status,
		ResultStatus:    cmd.ResultStatus,
		Message:         cmd.ResultMessage,
		At:              at,
	}
}
