package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"tpv-fleet/internal/channel"
	commands "tpv-fleet/internal/commands/domain"
	terminals "tpv-fleet/internal/terminals/domain"
)

func TestExecuteCommandDeliversWhenOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.dispatch.ExecuteCommand(ctx, QueueInput{
		TerminalID: "term-online", VenueID: "venue-1", Type: commands.TypeRestart, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute command: %v", err)
	}
	if result.Status != commands.StatusSent {
		t.Fatalf("status: got %s, want sent", result.Status)
	}
	if f.wire.count() != 1 {
		t.Fatalf("wire publishes: got %d, want 1", f.wire.count())
	}
	published := f.wire.published[0]
	if published.EventType != "command.execute" {
		t.Fatalf("event type: got %s", published.EventType)
	}
	if published.Target.TerminalID != "term-online" || published.Target.VenueID != "venue-1" {
		t.Fatalf("target: got %+v", published.Target)
	}

	cmd, err := f.queue.GetCommand(ctx, result.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Attempts != 1 {
		t.Fatalf("attempts: got %d, want 1", cmd.Attempts)
	}
}

func TestExecuteCommandOfflineStaysPending(t *testing.T) {
	f := newFixture(t)

	result, err := f.dispatch.ExecuteCommand(context.Background(), QueueInput{
		TerminalID: "term-offline", VenueID: "venue-1", Type: commands.TypeRestart, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute command: %v", err)
	}
	if result.Status != commands.StatusPending {
		t.Fatalf("status: got %s, want pending", result.Status)
	}
	if f.wire.count() != 0 {
		t.Fatalf("wire publishes: got %d, want 0", f.wire.count())
	}
}

func TestSendSkipsWhenAttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	cmd := &commands.Command{
		ID: "cmd-worn", CorrelationID: "corr-worn",
		TerminalID: "term-online", VenueID: "venue-1",
		Type: commands.TypeSyncConfig, Status: commands.StatusQueued,
		Attempts: 3, MaxAttempts: 3,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := f.cmds.Create(ctx, cmd); err != nil {
		t.Fatalf("seed command: %v", err)
	}

	sent, err := f.dispatch.SendToTerminal(ctx, "cmd-worn")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent {
		t.Fatal("expected delivery to be skipped")
	}
	if f.wire.count() != 0 {
		t.Fatalf("wire publishes: got %d, want 0", f.wire.count())
	}
}

func TestSendSkipsExpiredCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-online", VenueID: "venue-1", Type: commands.TypeRestart, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue command: %v", err)
	}
	f.clock.Advance(31 * time.Minute)

	sent, err := f.dispatch.SendToTerminal(ctx, result.CommandID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent || f.wire.count() != 0 {
		t.Fatal("expected expired command to not be delivered")
	}
}

func TestExecuteBulkPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A locked terminal in the venue passes the membership check but its
	// lock enqueue is rejected inside the fan-out.
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-locked", VenueID: "venue-1", Name: "Till TPV", IsLocked: true,
		LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	result, err := f.dispatch.ExecuteBulk(ctx, BulkInput{
		VenueID:     "venue-1",
		TerminalIDs: []string{"term-online", "term-locked", "term-offline"},
		Type:        commands.TypeLock,
		RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute bulk: %v", err)
	}
	if result.Total != 3 || result.Failed != 1 {
		t.Fatalf("tallies: got total=%d failed=%d, want 3/1", result.Total, result.Failed)
	}
	if result.Status != commands.BulkStatusPartiallyCompleted {
		t.Fatalf("status: got %s, want partially_completed", result.Status)
	}

	byTerminal := make(map[string]BulkTerminalResult, len(result.Results))
	for _, r := range result.Results {
		byTerminal[r.TerminalID] = r
	}
	if !byTerminal["term-online"].Queued || !byTerminal["term-offline"].Queued {
		t.Fatal("expected lockable terminals to be queued")
	}
	if byTerminal["term-locked"].Queued || byTerminal["term-locked"].Error == "" {
		t.Fatal("expected the locked terminal to be rejected with an error")
	}

	siblings, err := f.dispatch.BulkCommands(ctx, result.BulkOperationID)
	if err != nil {
		t.Fatalf("bulk commands: %v", err)
	}
	if len(siblings) != 2 {
		t.Fatalf("sibling commands: got %d, want 2", len(siblings))
	}
}

// countingBulkStore tracks how many operations were persisted.
type countingBulkStore struct {
	BulkStore
	created int
}

func (s *countingBulkStore) Create(ctx context.Context, op *commands.BulkOperation) error {
	s.created++
	return s.BulkStore.Create(ctx, op)
}

func TestExecuteBulkForeignTerminalRejectsWholeCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-foreign", VenueID: "venue-2", Name: "Other TPV",
		LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	cfg, err := LoadFleetConfig()
	if err != nil {
		t.Fatalf("fleet config: %v", err)
	}
	bulks := &countingBulkStore{BulkStore: f.bulks}
	dispatch, err := NewDispatchService(f.queue, f.cmds, bulks, f.termRepo, nil, f.wire, cfg,
		WithDispatchClock(f.clock),
	)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}

	_, err = dispatch.ExecuteBulk(ctx, BulkInput{
		VenueID:     "venue-1",
		TerminalIDs: []string{"term-online", "term-foreign", "term-ghost"},
		Type:        commands.TypeRestart,
		RequestedBy: "user-1",
	})
	if !errors.Is(err, commands.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if bulks.created != 0 {
		t.Fatalf("bulk operations persisted: got %d, want 0", bulks.created)
	}
	pending, err := f.queue.PendingForTerminal(ctx, "term-online")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 || f.wire.count() != 0 {
		t.Fatal("expected no commands or deliveries after a rejected bulk call")
	}
}

func TestExecuteBulkDedupsTargets(t *testing.T) {
	f := newFixture(t)

	result, err := f.dispatch.ExecuteBulk(context.Background(), BulkInput{
		VenueID:     "venue-1",
		TerminalIDs: []string{"term-online", "term-online", "term-offline"},
		Type:        commands.TypeRestart,
		RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute bulk: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("total: got %d, want 2 after dedup", result.Total)
	}
}

func TestExecuteBulkAllRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"term-locked-a", "term-locked-b"} {
		if err := f.termRepo.Save(ctx, &terminals.Terminal{
			ID: id, VenueID: "venue-1", Name: id, IsLocked: true,
			LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
		}); err != nil {
			t.Fatalf("seed terminal: %v", err)
		}
	}

	result, err := f.dispatch.ExecuteBulk(ctx, BulkInput{
		VenueID:     "venue-1",
		TerminalIDs: []string{"term-locked-a", "term-locked-b"},
		Type:        commands.TypeLock,
		RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute bulk: %v", err)
	}
	if result.Status != commands.BulkStatusFailed {
		t.Fatalf("status: got %s, want failed", result.Status)
	}
	op, err := f.dispatch.GetBulkOperation(ctx, result.BulkOperationID)
	if err != nil {
		t.Fatalf("get bulk: %v", err)
	}
	if op.CompletedAt.IsZero() {
		t.Fatal("expected a resolved operation to carry completed_at")
	}
}

func TestSweepScheduledPromotesAndDelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scheduledFor := f.clock.Now().Add(time.Hour)

	result, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-online", VenueID: "venue-1", Type: commands.TypeRestart,
		ScheduledFor: scheduledFor, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue command: %v", err)
	}

	// Not due yet.
	promoted, err := f.dispatch.SweepScheduled(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if promoted != 0 {
		t.Fatalf("promoted: got %d, want 0 before the scheduled time", promoted)
	}

	f.clock.Advance(time.Hour)
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-online", VenueID: "venue-1", Name: "Bar TPV",
		LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("refresh heartbeat: %v", err)
	}

	promoted, err = f.dispatch.SweepScheduled(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted: got %d, want 1", promoted)
	}
	cmd, err := f.queue.GetCommand(ctx, result.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != commands.StatusSent {
		t.Fatalf("status: got %s, want sent after promotion", cmd.Status)
	}
}

func TestSweepExpiredResolvesBulk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bulk, err := f.dispatch.ExecuteBulk(ctx, BulkInput{
		VenueID:     "venue-1",
		TerminalIDs: []string{"term-online"},
		Type:        commands.TypeRestart,
		RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute bulk: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	expired, err := f.dispatch.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired: got %d, want 1", expired)
	}

	siblings, err := f.dispatch.BulkCommands(ctx, bulk.BulkOperationID)
	if err != nil {
		t.Fatalf("bulk commands: %v", err)
	}
	if len(siblings) != 1 || siblings[0].Status != commands.StatusExpired {
		t.Fatalf("sibling: got %+v, want one expired command", siblings)
	}
	if siblings[0].ResultStatus != commands.ResultTimeout {
		t.Fatalf("result status: got %s, want timeout", siblings[0].ResultStatus)
	}

	op, err := f.dispatch.GetBulkOperation(ctx, bulk.BulkOperationID)
	if err != nil {
		t.Fatalf("get bulk: %v", err)
	}
	if op.Status != commands.BulkStatusFailed || op.FailedTerminals != 1 {
		t.Fatalf("bulk: got status=%s failed=%d, want failed/1", op.Status, op.FailedTerminals)
	}
}

func TestDrainOfflineQueueHighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-offline", VenueID: "venue-1", Type: commands.TypeSyncConfig, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue low: %v", err)
	}
	high, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-offline", VenueID: "venue-1", Type: commands.TypeLock, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue high: %v", err)
	}

	// The terminal reconnects.
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-offline", VenueID: "venue-1", Name: "Terrace TPV",
		LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("refresh heartbeat: %v", err)
	}

	delivered, err := f.dispatch.DrainOfflineQueue(ctx, "term-offline")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("delivered: got %d, want 2", delivered)
	}
	if f.wire.count() != 2 {
		t.Fatalf("wire publishes: got %d, want 2", f.wire.count())
	}

	var first, second wirePayloadID
	first = decodeWireID(t, f.wire.published[0].Payload)
	second = decodeWireID(t, f.wire.published[1].Payload)
	if first.CommandID != high.CommandID || second.CommandID != low.CommandID {
		t.Fatalf("delivery order: got %s then %s, want %s then %s",
			first.CommandID, second.CommandID, high.CommandID, low.CommandID)
	}
}

// failNextChannel rejects the next n publishes and forwards the rest.
type failNextChannel struct {
	inner    *stubChannel
	failures int
}

func (c *failNextChannel) Publish(ctx context.Context, target channel.Target, eventType string, payload []byte) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("payload too large")
	}
	return c.inner.Publish(ctx, target, eventType, payload)
}

func TestDrainOfflineQueueContinuesPastSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-offline", VenueID: "venue-1", Type: commands.TypeLock, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue high: %v", err)
	}
	low, err := f.queue.QueueCommand(ctx, QueueInput{
		TerminalID: "term-offline", VenueID: "venue-1", Type: commands.TypeSyncConfig, RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("queue low: %v", err)
	}
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-offline", VenueID: "venue-1", Name: "Terrace TPV",
		LastHeartbeat: f.clock.Now(), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("refresh heartbeat: %v", err)
	}

	cfg, err := LoadFleetConfig()
	if err != nil {
		t.Fatalf("fleet config: %v", err)
	}
	flaky := &failNextChannel{inner: f.wire, failures: 1}
	dispatch, err := NewDispatchService(f.queue, f.cmds, f.bulks, f.termRepo, nil, flaky, cfg,
		WithDispatchClock(f.clock),
	)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}

	delivered, err := dispatch.DrainOfflineQueue(ctx, "term-offline")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if delivered != 1 || f.wire.count() != 1 {
		t.Fatalf("delivered: got %d (published %d), want 1 past the failed send", delivered, f.wire.count())
	}
	if got := decodeWireID(t, f.wire.published[0].Payload); got.CommandID != low.CommandID {
		t.Fatalf("delivered command: got %s, want %s", got.CommandID, low.CommandID)
	}

	stuck, err := f.queue.GetCommand(ctx, high.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if stuck.Status != commands.StatusPending {
		t.Fatalf("failed send status: got %s, want pending", stuck.Status)
	}
}
