package devicefeed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tpv-fleet/internal/channel"
	commandsapp "tpv-fleet/internal/commands/application"
	commandsmem "tpv-fleet/internal/commands/infrastructure/memory"
	"tpv-fleet/internal/eventing"
	terminals "tpv-fleet/internal/terminals/domain"
	terminalsmem "tpv-fleet/internal/terminals/infrastructure/memory"
	venues "tpv-fleet/internal/venues/domain"
	venuesmem "tpv-fleet/internal/venues/infrastructure/memory"
)

type sinkOutbox struct{}

func (sinkOutbox) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	return env.EventID, nil
}

type sinkChannel struct{}

func (sinkChannel) Publish(context.Context, channel.Target, string, []byte) error { return nil }

// newFeedFixture wires a delivered command and returns a consumer whose
// handle path runs against real services, plus the command id.
func newFeedFixture(t *testing.T) (*Consumer, *commandsapp.QueueService, string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	cmds := commandsmem.NewCommandRepository()
	bulks := commandsmem.NewBulkRepository()
	history := commandsmem.NewHistoryRepository()
	terminalRepo := terminalsmem.NewTerminalRepository()
	venueRepo := venuesmem.NewVenueRepository()

	if err := venueRepo.Save(ctx, &venues.Venue{ID: "venue-1", TenantID: "tenant-1"}); err != nil {
		t.Fatalf("seed venue: %v", err)
	}
	if err := terminalRepo.Save(ctx, &terminals.Terminal{
		ID: "term-1", VenueID: "venue-1", LastHeartbeat: now, OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	cfg, err := commandsapp.LoadFleetConfig()
	if err != nil {
		t.Fatalf("fleet config: %v", err)
	}
	publisher := eventing.NewPublisher(sinkOutbox{}, nil, "tenant-1", nil)
	queue, err := commandsapp.NewQueueService(cmds, history, terminalRepo, venueRepo, publisher, cfg)
	if err != nil {
		t.Fatalf("queue service: %v", err)
	}
	aggregator := commandsapp.NewBulkAggregator(cmds, bulks, publisher, nil, nil, nil)
	dispatch, err := commandsapp.NewDispatchService(queue, cmds, bulks, terminalRepo, aggregator, sinkChannel{}, cfg)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}
	results, err := commandsapp.NewResultService(queue, terminalRepo, aggregator)
	if err != nil {
		t.Fatalf("result service: %v", err)
	}

	queued, err := dispatch.ExecuteCommand(ctx, commandsapp.QueueInput{
		TerminalID: "term-1", VenueID: "venue-1", Type: "restart", RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("execute command: %v", err)
	}

	return &Consumer{results: results}, queue, queued.CommandID
}

func TestHandleRoutesLifecycleEvents(t *testing.T) {
	consumer, queue, commandID := newFeedFixture(t)
	ctx := context.Background()

	steps := []struct {
		event deviceEvent
		want  string
	}{
		{deviceEvent{EventType: EventCommandAck, CommandID: commandID}, "received"},
		{deviceEvent{EventType: EventCommandExecuting, CommandID: commandID}, "executing"},
		{deviceEvent{EventType: EventCommandResult, CommandID: commandID, Status: "success"}, "completed"},
	}
	for _, step := range steps {
		value, err := json.Marshal(step.event)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		consumer.handle(ctx, value)

		cmd, err := queue.GetCommand(ctx, commandID)
		if err != nil {
			t.Fatalf("get command: %v", err)
		}
		if cmd.Status != step.want {
			t.Fatalf("%s: got %s, want %s", step.event.EventType, cmd.Status, step.want)
		}
	}
}

func TestHandleDropsMalformedEvents(t *testing.T) {
	consumer, queue, commandID := newFeedFixture(t)
	ctx := context.Background()

	consumer.handle(ctx, []byte("{not json"))
	consumer.handle(ctx, []byte(`{"event_type":"command.ack"}`))
	consumer.handle(ctx, []byte(`{"event_type":"command.selfdestruct","command_id":"`+commandID+`"}`))

	cmd, err := queue.GetCommand(ctx, commandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != "sent" {
		t.Fatalf("status: got %s, want sent untouched", cmd.Status)
	}
}
