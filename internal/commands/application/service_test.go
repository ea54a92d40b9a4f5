package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tpv-fleet/internal/channel"
	commandsmem "tpv-fleet/internal/commands/infrastructure/memory"
	"tpv-fleet/internal/eventing"
	"tpv-fleet/internal/notify"
	terminalsmem "tpv-fleet/internal/terminals/infrastructure/memory"
	terminals "tpv-fleet/internal/terminals/domain"
	venuesmem "tpv-fleet/internal/venues/infrastructure/memory"
	venues "tpv-fleet/internal/venues/domain"
)

type memOutbox struct {
	mu   sync.Mutex
	envs []eventing.Envelope
}

func (m *memOutbox) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envs = append(m.envs, env)
	return env.EventID, nil
}

func (m *memOutbox) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, 0, len(m.envs))
	for _, env := range m.envs {
		result = append(result, env.EventType)
	}
	return result
}

type publishedMessage struct {
	Target    channel.Target
	EventType string
	Payload   []byte
}

type stubChannel struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (c *stubChannel) Publish(_ context.Context, target channel.Target, eventType string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, publishedMessage{Target: target, EventType: eventType, Payload: payload})
	return nil
}

func (c *stubChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *stubNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *stubNotifier) ofKind(kind string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matched []notify.Event
	for _, event := range n.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type wirePayloadID struct {
	CommandID string `json:"command_id"`
}

func decodeWireID(t *testing.T, payload []byte) wirePayloadID {
	t.Helper()
	var id wirePayloadID
	if err := json.Unmarshal(payload, &id); err != nil {
		t.Fatalf("decode wire payload: %v", err)
	}
	return id
}

type fixture struct {
	cmds     *commandsmem.CommandRepository
	bulks    *commandsmem.BulkRepository
	history  *commandsmem.HistoryRepository
	termRepo *terminalsmem.TerminalRepository
	venues   *venuesmem.VenueRepository
	outbox   *memOutbox
	wire     *stubChannel
	notifier *stubNotifier
	clock    *fixedClock
	queue    *QueueService
	dispatch *DispatchService
	results  *ResultService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &fixture{
		cmds:     commandsmem.NewCommandRepository(),
		bulks:    commandsmem.NewBulkRepository(),
		history:  commandsmem.NewHistoryRepository(),
		termRepo: terminalsmem.NewTerminalRepository(),
		venues:   venuesmem.NewVenueRepository(),
		outbox:   &memOutbox{},
		wire:     &stubChannel{},
		notifier: &stubNotifier{},
		clock:    &fixedClock{t: now},
	}

	if err := f.venues.Save(ctx, &venues.Venue{ID: "venue-1", TenantID: "tenant-1", Name: "Trattoria Roma", Timezone: "Europe/Madrid"}); err != nil {
		t.Fatalf("seed venue: %v", err)
	}
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-online", VenueID: "venue-1", Name: "Bar TPV",
		LastHeartbeat: now.Add(-10 * time.Second), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}
	if err := f.termRepo.Save(ctx, &terminals.Terminal{
		ID: "term-offline", VenueID: "venue-1", Name: "Terrace TPV",
		LastHeartbeat: now.Add(-time.Hour), OperatingStatus: terminals.OperatingActive,
	}); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	cfg, err := LoadFleetConfig()
	if err != nil {
		t.Fatalf("fleet config: %v", err)
	}
	publisher := eventing.NewPublisher(f.outbox, nil, "tenant-1", nil)

	f.queue, err = NewQueueService(f.cmds, f.history, f.termRepo, f.venues, publisher, cfg,
		WithQueueClock(f.clock),
		WithQueueNotifier(f.notifier),
		WithQueueChannel(f.wire),
	)
	if err != nil {
		t.Fatalf("queue service: %v", err)
	}
	aggregator := NewBulkAggregator(f.cmds, f.bulks, publisher, f.notifier, f.clock, nil)
	f.dispatch, err = NewDispatchService(f.queue, f.cmds, f.bulks, f.termRepo, aggregator, f.wire, cfg,
		WithDispatchClock(f.clock),
	)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}
	f.results, err = NewResultService(f.queue, f.termRepo, aggregator,
		WithResultClock(f.clock),
		WithResultNotifier(f.notifier),
	)
	if err != nil {
		t.Fatalf("result service: %v", err)
	}
	return f
}
