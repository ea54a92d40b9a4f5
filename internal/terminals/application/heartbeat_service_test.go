package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tpv-fleet/internal/notify"
	terminals "tpv-fleet/internal/terminals/domain"
	terminalsmem "tpv-fleet/internal/terminals/infrastructure/memory"
)

type stubDrainer struct {
	mu        sync.Mutex
	drained   []string
	delivered int
	err       error
}

func (d *stubDrainer) DrainOfflineQueue(_ context.Context, terminalID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drained = append(d.drained, terminalID)
	return d.delivered, d.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func TestRecordHeartbeatDrainsOnReconnect(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := terminalsmem.NewTerminalRepository()
	if err := repo.Save(ctx, &terminals.Terminal{
		ID: "term-1", VenueID: "venue-1", LastHeartbeat: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drainer := &stubDrainer{delivered: 2}
	notifier := &captureNotifier{}

	service, err := NewHeartbeatService(repo, drainer, 2*time.Minute,
		WithHeartbeatNow(func() time.Time { return now }),
		WithHeartbeatNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.Record(ctx, "term-1", now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !result.CameOnline {
		t.Fatal("expected the terminal to come online")
	}
	if result.Delivered != 2 {
		t.Fatalf("delivered: got %d, want 2", result.Delivered)
	}
	if len(drainer.drained) != 1 || drainer.drained[0] != "term-1" {
		t.Fatalf("drained: got %v, want [term-1]", drainer.drained)
	}
	if len(notifier.events) != 1 || notifier.events[0].Kind != notify.KindTerminalStatus {
		t.Fatalf("events: got %+v, want one terminal status event", notifier.events)
	}
	if !result.Terminal.LastHeartbeat.Equal(now) {
		t.Fatalf("last heartbeat: got %s, want %s", result.Terminal.LastHeartbeat, now)
	}
}

func TestRecordHeartbeatAlreadyOnline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := terminalsmem.NewTerminalRepository()
	if err := repo.Save(ctx, &terminals.Terminal{
		ID: "term-1", VenueID: "venue-1", LastHeartbeat: now.Add(-10 * time.Second),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drainer := &stubDrainer{}

	service, err := NewHeartbeatService(repo, drainer, 2*time.Minute,
		WithHeartbeatNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := service.Record(ctx, "term-1", now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.CameOnline {
		t.Fatal("expected no offline-to-online flip")
	}
	if len(drainer.drained) != 0 {
		t.Fatalf("drained: got %v, want no drain", drainer.drained)
	}
}

func TestRecordHeartbeatClampsFutureTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := terminalsmem.NewTerminalRepository()
	if err := repo.Save(ctx, &terminals.Terminal{ID: "term-1", VenueID: "venue-1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	service, err := NewHeartbeatService(repo, nil, 2*time.Minute,
		WithHeartbeatNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := service.Record(ctx, "term-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !result.Terminal.LastHeartbeat.Equal(now) {
		t.Fatalf("last heartbeat: got %s, want clamp to %s", result.Terminal.LastHeartbeat, now)
	}
}

func TestRecordHeartbeatUnknownTerminal(t *testing.T) {
	service, err := NewHeartbeatService(terminalsmem.NewTerminalRepository(), nil, 2*time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.Record(context.Background(), "term-ghost", time.Time{}); !errors.Is(err, terminals.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
