package application

import (
	"context"
	"errors"
	"log"
	"time"

	"tpv-fleet/internal/notify"
	terminals "tpv-fleet/internal/terminals/domain"
)

// Directory is the terminal registry the heartbeat intake mutates.
type Directory interface {
	Get(ctx context.Context, id string) (*terminals.Terminal, error)
	Apply(ctx context.Context, id string, update terminals.Update) (*terminals.Terminal, error)
}

// OfflineDrainer delivers the command backlog of a terminal that just came
// back online.
type OfflineDrainer interface {
	DrainOfflineQueue(ctx context.Context, terminalID string) (int, error)
}

// HeartbeatResult reports what a heartbeat triggered.
type HeartbeatResult struct {
	Terminal   *terminals.Terminal `json:"terminal"`
	CameOnline bool                `json:"came_online"`
	Delivered  int                 `json:"delivered"`
}

// HeartbeatService records terminal heartbeats. A heartbeat that flips a
// terminal from offline to online triggers the offline queue drain.
type HeartbeatService struct {
	terminals Directory
	drainer   OfflineDrainer
	notifier  notify.Notifier
	threshold time.Duration
	now       func() time.Time
	logger    *log.Logger
}

// HeartbeatOption configures the heartbeat service.
type HeartbeatOption func(*HeartbeatService)

// WithHeartbeatNow overrides the clock.
func WithHeartbeatNow(now func() time.Time) HeartbeatOption {
	return func(s *HeartbeatService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHeartbeatNotifier sets the best-effort observer notifier.
func WithHeartbeatNotifier(notifier notify.Notifier) HeartbeatOption {
	return func(s *HeartbeatService) { s.notifier = notifier }
}

// WithHeartbeatLogger sets the logger.
func WithHeartbeatLogger(logger *log.Logger) HeartbeatOption {
	return func(s *HeartbeatService) { s.logger = logger }
}

// NewHeartbeatService constructs a heartbeat service.
func NewHeartbeatService(directory Directory, drainer OfflineDrainer, threshold time.Duration, opts ...HeartbeatOption) (*HeartbeatService, error) {
	if directory == nil {
		return nil, errors.New("heartbeat service: nil directory")
	}
	if threshold <= 0 {
		return nil, errors.New("heartbeat service: non-positive presence threshold")
	}
	service := &HeartbeatService{
		terminals: directory,
		drainer:   drainer,
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Record stores a heartbeat and drains the offline backlog on an
// offline-to-online flip.
func (s *HeartbeatService) Record(ctx context.Context, terminalID string, at time.Time) (*HeartbeatResult, error) {
	if terminalID == "" {
		return nil, errors.New("heartbeat service: empty terminal id")
	}
	terminal, err := s.terminals.Get(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if terminal == nil {
		return nil, terminals.ErrNotFound
	}

	now := s.now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	wasOnline := terminal.Online(now, s.threshold)
	updated, err := s.terminals.Apply(ctx, terminalID, terminals.Update{LastHeartbeat: &at})
	if err != nil {
		return nil, err
	}

	result := &HeartbeatResult{Terminal: updated, CameOnline: !wasOnline}
	if !result.CameOnline {
		return result, nil
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindTerminalStatus,
			VenueID:    updated.VenueID,
			TerminalID: updated.ID,
			Status:     "online",
			At:         now,
		})
	}
	if s.drainer != nil {
		delivered, err := s.drainer.DrainOfflineQueue(ctx, terminalID)
		result.Delivered = delivered
		if err != nil && s.logger != nil {
			s.logger.Printf("offline drain after reconnect failed: terminal=%s delivered=%d: %v", terminalID, delivered, err)
		}
	}
	return result, nil
}
