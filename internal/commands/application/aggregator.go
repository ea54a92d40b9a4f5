package application

import (
	"context"
	"log"

	commandsevents "tpv-fleet/internal/commands/application/events"
	commands "tpv-fleet/internal/commands/domain"
	"tpv-fleet/internal/eventing"
	"tpv-fleet/internal/notify"
	"tpv-fleet/internal/observability/metrics"
)

// BulkAggregator recomputes bulk tallies from the resolved states of the
// fanned-out commands. Both the result path and the expiry sweep call it,
// so it always recounts from storage instead of incrementing counters.
type BulkAggregator struct {
	cmds      CommandStore
	bulks     BulkStore
	publisher *eventing.Publisher
	notifier  notify.Notifier
	clock     Clock
	logger    *log.Logger
}

// NewBulkAggregator constructs a bulk aggregator.
func NewBulkAggregator(cmds CommandStore, bulks BulkStore, publisher *eventing.Publisher, notifier notify.Notifier, clock Clock, logger *log.Logger) *BulkAggregator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &BulkAggregator{
		cmds:      cmds,
		bulks:     bulks,
		publisher: publisher,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// Recompute recounts the sibling commands of a bulk operation and persists
// the derived tallies and status. A no-op when the id is empty.
func (a *BulkAggregator) Recompute(ctx context.Context, bulkID string) error {
	if a == nil || bulkID == "" {
		return nil
	}
	op, err := a.bulks.Get(ctx, bulkID)
	if err != nil {
		return err
	}
	if op == nil {
		return commands.ErrNotFound
	}
	siblings, err := a.cmds.ListByBulkOperation(ctx, bulkID)
	if err != nil {
		return err
	}

	completed, failed := 0, 0
	for _, sibling := range siblings {
		switch {
		case sibling.Status == commands.StatusCompleted:
			completed++
		case commands.ResolvedAsFailure(sibling.Status):
			failed++
		}
	}
	// Terminals rejected before a command row existed stay counted as failed.
	enqueueFailures := op.TotalTerminals - len(siblings)
	if enqueueFailures > 0 {
		failed += enqueueFailures
	}

	status := commands.AggregateStatus(op.TotalTerminals, completed, failed)
	changed := op.Status != status || op.CompletedTerminals != completed || op.FailedTerminals != failed
	op.CompletedTerminals = completed
	op.FailedTerminals = failed
	op.Status = status
	if status != commands.BulkStatusPending && status != commands.BulkStatusInProgress && op.CompletedAt.IsZero() {
		op.CompletedAt = a.clock.Now()
	}
	if err := a.bulks.Update(ctx, op); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if status != commands.BulkStatusPending && status != commands.BulkStatusInProgress {
		metrics.IncBulkOperation(status)
	}

	if a.notifier != nil {
		a.notifier.Notify(ctx, notify.Event{
			Kind:            notify.KindBulkProgress,
			VenueID:         op.VenueID,
			BulkOperationID: op.ID,
			CommandType:     string(op.Type),
			Status:          op.Status,
			At:              a.clock.Now(),
		})
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, commandsevents.BulkOperationUpdated{
			EventID:         eventing.NewEventID(),
			BulkOperationID: op.ID,
			VenueID:         op.VenueID,
			CommandType:     string(op.Type),
			Status:          op.Status,
			Total:           op.TotalTerminals,
			Completed:       completed,
			Failed:          failed,
			Pending:         op.PendingTerminals(),
			OccurredAt:      a.clock.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}
