package devicefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	commandsapp "tpv-fleet/internal/commands/application"
	"tpv-fleet/internal/observability/metrics"
)

// Device event types on the inbound feed.
const (
	EventCommandAck       = "command.ack"
	EventCommandExecuting = "command.executing"
	EventCommandResult    = "command.result"
)

// deviceEvent is the wire shape of one inbound terminal event.
type deviceEvent struct {
	EventType  string    `json:"event_type"`
	CommandID  string    `json:"command_id"`
	TerminalID string    `json:"terminal_id"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReportedAt time.Time `json:"reported_at,omitempty"`
}

// Consumer reads terminal lifecycle events from the device feed and applies
// them to the command lifecycle. Offsets are committed only after the event
// is handled, so a crash replays rather than loses events; the result
// service tolerates the duplicates.
type Consumer struct {
	reader  *kafka.Reader
	results *commandsapp.ResultService
	logger  *log.Logger
}

// NewConsumer constructs a consumer. brokers is a comma-separated list.
func NewConsumer(brokers, groupID, topic string, results *commandsapp.ResultService, logger *log.Logger) (*Consumer, error) {
	if brokers == "" {
		return nil, errors.New("device feed: empty brokers")
	}
	if topic == "" {
		return nil, errors.New("device feed: empty topic")
	}
	if results == nil {
		return nil, errors.New("device feed: nil result service")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         strings.Split(brokers, ","),
		GroupID:         groupID,
		Topic:           topic,
		StartOffset:     kafka.LastOffset,
		MinBytes:        1,
		MaxBytes:        10e6,
		ReadLagInterval: -1,
	})
	return &Consumer{reader: reader, results: results, logger: logger}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.handle(ctx, msg.Value)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logf("commit error: %v", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	var event deviceEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logf("malformed device event dropped: %v", err)
		return
	}
	if event.CommandID == "" {
		c.logf("device event without command_id dropped: type=%s terminal=%s", event.EventType, event.TerminalID)
		return
	}
	if !event.ReportedAt.IsZero() {
		metrics.SetDeviceEventLag(time.Since(event.ReportedAt))
	}

	var err error
	switch event.EventType {
	case EventCommandAck:
		err = c.results.HandleAck(ctx, event.CommandID)
	case EventCommandExecuting:
		err = c.results.HandleStarted(ctx, event.CommandID)
	case EventCommandResult:
		err = c.results.HandleResult(ctx, commandsapp.ResultInput{
			CommandID:  event.CommandID,
			Status:     event.Status,
			Message:    event.Message,
			ReportedAt: event.ReportedAt,
		})
	default:
		c.logf("unknown device event type dropped: %s", event.EventType)
		return
	}
	if err != nil {
		c.logf("device event handling failed: type=%s command=%s: %v", event.EventType, event.CommandID, err)
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
