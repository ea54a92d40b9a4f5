package channel

import (
	"context"
	"path"
)

// Target addresses a publish destination: a single terminal, or every
// terminal of a venue when TerminalID is empty.
type Target struct {
	VenueID    string
	TerminalID string
}

// Topic renders the channel topic for the target.
func (t Target) Topic() string {
	if t.TerminalID == "" {
		return path.Join("venues", t.VenueID, "terminals")
	}
	return path.Join("venues", t.VenueID, "terminals", t.TerminalID)
}

// Channel is the at-most-once publish boundary toward terminals. A publish
// error means the message may not have left the platform; it never means a
// device rejected it.
type Channel interface {
	Publish(ctx context.Context, target Target, eventType string, payload []byte) error
}
