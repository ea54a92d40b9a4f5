package terminals

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing terminal record.
var ErrNotFound = errors.New("terminal: not found")

// Operating statuses reported by terminals and mutated by command results.
const (
	OperatingActive      = "active"
	OperatingMaintenance = "maintenance"
	OperatingInactive    = "inactive"
)

// Terminal is a point-of-sale device registered at a venue. The lifecycle of
// the record is owned by the device registry; the command core only reads
// connectivity and applies result side effects.
type Terminal struct {
	ID              string    `json:"id"`
	VenueID         string    `json:"venue_id"`
	Name            string    `json:"name"`
	SerialNumber    string    `json:"serial_number"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	IsLocked        bool      `json:"is_locked"`
	LockedAt        time.Time `json:"locked_at,omitempty"`
	OperatingStatus string    `json:"operating_status"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Online reports whether the last heartbeat is fresh enough at now.
func (t *Terminal) Online(now time.Time, threshold time.Duration) bool {
	if t == nil || t.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(t.LastHeartbeat) < threshold
}

// Update is a partial mutation applied to a terminal. Nil fields are left
// untouched.
type Update struct {
	IsLocked        *bool
	LockedAt        *time.Time
	OperatingStatus *string
	LastHeartbeat   *time.Time
}
