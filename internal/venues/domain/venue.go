package venues

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing venue record.
var ErrNotFound = errors.New("venue: not found")

// Venue is the tenant-owned location terminals belong to.
type Venue struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
