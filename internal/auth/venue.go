package auth

import (
	"context"
	"errors"
)

var (
	// ErrTenantMismatch indicates a resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("resource not found")
)

// VenueTenantChecker validates venue tenant ownership.
type VenueTenantChecker interface {
	EnsureVenueTenant(ctx context.Context, tenantID, venueID string) error
}

// VenueReader is the minimal venue lookup the checker needs.
type VenueReader interface {
	TenantOf(ctx context.Context, venueID string) (string, error)
}

// VenueChecker checks venue ownership through the venue directory.
type VenueChecker struct {
	venues VenueReader
}

// NewVenueChecker constructs a VenueChecker.
func NewVenueChecker(venues VenueReader) *VenueChecker {
	if venues == nil {
		return nil
	}
	return &VenueChecker{venues: venues}
}

// EnsureVenueTenant verifies the venue belongs to the tenant.
func (c *VenueChecker) EnsureVenueTenant(ctx context.Context, tenantID, venueID string) error {
	if c == nil || c.venues == nil {
		return nil
	}
	if tenantID == "" || venueID == "" {
		return nil
	}
	owner, err := c.venues.TenantOf(ctx, venueID)
	if err != nil {
		return err
	}
	if owner == "" {
		return ErrNotFound
	}
	if owner != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
