package commands

import "fmt"

// Type enumerates the remote commands a terminal understands.
type Type string

const (
	TypeLock            Type = "lock"
	TypeUnlock          Type = "unlock"
	TypeRestart         Type = "restart"
	TypeShutdown        Type = "shutdown"
	TypeReactivate      Type = "reactivate"
	TypeMaintenance     Type = "maintenance_mode"
	TypeExitMaintenance Type = "exit_maintenance"
	TypeFactoryReset    Type = "factory_reset"
	TypeUpdateSoftware  Type = "update_software"
	TypeSyncConfig      Type = "sync_config"
)

// Risk levels for command policies.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Policy is the static per-type delivery policy.
type Policy struct {
	RequiresPin       bool
	RiskLevel         string
	DefaultPriority   int
	MaxRetries        int
	ExpirationMinutes int
	DoubleConfirm     bool
}

var policies = map[Type]Policy{
	TypeLock:            {RequiresPin: false, RiskLevel: RiskMedium, DefaultPriority: 8, MaxRetries: 3, ExpirationMinutes: 60},
	TypeUnlock:          {RequiresPin: false, RiskLevel: RiskMedium, DefaultPriority: 8, MaxRetries: 3, ExpirationMinutes: 60},
	TypeRestart:         {RequiresPin: false, RiskLevel: RiskMedium, DefaultPriority: 6, MaxRetries: 3, ExpirationMinutes: 30},
	TypeShutdown:        {RequiresPin: true, RiskLevel: RiskHigh, DefaultPriority: 9, MaxRetries: 2, ExpirationMinutes: 30, DoubleConfirm: true},
	TypeReactivate:      {RequiresPin: false, RiskLevel: RiskMedium, DefaultPriority: 9, MaxRetries: 3, ExpirationMinutes: 60},
	TypeMaintenance:     {RequiresPin: false, RiskLevel: RiskLow, DefaultPriority: 5, MaxRetries: 3, ExpirationMinutes: 120},
	TypeExitMaintenance: {RequiresPin: false, RiskLevel: RiskLow, DefaultPriority: 5, MaxRetries: 3, ExpirationMinutes: 120},
	TypeFactoryReset:    {RequiresPin: true, RiskLevel: RiskCritical, DefaultPriority: 10, MaxRetries: 1, ExpirationMinutes: 15, DoubleConfirm: true},
	TypeUpdateSoftware:  {RequiresPin: false, RiskLevel: RiskHigh, DefaultPriority: 3, MaxRetries: 2, ExpirationMinutes: 240},
	TypeSyncConfig:      {RequiresPin: false, RiskLevel: RiskLow, DefaultPriority: 4, MaxRetries: 5, ExpirationMinutes: 120},
}

// PolicyFor resolves the delivery policy for a command type.
func PolicyFor(t Type) (Policy, error) {
	policy, ok := policies[t]
	if !ok {
		return Policy{}, fmt.Errorf("commands: %w: %q", ErrUnknownType, t)
	}
	return policy, nil
}

// KnownType reports whether t is part of the command vocabulary.
func KnownType(t Type) bool {
	_, ok := policies[t]
	return ok
}

// AllTypes lists every known command type.
func AllTypes() []Type {
	result := make([]Type, 0, len(policies))
	for t := range policies {
		result = append(result, t)
	}
	return result
}
