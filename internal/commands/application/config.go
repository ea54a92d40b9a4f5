package application

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	commands "tpv-fleet/internal/commands/domain"
)

// PolicyOverride adjusts selected fields of a built-in command policy.
// Nil fields keep the default.
type PolicyOverride struct {
	DefaultPriority   *int  `yaml:"default_priority"`
	MaxRetries        *int  `yaml:"max_retries"`
	ExpirationMinutes *int  `yaml:"expiration_minutes"`
	RequiresPin       *bool `yaml:"requires_pin"`
	DoubleConfirm     *bool `yaml:"double_confirm"`
}

// FleetConfig tunes delivery behavior per deployment.
type FleetConfig struct {
	PresenceThresholdSeconds int                       `yaml:"presence_threshold_seconds"`
	ScheduledSweepSeconds    int                       `yaml:"scheduled_sweep_seconds"`
	ExpirySweepSeconds       int                       `yaml:"expiry_sweep_seconds"`
	SweepBatchSize           int                       `yaml:"sweep_batch_size"`
	Overrides                map[string]PolicyOverride `yaml:"overrides"`
}

// LoadFleetConfig loads the fleet config from FLEET_CONFIG when set,
// falling back to defaults.
func LoadFleetConfig() (FleetConfig, error) {
	cfg := FleetConfig{
		PresenceThresholdSeconds: 120,
		ScheduledSweepSeconds:    30,
		ExpirySweepSeconds:       45,
		SweepBatchSize:           100,
	}
	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.PresenceThresholdSeconds <= 0 {
		cfg.PresenceThresholdSeconds = 120
	}
	if cfg.ScheduledSweepSeconds <= 0 {
		cfg.ScheduledSweepSeconds = 30
	}
	if cfg.ExpirySweepSeconds <= 0 {
		cfg.ExpirySweepSeconds = 45
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return cfg, nil
}

// PresenceThreshold returns the heartbeat freshness window.
func (c FleetConfig) PresenceThreshold() time.Duration {
	return time.Duration(c.PresenceThresholdSeconds) * time.Second
}

// ScheduledSweepInterval returns the scheduled-command sweep interval.
func (c FleetConfig) ScheduledSweepInterval() time.Duration {
	return time.Duration(c.ScheduledSweepSeconds) * time.Second
}

// ExpirySweepInterval returns the expiry sweep interval.
func (c FleetConfig) ExpirySweepInterval() time.Duration {
	return time.Duration(c.ExpirySweepSeconds) * time.Second
}

// PolicyFor resolves the effective policy for a command type: the built-in
// policy merged with the deployment override.
func (c FleetConfig) PolicyFor(t commands.Type) (commands.Policy, error) {
	policy, err := commands.PolicyFor(t)
	if err != nil {
		return commands.Policy{}, err
	}
	override, ok := c.Overrides[string(t)]
	if !ok {
		return policy, nil
	}
	if override.DefaultPriority != nil {
		policy.DefaultPriority = *override.DefaultPriority
	}
	if override.MaxRetries != nil {
		policy.MaxRetries = *override.MaxRetries
	}
	if override.ExpirationMinutes != nil {
		policy.ExpirationMinutes = *override.ExpirationMinutes
	}
	if override.RequiresPin != nil {
		policy.RequiresPin = *override.RequiresPin
	}
	if override.DoubleConfirm != nil {
		policy.DoubleConfirm = *override.DoubleConfirm
	}
	return policy, nil
}
