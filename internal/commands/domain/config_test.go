package commands

import (
	"errors"
	"testing"
)

func TestPolicyForKnownTypes(t *testing.T) {
	for _, commandType := range AllTypes() {
		policy, err := PolicyFor(commandType)
		if err != nil {
			t.Fatalf("policy for %s: %v", commandType, err)
		}
		if policy.DefaultPriority <= 0 {
			t.Fatalf("%s: non-positive default priority", commandType)
		}
		if policy.MaxRetries <= 0 {
			t.Fatalf("%s: non-positive max retries", commandType)
		}
		if policy.ExpirationMinutes <= 0 {
			t.Fatalf("%s: non-positive expiration", commandType)
		}
	}
}

func TestPolicyForUnknownType(t *testing.T) {
	if _, err := PolicyFor(Type("reboot_universe")); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if KnownType(Type("reboot_universe")) {
		t.Fatal("expected unknown type")
	}
}

func TestHighRiskPoliciesRequireConfirmation(t *testing.T) {
	for _, commandType := range []Type{TypeShutdown, TypeFactoryReset} {
		policy, err := PolicyFor(commandType)
		if err != nil {
			t.Fatalf("policy for %s: %v", commandType, err)
		}
		if !policy.RequiresPin {
			t.Fatalf("%s: expected pin requirement", commandType)
		}
		if !policy.DoubleConfirm {
			t.Fatalf("%s: expected double confirmation", commandType)
		}
	}
	if policy, _ := PolicyFor(TypeFactoryReset); policy.MaxRetries != 1 {
		t.Fatalf("factory reset max retries: got %d, want 1", policy.MaxRetries)
	}
}
