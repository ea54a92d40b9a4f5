package commands

import (
	"testing"
	"time"
)

func TestCanTransitionForwardPath(t *testing.T) {
	path := []string{StatusPending, StatusQueued, StatusSent, StatusReceived, StatusExecuting, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransitionRejectsBackwards(t *testing.T) {
	cases := [][2]string{
		{StatusSent, StatusQueued},
		{StatusExecuting, StatusReceived},
		{StatusCompleted, StatusExecuting},
		{StatusReceived, StatusSent},
	}
	for _, c := range cases {
		if CanTransition(c[0], c[1]) {
			t.Fatalf("expected %s -> %s to be illegal", c[0], c[1])
		}
	}
}

func TestCanTransitionExpiry(t *testing.T) {
	for _, from := range []string{StatusPending, StatusQueued, StatusSent, StatusReceived, StatusExecuting} {
		if !CanTransition(from, StatusExpired) {
			t.Fatalf("expected %s -> expired to be legal", from)
		}
	}
	for _, from := range []string{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired} {
		if CanTransition(from, StatusExpired) {
			t.Fatalf("expected %s -> expired to be illegal", from)
		}
	}
}

func TestCanTransitionCancellation(t *testing.T) {
	if !CanTransition(StatusPending, StatusCancelled) || !CanTransition(StatusQueued, StatusCancelled) {
		t.Fatal("expected pending/queued to be cancellable")
	}
	for _, from := range []string{StatusSent, StatusReceived, StatusExecuting, StatusCompleted} {
		if CanTransition(from, StatusCancelled) {
			t.Fatalf("expected %s to not be cancellable", from)
		}
	}
}

func TestCountsAttemptOnDeliveryProgress(t *testing.T) {
	for _, status := range []string{StatusSent, StatusReceived, StatusExecuting} {
		if !CountsAttempt(status) {
			t.Fatalf("expected %s to count an attempt", status)
		}
	}
	for _, status := range []string{StatusPending, StatusQueued, StatusCompleted, StatusFailed, StatusExpired, StatusCancelled} {
		if CountsAttempt(status) {
			t.Fatalf("expected %s to not count an attempt", status)
		}
	}
}

func TestDueAndExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmd := &Command{ScheduledFor: now.Add(time.Hour), ExpiresAt: now.Add(2 * time.Hour)}
	if cmd.Due(now) {
		t.Fatal("expected scheduled command to not be due yet")
	}
	if !cmd.Due(now.Add(time.Hour)) {
		t.Fatal("expected command to be due at its scheduled time")
	}
	if cmd.ExpiredAt(now) {
		t.Fatal("expected command to not be expired yet")
	}
	if !cmd.ExpiredAt(now.Add(2 * time.Hour)) {
		t.Fatal("expected command to be expired at its deadline")
	}

	immediate := &Command{ExpiresAt: now.Add(time.Hour)}
	if !immediate.Due(now) {
		t.Fatal("expected unscheduled command to be due immediately")
	}
}
