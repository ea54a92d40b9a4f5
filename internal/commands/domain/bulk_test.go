package commands

import "testing"

func TestFanOutStatus(t *testing.T) {
	cases := []struct {
		name      string
		total     int
		failed    int
		scheduled bool
		want      string
	}{
		{"all rejected", 3, 3, false, BulkStatusFailed},
		{"none rejected scheduled", 3, 0, true, BulkStatusPending},
		{"none rejected immediate", 3, 0, false, BulkStatusCompleted},
		{"some rejected", 3, 1, false, BulkStatusPartiallyCompleted},
	}
	for _, c := range cases {
		if got := FanOutStatus(c.total, c.failed, c.scheduled); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name      string
		total     int
		completed int
		failed    int
		want      string
	}{
		{"still pending", 3, 1, 1, BulkStatusInProgress},
		{"all completed", 3, 3, 0, BulkStatusCompleted},
		{"all failed", 3, 0, 3, BulkStatusFailed},
		{"mixed", 3, 2, 1, BulkStatusPartiallyCompleted},
	}
	for _, c := range cases {
		if got := AggregateStatus(c.total, c.completed, c.failed); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestPendingTerminalsInvariant(t *testing.T) {
	op := &BulkOperation{TotalTerminals: 5, CompletedTerminals: 2, FailedTerminals: 1}
	if got := op.PendingTerminals(); got != 2 {
		t.Fatalf("got %d pending, want 2", got)
	}
	if op.CompletedTerminals+op.FailedTerminals+op.PendingTerminals() != op.TotalTerminals {
		t.Fatal("tally invariant broken")
	}

	over := &BulkOperation{TotalTerminals: 2, CompletedTerminals: 2, FailedTerminals: 1}
	if got := over.PendingTerminals(); got != 0 {
		t.Fatalf("got %d pending, want clamp to 0", got)
	}
}

func TestResolvedAsFailure(t *testing.T) {
	for _, status := range []string{StatusFailed, StatusExpired, StatusCancelled} {
		if !ResolvedAsFailure(status) {
			t.Fatalf("expected %s to count as failure", status)
		}
	}
	for _, status := range []string{StatusCompleted, StatusExecuting, StatusPending} {
		if ResolvedAsFailure(status) {
			t.Fatalf("expected %s to not count as failure", status)
		}
	}
}
