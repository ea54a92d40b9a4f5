package channel

import "testing"

func TestTargetTopic(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		want   string
	}{
		{"single terminal", Target{VenueID: "venue-1", TerminalID: "term-1"}, "venues/venue-1/terminals/term-1"},
		{"whole venue", Target{VenueID: "venue-1"}, "venues/venue-1/terminals"},
	}
	for _, c := range cases {
		if got := c.target.Topic(); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}
