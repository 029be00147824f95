package main

import (
	"testing"

	"github.com/imagvfx/jobq/rpc"
)

func TestCutOrFill(t *testing.T) {
	cases := []struct {
		s        string
		n        int
		fillLeft bool
		want     string
	}{
		{"done", 7, false, "done   "},
		{"42%", 4, true, " 42%"},
		{"running", 3, false, "run"},
		{"x", -1, false, "x"},
	}
	for _, c := range cases {
		got := cutOrFill(c.s, c.n, c.fillLeft)
		if got != c.want {
			t.Fatalf("cutOrFill(%q, %d, %v): got %q, want %q", c.s, c.n, c.fillLeft, got, c.want)
		}
	}
}

func TestFormatInfo(t *testing.T) {
	got := formatInfo(rpc.JobInfo{
		ID:        "sh010",
		Status:    "running",
		Progress:  0.72,
		Remaining: 90,
		Message:   "step 3 of 4",
	})
	want := "sh010                    running  72%    1m30s - step 3 of 4"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
