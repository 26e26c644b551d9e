package mux

import "testing"

func TestSanitizeSessionName(t *testing.T) {
	cases := map[string]string{
		"worker-1":        "worker-1",
		"worker.1 space":  "worker_1_space",
		"":                "session",
		"valid_Name-123":  "valid_Name-123",
		"has/slash\\path": "has_slash_path",
	}
	for in, want := range cases {
		if got := SanitizeSessionName(in); got != want {
			t.Errorf("SanitizeSessionName(%q) = %q, want %q", in, got, want)
		}
	}
}
