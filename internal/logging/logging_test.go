package logging

import "testing"

func TestDebugEnabled(t *testing.T) {
	cases := map[string]bool{"": false, "0": false, "1": true, "TRUE": true, " yes ": true, "nope": false}
	for in, want := range cases {
		got := DebugEnabled(func(string) string { return in })
		if got != want {
			t.Fatalf("DebugEnabled(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewQuietByDefault(t *testing.T) {
	t.Setenv("USAGESYNC_DEBUG", "")
	logger, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(-1) || logger.Core().Enabled(0) {
		t.Fatal("default logger should be a no-op")
	}
}

func TestNewVerbose(t *testing.T) {
	t.Setenv("USAGESYNC_DEBUG", "")
	logger, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("verbose logger should log info")
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("verbose logger without debug should not log debug")
	}
}
