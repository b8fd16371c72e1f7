package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getpipe-dev/orchestrator/internal/config"
	"github.com/google/uuid"
)

func withTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ORCH_HOME", dir)
	config.Reset()
	t.Cleanup(config.Reset)
}

func TestOpenAppendReplay(t *testing.T) {
	withTempHome(t)
	runID := uuid.NewString()
	s, err := Open(runID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := NewEvent(runID, "", RunStarted, runID+"::", "run started", StatusRunning)
	if err := s.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 1 || events[0].EventType != RunStarted {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestIsStepCompleted(t *testing.T) {
	withTempHome(t)
	runID := uuid.NewString()
	s, err := Open(runID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := IdempotencyKey(runID, "transcribe", []byte("hello"))
	done, err := s.IsStepCompleted(key)
	if err != nil {
		t.Fatalf("IsStepCompleted: %v", err)
	}
	if done {
		t.Fatal("expected not completed before any event")
	}

	if err := s.Append(NewEvent(runID, "transcribe", StepCompleted, key, "done", StatusCompleted)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	done, err = s.IsStepCompleted(key)
	if err != nil {
		t.Fatalf("IsStepCompleted: %v", err)
	}
	if !done {
		t.Fatal("expected completed after StepCompleted event")
	}
}

func TestReplaySkipsBlankLines(t *testing.T) {
	withTempHome(t)
	runID := uuid.NewString()
	s, err := Open(runID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := filepath.Join(s.RunDir(), "events.jsonl")
	content := "\n   \n" + `{"id":"x","timestamp":"2024-01-01T00:00:00Z","run_id":"` + runID + `","event_type":"run_started","idempotency_key":"k","payload_summary":"s","status":"running"}` + "\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	events, err := s.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after skipping blanks, got %d", len(events))
	}
}

func TestReplayMalformedLineFails(t *testing.T) {
	withTempHome(t)
	runID := uuid.NewString()
	s, err := Open(runID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := filepath.Join(s.RunDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := s.Replay(); err == nil {
		t.Fatal("expected a parse error for a malformed line")
	}
}

func TestHashInputDeterministic(t *testing.T) {
	a := HashInput([]byte("same input"))
	b := HashInput([]byte("same input"))
	if a != b {
		t.Fatalf("HashInput not deterministic: %q != %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("HashInput length = %d, want 16", len(a))
	}
	if c := HashInput([]byte("different input")); c == a {
		t.Fatal("HashInput collided on different inputs")
	}
}

func TestRedactSecrets(t *testing.T) {
	summary := "token: abcd1234abcd1234abcd"
	e := NewEvent("r", "s", StepStarted, "k", summary, StatusRunning)
	if e.PayloadSummary == summary {
		t.Fatalf("expected secret-looking summary to be redacted, got %q", e.PayloadSummary)
	}
}

func TestListRuns(t *testing.T) {
	withTempHome(t)
	a := uuid.NewString()
	b := uuid.NewString()
	if _, err := Open(a); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	if _, err := Open(b); err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(config.Current().RunsDir, "not-a-uuid"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	runs, err := ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns = %v, want 2 valid run ids", runs)
	}
}
