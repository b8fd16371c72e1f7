// Package eventlog implements the append-only, newline-delimited event
// store that is the sole source of truth for run state.
package eventlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/getpipe-dev/orchestrator/internal/config"
	"github.com/google/uuid"
)

// Kind identifies the type of an event.
type Kind string

const (
	RunStarted         Kind = "run_started"
	RunCompleted       Kind = "run_completed"
	RunFailed          Kind = "run_failed"
	StepStarted        Kind = "step_started"
	StepCompleted      Kind = "step_completed"
	StepFailed         Kind = "step_failed"
	StepRetrying       Kind = "step_retrying"
	SafetyLimitReached Kind = "safety_limit_reached"
)

// Status is the derived status carried alongside an event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Event is one immutable, append-only record in a run's log.
type Event struct {
	ID             string  `json:"id"`
	Timestamp      string  `json:"timestamp"`
	RunID          string  `json:"run_id"`
	StepID         string  `json:"step_id,omitempty"`
	EventType      Kind    `json:"event_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	PayloadSummary string  `json:"payload_summary"`
	Status         Status  `json:"status"`
	DurationMs     *int64  `json:"duration_ms,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// NewEvent constructs an Event stamped with the current time and a fresh ID.
func NewEvent(runID, stepID string, kind Kind, idempotencyKey, summary string, status Status) Event {
	return Event{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		RunID:          runID,
		StepID:         stepID,
		EventType:      kind,
		IdempotencyKey: idempotencyKey,
		PayloadSummary: redact(summary),
		Status:         status,
	}
}

// WithDuration returns a copy of e with DurationMs set.
func (e Event) WithDuration(ms int64) Event {
	e.DurationMs = &ms
	return e
}

// WithError returns a copy of e with Error set.
func (e Event) WithError(msg string) Event {
	e.Error = redact(msg)
	return e
}

// Store is an append-only event log scoped to a single run directory.
type Store struct {
	runID        string
	runDir       string
	eventsPath   string
	artifactsDir string
}

// Open creates (or reuses) the run directory and its artifact subdirectory.
// No events are loaded; callers that need prior state must call Replay.
func Open(runID string) (*Store, error) {
	runDir, artifactsDir, err := config.EnsureRunDirs(runID)
	if err != nil {
		return nil, err
	}
	return &Store{
		runID:        runID,
		runDir:       runDir,
		eventsPath:   filepath.Join(runDir, "events.jsonl"),
		artifactsDir: artifactsDir,
	}, nil
}

// RunDir returns the run's root directory.
func (s *Store) RunDir() string { return s.runDir }

// ArtifactsDir returns the run's artifact subdirectory.
func (s *Store) ArtifactsDir() string { return s.artifactsDir }

// Append atomically writes one serialized record followed by a newline and
// flushes it to the OS. Concurrent appends from within one process must be
// serialized by the caller; external concurrent writers are not supported.
func (s *Store) Append(e Event) error {
	f, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serializing event: %w", err)
	}
	line = append(line, '\n')

	n, err := f.Write(line)
	if err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("short write appending event: wrote %d of %d bytes", n, len(line))
	}
	return f.Sync()
}

// Replay reads every line, parses it, and returns the events in file order.
// Empty files and blank lines are skipped. A malformed line is a parse error.
func (s *Store) Replay() ([]Event, error) {
	f, err := os.Open(s.eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing event: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// IsStepCompleted reports whether any replayed event has the given
// idempotency key and kind StepCompleted.
func (s *Store) IsStepCompleted(idempotencyKey string) (bool, error) {
	events, err := s.Replay()
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.IdempotencyKey == idempotencyKey && e.EventType == StepCompleted {
			return true, nil
		}
	}
	return false, nil
}

// LastEventOfKind returns the most recent event of the given kind, if any.
func (s *Store) LastEventOfKind(kind Kind) (*Event, error) {
	events, err := s.Replay()
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == kind {
			return &events[i], nil
		}
	}
	return nil, nil
}

// Find returns every replayed event for which predicate returns true.
func (s *Store) Find(predicate func(Event) bool) ([]Event, error) {
	events, err := s.Replay()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if predicate(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRuns enumerates run directories under the runs root whose names parse
// as valid run identifiers.
func ListRuns() ([]string, error) {
	runsDir := config.Current().RunsDir
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		runs = append(runs, e.Name())
	}
	sort.Strings(runs)
	return runs, nil
}

// HashInput returns the first 16 hex chars of SHA-256(input), the input
// fingerprint used inside idempotency keys and elsewhere.
func HashInput(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])[:16]
}

// IdempotencyKey formats the canonical "{run_id}:{step}:{fingerprint}" key.
func IdempotencyKey(runID, step string, input []byte) string {
	return fmt.Sprintf("%s:%s:%s", runID, step, HashInput(input))
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)(secret|api[_-]?key|token|password)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://[^:/\s]+:[^@/\s]+@`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`glpat-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`),
}

// redact blanks out substrings of s that look like secrets, matching the
// credential patterns a human summary must never contain.
func redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
