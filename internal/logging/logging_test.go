package logging

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// testLogger returns a Logger that writes to the given buffer (no file).
func testLogger(buf *bytes.Buffer) *Logger {
	return &Logger{w: buf}
}

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf)
	l.Log("hello %s", "world")

	line := buf.String()
	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] hello world\n$`)
	if !re.MatchString(line) {
		t.Fatalf("unexpected format: %q", line)
	}
}

func TestStepLogFormat(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf)
	sl := l.Step("transcribe")
	sl.Log("executing transcribe (attempt %d)", 1)

	line := buf.String()
	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] \[transcribe\] executing transcribe \(attempt 1\)\n$`)
	if !re.MatchString(line) {
		t.Fatalf("unexpected format: %q", line)
	}
}

func TestStepDoneCompleted(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf)
	sl := l.Step("transcribe")
	sl.Done("completed")

	line := buf.String()
	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] \[transcribe\] completed\n$`)
	if !re.MatchString(line) {
		t.Fatalf("unexpected Done format: %q", line)
	}
}

func TestStepDoneFailed(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf)
	sl := l.Step("transcribe")
	sl.Done("failed")

	line := buf.String()
	if !strings.Contains(line, "[transcribe] failed") {
		t.Fatalf("expected failed status in output, got: %q", line)
	}
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sl := l.Step(fmt.Sprintf("step-%d", n))
			sl.Log("msg %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 100 {
		t.Fatalf("expected 100 lines, got %d", len(lines))
	}

	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] \[step-\d+\] msg \d+$`)
	for i, line := range lines {
		if !re.MatchString(line) {
			t.Fatalf("line %d malformed: %q", i, line)
		}
	}
}
