package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestEnqueue_NewThenIdempotent(t *testing.T) {
	dir := t.TempDir()
	q := OpenAt(filepath.Join(dir, "queue.jsonl"))
	path := writeTempFile(t, dir, "a.wav", "audio-bytes")

	id, outcome, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if outcome != QueuedNew {
		t.Fatalf("outcome = %v, want queued-new", outcome)
	}
	if len(id) != 24 {
		t.Fatalf("id length = %d, want 24", len(id))
	}

	_, outcome, err = q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if outcome != AlreadyQueued {
		t.Fatalf("outcome = %v, want already-queued", outcome)
	}
}

func TestEnqueue_FullLifecycleAndRetry(t *testing.T) {
	dir := t.TempDir()
	q := OpenAt(filepath.Join(dir, "queue.jsonl"))
	path := writeTempFile(t, dir, "a.wav", "audio-bytes")

	id, _, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.MarkProcessing(id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := q.MarkFailed(id, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	_, outcome, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if outcome != ResetForRetryOutcome {
		t.Fatalf("outcome = %v, want reset-for-retry", outcome)
	}

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", item.RetryCount)
	}
	if item.Status != StatusPending {
		t.Fatalf("Status = %v, want pending", item.Status)
	}
}

func TestEnqueue_AlreadyProcessedNoWrite(t *testing.T) {
	dir := t.TempDir()
	q := OpenAt(filepath.Join(dir, "queue.jsonl"))
	path := writeTempFile(t, dir, "a.wav", "audio-bytes")

	id, _, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.MarkProcessing(id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := q.MarkDone(id); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	before, err := os.Stat(q.path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	_, outcome, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if outcome != AlreadyProcessed {
		t.Fatalf("outcome = %v, want already-processed", outcome)
	}
	after, err := os.Stat(q.path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if before.Size() != after.Size() {
		t.Fatal("already-processed enqueue should not write a new event")
	}
}

func TestMarkProcessing_RequiresPending(t *testing.T) {
	dir := t.TempDir()
	q := OpenAt(filepath.Join(dir, "queue.jsonl"))
	path := writeTempFile(t, dir, "a.wav", "audio-bytes")

	id, _, err := q.Enqueue(path, 11, time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.MarkProcessing(id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := q.MarkProcessing(id); err == nil {
		t.Fatal("expected InvalidTransition marking processing twice")
	}
}

func TestGetPending_FIFOOrder(t *testing.T) {
	dir := t.TempDir()
	q := OpenAt(filepath.Join(dir, "queue.jsonl"))
	pathA := writeTempFile(t, dir, "a.wav", "aaa")
	pathB := writeTempFile(t, dir, "b.wav", "bbb")

	now := time.Now()
	if _, _, err := q.Enqueue(pathB, 3, now.Add(2*time.Second)); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	if _, _, err := q.Enqueue(pathA, 3, now); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}

	pending, err := q.GetPending()
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("GetPending length = %d, want 2", len(pending))
	}
	if pending[0].Data.FileName != "a.wav" {
		t.Fatalf("GetPending[0] = %s, want a.wav (oldest first)", pending[0].Data.FileName)
	}
}
