// Package watcher watches a directory for new recordings, admitting each
// one to the ingest queue only once it passes a multi-sample stability
// gate.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/getpipe-dev/orchestrator/internal/queue"
)

const (
	// DefaultStabilityDelay is how long size+mtime must be unchanged.
	DefaultStabilityDelay = 10 * time.Second
	// DefaultMinAge is the minimum time since first observation.
	DefaultMinAge = 30 * time.Second
	// DefaultMinStableSamples is how many consecutive stable samples are required.
	DefaultMinStableSamples = 2
)

// Prober validates a file that requires transcoding before it is admitted,
// e.g. confirming ffprobe reports a valid duration. Pluggable so tests
// never need to shell out to a real binary.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

// Transcoder produces a readable, processable output for formats the
// pipeline cannot consume directly.
type Transcoder interface {
	Transcode(ctx context.Context, path string) error
}

// Config controls which files the watcher admits and how strict the
// stability gate is.
type Config struct {
	Dir               string
	Extensions        []string // without leading dot, e.g. "wav", "m4a"
	StabilityDelay    time.Duration
	MinAge            time.Duration
	MinStableSamples  int
	TranscodeExts     map[string]bool // extensions requiring Transcoder
	Prober            Prober
	Transcoder        Transcoder
}

// DefaultConfig returns a Config with the documented thresholds.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Extensions:       []string{"wav", "m4a", "mp3"},
		StabilityDelay:   DefaultStabilityDelay,
		MinAge:           DefaultMinAge,
		MinStableSamples: DefaultMinStableSamples,
	}
}

type sample struct {
	size         int64
	mtime        time.Time
	firstSeen    time.Time
	lastChanged  time.Time
	stableStreak int
}

// ScanSummary reports what a single scan pass did.
type ScanSummary struct {
	NewFiles         int
	AlreadyQueued    int
	AlreadyProcessed int
	ResetForRetry    int
	Deferred         int
	Errors           int
}

// Watcher holds the in-memory pending map across scans.
type Watcher struct {
	cfg     Config
	q       *queue.Queue
	pending map[string]*sample
	mu      sync.Mutex
	onNew   func(path, id string)
}

// New returns a Watcher bound to q.
func New(cfg Config, q *queue.Queue) *Watcher {
	return &Watcher{cfg: cfg, q: q, pending: make(map[string]*sample)}
}

// OnNewFile registers a callback invoked whenever scan admits a new file to
// the queue — the "output channel for subscribers" the contract describes.
func (w *Watcher) OnNewFile(fn func(path, id string)) {
	w.onNew = fn
}

func (w *Watcher) extensionMatches(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ScanOnce runs every stability predicate in a single pass over the
// directory and reports an aggregate summary.
func (w *Watcher) ScanOnce(ctx context.Context) (ScanSummary, error) {
	var summary ScanSummary

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return summary, fmt.Errorf("reading watch directory: %w", err)
	}

	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || !w.extensionMatches(e.Name()) {
			continue
		}
		path := filepath.Join(w.cfg.Dir, e.Name())
		info, err := e.Info()
		if err != nil {
			summary.Errors++
			continue
		}

		s, known := w.pending[path]
		if !known {
			s = &sample{size: info.Size(), mtime: info.ModTime(), firstSeen: now, lastChanged: now}
			w.pending[path] = s
			summary.Deferred++
			continue
		}

		if info.Size() != s.size || !info.ModTime().Equal(s.mtime) {
			s.size = info.Size()
			s.mtime = info.ModTime()
			s.lastChanged = now
			s.stableStreak = 0
			summary.Deferred++
			continue
		}

		if now.Sub(s.lastChanged) < w.cfg.StabilityDelay {
			summary.Deferred++
			continue
		}
		if now.Sub(s.firstSeen) < w.cfg.MinAge {
			summary.Deferred++
			continue
		}
		s.stableStreak++
		if s.stableStreak < w.cfg.MinStableSamples {
			summary.Deferred++
			continue
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if w.cfg.TranscodeExts[ext] {
			if w.cfg.Prober != nil {
				if err := w.cfg.Prober.Probe(ctx, path); err != nil {
					s.stableStreak = 0
					summary.Deferred++
					continue
				}
			}
			if w.cfg.Transcoder != nil {
				if err := w.cfg.Transcoder.Transcode(ctx, path); err != nil {
					s.stableStreak = 0
					summary.Deferred++
					continue
				}
			}
		}

		id, outcome, err := w.q.Enqueue(path, info.Size(), s.firstSeen)
		if err != nil {
			summary.Errors++
			continue
		}
		delete(w.pending, path)

		switch outcome {
		case queue.QueuedNew:
			summary.NewFiles++
			if w.onNew != nil {
				w.onNew(path, id)
			}
		case queue.AlreadyQueued:
			summary.AlreadyQueued++
		case queue.AlreadyProcessed:
			summary.AlreadyProcessed++
		case queue.ResetForRetryOutcome:
			summary.ResetForRetry++
		}
	}

	return summary, nil
}

// Watch runs ScanOnce on every fsnotify create or write event in dir (other
// event kinds are ignored) and on a periodic
// fallback tick (to catch stability transitions fsnotify itself can't
// signal), until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}

	ticker := time.NewTicker(w.cfg.StabilityDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ScanOnce(ctx); err != nil {
				return err
			}
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, err := w.ScanOnce(ctx); err != nil {
				return err
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
