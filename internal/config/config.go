// Package config resolves the process-wide home directory and derived
// paths the rest of the orchestrator reads and writes under.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Paths holds the resolved on-disk layout described in SPEC_FULL.md §6.
type Paths struct {
	Home       string // {home}
	RunsDir    string // {home}/runs
	QueuePath  string // {home}/voice_queue.jsonl
	VoiceCache string // {home}/voice_cache
	LibraryDir string // {home}/library
	LogDir     string // {home}/logs
}

var (
	once     sync.Once
	resolved Paths
	mu       sync.Mutex
)

// envHomeVar is the override checked before falling back to ~/.orchestrator.
const envHomeVar = "ORCH_HOME"

func resolve() Paths {
	home := os.Getenv(envHomeVar)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			panic("cannot determine home directory: " + err.Error())
		}
		home = filepath.Join(userHome, ".orchestrator")
	}
	return Paths{
		Home:       home,
		RunsDir:    filepath.Join(home, "runs"),
		QueuePath:  filepath.Join(home, "voice_queue.jsonl"),
		VoiceCache: filepath.Join(home, "voice_cache"),
		LibraryDir: filepath.Join(home, "library"),
		LogDir:     filepath.Join(home, "logs"),
	}
}

// Current returns the lazily-resolved, process-wide Paths value. It is
// resolved once from ORCH_HOME (or ~/.orchestrator) and cached; call Reset
// to force re-resolution (the test seam required by SPEC_FULL.md §9).
func Current() Paths {
	mu.Lock()
	defer mu.Unlock()
	once.Do(func() {
		resolved = resolve()
	})
	return resolved
}

// Reset forces the next call to Current to re-resolve from the environment.
// Intended for tests that set ORCH_HOME to a temp directory.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	once = sync.Once{}
	resolved = Paths{}
}

// EnsureRunDirs creates the run directory and its artifact subdirectory.
func EnsureRunDirs(runID string) (runDir, artifactsDir string, err error) {
	p := Current()
	runDir = filepath.Join(p.RunsDir, runID)
	artifactsDir = filepath.Join(runDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating run directories: %w", err)
	}
	return runDir, artifactsDir, nil
}

// EnsureContentDir creates a library content directory for the given type
// and id/title segment, returning its path.
func EnsureContentDir(contentType, segment string) (string, error) {
	p := Current()
	dir := filepath.Join(p.LibraryDir, contentType, segment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating content directory: %w", err)
	}
	return dir, nil
}
