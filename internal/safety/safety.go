// Package safety enforces the resource and policy gates every step and
// run must pass: byte-size limits, step/run timeouts, a step-count ceiling,
// and a denylist of sensitive-looking file paths.
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	defaultMaxSteps       = 50
	defaultMaxInputBytes  = 10 * 1024 * 1024
	defaultMaxOutputBytes = 10 * 1024 * 1024
	defaultStepTimeoutS   = 300
	defaultRunTimeoutS    = 3600
)

func defaultDenylist() []string {
	return []string{"**/.env*", "**/secrets*", "**/*credential*", "**/*.pem", "**/*.key"}
}

// Limits is the set of safety gates a run is checked against. Overridable
// per pipeline via YAML; fields absent from the YAML document fall back to
// the package defaults through UnmarshalYAML (NewLimits returns them all).
type Limits struct {
	MaxSteps       int      `yaml:"max_steps"`
	MaxInputBytes  int64    `yaml:"max_input_bytes"`
	MaxOutputBytes int64    `yaml:"max_output_bytes"`
	StepTimeoutS   int      `yaml:"step_timeout_seconds"`
	RunTimeoutS    int      `yaml:"run_timeout_seconds"`
	Denylist       []string `yaml:"denylist_patterns"`
}

// NewLimits returns the documented defaults.
func NewLimits() Limits {
	return Limits{
		MaxSteps:       defaultMaxSteps,
		MaxInputBytes:  defaultMaxInputBytes,
		MaxOutputBytes: defaultMaxOutputBytes,
		StepTimeoutS:   defaultStepTimeoutS,
		RunTimeoutS:    defaultRunTimeoutS,
		Denylist:       defaultDenylist(),
	}
}

// UnmarshalYAML fills any field left unset in the YAML document with its
// default, matching the teacher's serde-default idiom for this struct.
func (l *Limits) UnmarshalYAML(unmarshal func(any) error) error {
	type raw Limits
	v := raw(NewLimits())
	if err := unmarshal(&v); err != nil {
		return err
	}
	*l = Limits(v)
	return nil
}

// StepTimeout returns StepTimeoutS as a time.Duration.
func (l Limits) StepTimeout() time.Duration { return time.Duration(l.StepTimeoutS) * time.Second }

// RunTimeout returns RunTimeoutS as a time.Duration.
func (l Limits) RunTimeout() time.Duration { return time.Duration(l.RunTimeoutS) * time.Second }

// Violation describes which gate was tripped and by how much.
type Violation struct {
	Kind    string
	Actual  int64
	Limit   int64
	Path    string
	Message string
}

func (v *Violation) Error() string {
	if v.Message != "" {
		return v.Message
	}
	return fmt.Sprintf("%s: actual=%d limit=%d", v.Kind, v.Actual, v.Limit)
}

func violation(kind string, actual, limit int64) *Violation {
	return &Violation{Kind: kind, Actual: actual, Limit: limit}
}

// IsDenylisted reports whether path, or any of its parent directories,
// matches one of the limits' denylist glob patterns. Patterns use
// doublestar syntax (** for recursive match).
func (l Limits) IsDenylisted(path string) bool {
	candidate := path
	for candidate != "" {
		for _, pattern := range l.Denylist {
			if ok, _ := doublestar.Match(pattern, candidate); ok {
				return true
			}
		}
		i := strings.LastIndexByte(candidate, '/')
		if i < 0 {
			break
		}
		candidate = candidate[:i]
	}
	return false
}

// ValidateInput rejects input that is too large or whose source path is
// denylisted. sourcePath may be empty when the input has no backing file.
func (l Limits) ValidateInput(data []byte, sourcePath string) error {
	if int64(len(data)) > l.MaxInputBytes {
		return violation("MaxInputBytes", int64(len(data)), l.MaxInputBytes)
	}
	if sourcePath != "" && l.IsDenylisted(sourcePath) {
		return &Violation{Kind: "DenylistMatch", Path: sourcePath, Message: fmt.Sprintf("DenylistMatch: %s", sourcePath)}
	}
	return nil
}

// ValidateOutput rejects output that exceeds the output byte limit.
func (l Limits) ValidateOutput(data []byte) error {
	if int64(len(data)) > l.MaxOutputBytes {
		return violation("MaxOutputBytes", int64(len(data)), l.MaxOutputBytes)
	}
	return nil
}

// Tracker accumulates per-run counters used for the between-step checks.
type Tracker struct {
	StepsExecuted int
	InputBytes    int64
	OutputBytes   int64
	StartedAt     time.Time
}

// NewTracker starts a Tracker clocked from now.
func NewTracker() *Tracker {
	return &Tracker{StartedAt: time.Now()}
}

// RecordStep updates the tracker's counters after a step completes.
func (t *Tracker) RecordStep(inputBytes, outputBytes int64) {
	t.StepsExecuted++
	t.InputBytes += inputBytes
	t.OutputBytes += outputBytes
}

// ElapsedSeconds returns the whole seconds elapsed since the tracker started.
func (t *Tracker) ElapsedSeconds() int64 {
	return int64(time.Since(t.StartedAt).Seconds())
}

// Check is the per-run, before-each-step gate: step count and run deadline.
func (t *Tracker) Check(l Limits) error {
	if t.StepsExecuted >= l.MaxSteps {
		return violation("MaxSteps", int64(t.StepsExecuted), int64(l.MaxSteps))
	}
	if elapsed := t.ElapsedSeconds(); elapsed >= int64(l.RunTimeoutS) {
		return violation("RunTimeout", elapsed, int64(l.RunTimeoutS))
	}
	return nil
}
