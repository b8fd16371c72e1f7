// Package model defines the declarative pipeline shape: an ordered list
// of steps with input wiring, retry policy, and per-step safety overrides.
package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/getpipe-dev/orchestrator/internal/safety"
)

// Pipeline is the top-level declarative definition loaded from YAML.
type Pipeline struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	SafetyLimits *safety.Limits `yaml:"safety_limits,omitempty"`
	Steps        []Step        `yaml:"steps"`
}

// Step is a single unit of work within a Pipeline.
type Step struct {
	Name                string      `yaml:"name"`
	AdapterType         string      `yaml:"adapter"`
	Action              string      `yaml:"action"`
	InputSource         InputSource `yaml:"input_from"`
	RetryPolicy         RetryPolicy `yaml:"retry_policy,omitempty"`
	StepTimeoutOverride int         `yaml:"timeout_seconds,omitempty"` // seconds, 0 = use pipeline default
}

// InputSourceKind discriminates the union InputSource represents.
type InputSourceKind int

const (
	// InputSourcePipeline feeds the run's original input verbatim.
	InputSourcePipeline InputSourceKind = iota
	// InputSourcePreviousStep feeds the named prior step's artifact bytes.
	InputSourcePreviousStep
	// InputSourceArtifact feeds a named artifact from the completed map.
	InputSourceArtifact
	// InputSourceStatic feeds a literal value baked into the pipeline.
	InputSourceStatic
)

// InputSource is a tagged union over where a step's input bytes come from.
// It unmarshals from either the bare string "pipeline_input" or a single-key
// mapping: {previous_step: name} | {artifact: name} | {static: value}.
type InputSource struct {
	Kind         InputSourceKind
	PreviousStep string
	Artifact     string
	Static       any
}

type rawInputSource struct {
	PreviousStep *string `yaml:"previous_step"`
	Artifact     *string `yaml:"artifact"`
	Static       any     `yaml:"static"`
}

// UnmarshalYAML implements the scalar-or-mapping union shape.
func (s *InputSource) UnmarshalYAML(unmarshal func(any) error) error {
	var scalar string
	if err := unmarshal(&scalar); err == nil {
		if scalar != "pipeline_input" {
			return fmt.Errorf("input_from: unrecognized scalar %q, want \"pipeline_input\"", scalar)
		}
		s.Kind = InputSourcePipeline
		return nil
	}

	var raw rawInputSource
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("input_from: %w", err)
	}
	switch {
	case raw.PreviousStep != nil:
		s.Kind = InputSourcePreviousStep
		s.PreviousStep = *raw.PreviousStep
	case raw.Artifact != nil:
		s.Kind = InputSourceArtifact
		s.Artifact = *raw.Artifact
	case raw.Static != nil:
		s.Kind = InputSourceStatic
		s.Static = raw.Static
	default:
		return fmt.Errorf("input_from: must be \"pipeline_input\" or one of previous_step/artifact/static")
	}
	return nil
}

// StaticBytes returns the canonical textual encoding of a static literal:
// strings and numbers pass through verbatim, composite values use a stable
// JSON encoding.
func (s InputSource) StaticBytes() ([]byte, error) {
	switch v := s.Static.(type) {
	case string:
		return []byte(v), nil
	case int, int64, float64, bool:
		return []byte(fmt.Sprint(v)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding static input: %w", err)
		}
		return b, nil
	}
}

// RetryPolicy controls how many times and how long to wait between attempts
// of a failing step. DelayForAttempt and ShouldRetry mirror the exact
// exponential-backoff formula the pipeline spec requires.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// DefaultRetryPolicy is used when a step declares no retry_policy: a single
// attempt, no retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialDelayMs: 0, MaxDelayMs: 0, BackoffMultiplier: 1}
}

// ShouldRetry reports whether attempt n (1-indexed, the attempt that just
// failed) may be retried.
func (r RetryPolicy) ShouldRetry(n int) bool {
	return n < r.MaxAttempts
}

// DelayForAttempt returns the backoff delay in milliseconds before attempt
// n+1, computed as min(initial × multiplier^(n-1), max_delay).
func (r RetryPolicy) DelayForAttempt(n int) int {
	delay := float64(r.InitialDelayMs) * math.Pow(r.BackoffMultiplier, float64(n-1))
	if max := float64(r.MaxDelayMs); delay > max {
		delay = max
	}
	return int(delay)
}
