// Package orchestrator is the central engine that drives a pipeline's
// steps to completion, replaying and appending to the event log as the
// sole source of run state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpipe-dev/orchestrator/internal/artifact"
	"github.com/getpipe-dev/orchestrator/internal/eventlog"
	"github.com/getpipe-dev/orchestrator/internal/executor"
	"github.com/getpipe-dev/orchestrator/internal/logging"
	"github.com/getpipe-dev/orchestrator/internal/model"
	"github.com/getpipe-dev/orchestrator/internal/safety"
	"github.com/google/uuid"
)

// ErrMissingArtifact is returned when a step's input_source references an
// artifact that has not been produced. Fatal: never retried.
var ErrMissingArtifact = errors.New("referenced artifact is missing")

// ErrResumeInputMismatch is returned by Resume when the supplied input no
// longer hashes to the fingerprint recorded in the run's first StepStarted
// event.
var ErrResumeInputMismatch = errors.New("resume input does not match the input recorded for this run")

// Orchestrator runs pipelines against a single Executor implementation.
type Orchestrator struct {
	Exec executor.Executor
}

// New returns an Orchestrator that drives steps through exec.
func New(exec executor.Executor) *Orchestrator {
	return &Orchestrator{Exec: exec}
}

// Run starts a brand-new run of p with the given input and drives it to
// completion (or a terminal failure state), returning the minted run id.
// inputPath is the filesystem path input was read from, if any (empty for
// literal/stdin input); it is checked against the denylist before any step
// whose input_source is the pipeline input starts.
func (o *Orchestrator) Run(ctx context.Context, p *model.Pipeline, input []byte, inputPath string) (string, error) {
	runID := uuid.NewString()
	store, err := eventlog.Open(runID)
	if err != nil {
		return runID, err
	}

	limits := safety.NewLimits()
	if p.SafetyLimits != nil {
		limits = *p.SafetyLimits
	}

	if err := store.Append(eventlog.NewEvent(runID, "", eventlog.RunStarted, runID+"::",
		fmt.Sprintf("starting pipeline %s", p.Name), eventlog.StatusRunning)); err != nil {
		return runID, err
	}

	runLog, err := logging.New(p.Name, runID, logging.FileOnly())
	if err != nil {
		return runID, err
	}
	defer runLog.Close()
	runLog.Log("starting pipeline %s (run %s)", p.Name, runID)

	artifacts := artifact.New(store.ArtifactsDir())
	tracker := safety.NewTracker()
	err = o.execute(ctx, runID, store, artifacts, runLog, p, input, inputPath, limits, tracker)
	return runID, err
}

// Resume continues a previously started run from wherever the idempotency
// checks determine it left off. originalInput must be the same input the
// run was originally started with; Resume fails closed if it is not.
// inputPath is the filesystem path originalInput was read from, if any.
func (o *Orchestrator) Resume(ctx context.Context, runID string, p *model.Pipeline, originalInput []byte, inputPath string) error {
	store, err := eventlog.Open(runID)
	if err != nil {
		return err
	}
	events, err := store.Replay()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no run found for id %s", runID)
	}

	if len(p.Steps) > 0 {
		var firstStepStarted *eventlog.Event
		for i := range events {
			if events[i].EventType == eventlog.StepStarted {
				firstStepStarted = &events[i]
				break
			}
		}
		if firstStepStarted != nil {
			firstInput, err := resolveInput(p.Steps[0], originalInput, nil)
			if err != nil {
				return err
			}
			want := eventlog.IdempotencyKey(runID, p.Steps[0].Name, firstInput)
			if want != firstStepStarted.IdempotencyKey {
				return ErrResumeInputMismatch
			}
		}
	}

	limits := safety.NewLimits()
	if p.SafetyLimits != nil {
		limits = *p.SafetyLimits
	}
	tracker := safety.NewTracker()
	for _, e := range events {
		if e.EventType == eventlog.StepCompleted {
			tracker.StepsExecuted++
		}
	}

	runLog, err := logging.New(p.Name, runID, logging.FileOnly())
	if err != nil {
		return err
	}
	defer runLog.Close()
	runLog.Log("resuming pipeline %s (run %s)", p.Name, runID)

	artifacts := artifact.New(store.ArtifactsDir())
	return o.execute(ctx, runID, store, artifacts, runLog, p, originalInput, inputPath, limits, tracker)
}

// execute drives every step of p in order, starting from index 0. Steps
// whose idempotency key is already marked StepCompleted in the log are
// skipped by loading their artifact instead of re-executing — this is what
// makes the function correct whether called fresh (Run) or from a resumed
// log (Resume).
func (o *Orchestrator) execute(
	ctx context.Context,
	runID string,
	store *eventlog.Store,
	artifacts *artifact.Store,
	runLog *logging.Logger,
	p *model.Pipeline,
	input []byte,
	inputPath string,
	limits safety.Limits,
	tracker *safety.Tracker,
) error {
	artifactMap := map[string][]byte{}
	for _, step := range p.Steps {
		if b, ok, _ := artifacts.Get(step.Name); ok {
			artifactMap[step.Name] = b
		}
	}

	for _, step := range p.Steps {
		if err := tracker.Check(limits); err != nil {
			_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.SafetyLimitReached, "",
				err.Error(), eventlog.StatusFailed).WithError(err.Error()))
			return err
		}

		stepInput, err := resolveInput(step, input, artifactMap)
		if err != nil {
			_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.RunFailed, "",
				err.Error(), eventlog.StatusFailed).WithError(err.Error()))
			return err
		}

		sourcePath := ""
		if step.InputSource.Kind == model.InputSourcePipeline {
			sourcePath = inputPath
		}
		if err := limits.ValidateInput(stepInput, sourcePath); err != nil {
			_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.RunFailed, "",
				err.Error(), eventlog.StatusFailed).WithError(err.Error()))
			return err
		}

		idemKey := eventlog.IdempotencyKey(runID, step.Name, stepInput)
		if done, err := store.IsStepCompleted(idemKey); err != nil {
			return err
		} else if done {
			b, ok, err := artifacts.Get(step.Name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("step %q marked completed but its artifact is missing", step.Name)
			}
			artifactMap[step.Name] = b
			continue
		}

		stepLog := runLog.Step(step.Name)
		output, err := o.runStepWithRetries(ctx, runID, store, stepLog, step, idemKey, stepInput, limits)
		if err != nil {
			_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.RunFailed, idemKey,
				"run failed", eventlog.StatusFailed).WithError(err.Error()))
			return err
		}

		if err := artifacts.Put(step.Name, output); err != nil {
			return err
		}
		tracker.RecordStep(int64(len(stepInput)), int64(len(output)))
		artifactMap[step.Name] = output
	}

	runLog.Log("completed pipeline %s", p.Name)
	return store.Append(eventlog.NewEvent(runID, "", eventlog.RunCompleted, "",
		fmt.Sprintf("completed pipeline %s", p.Name), eventlog.StatusCompleted))
}

// runStepWithRetries executes one step, retrying per its policy on failure
// or deadline expiration. A safety violation on the output is fatal: the
// step fails at once without a retry.
func (o *Orchestrator) runStepWithRetries(
	ctx context.Context,
	runID string,
	store *eventlog.Store,
	stepLog *logging.StepLogger,
	step model.Step,
	idemKey string,
	stepInput []byte,
	limits safety.Limits,
) ([]byte, error) {
	timeout := limits.StepTimeout()
	if override := time.Duration(step.StepTimeoutOverride) * time.Second; override > 0 && override < timeout {
		timeout = override
	}

	attempt := 1
	start := time.Now()
	for {
		stepLog.Log("executing %s (attempt %d)", step.Name, attempt)
		if err := store.Append(eventlog.NewEvent(runID, step.Name, eventlog.StepStarted, idemKey,
			fmt.Sprintf("executing %s (attempt %d)", step.Name, attempt), eventlog.StatusRunning)); err != nil {
			return nil, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		out, execErr := o.Exec.Execute(stepCtx, step.Action, stepInput)
		cancel()
		if execErr == nil {
			if err := limits.ValidateOutput(out.Bytes); err != nil {
				duration := time.Since(start).Milliseconds()
				stepLog.Log("failed: %s", err)
				stepLog.Done(string(eventlog.StatusFailed))
				_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.StepFailed, idemKey,
					fmt.Sprintf("%s failed", step.Name), eventlog.StatusFailed).WithDuration(duration).WithError(err.Error()))
				return nil, err
			}
		}

		if execErr == nil {
			duration := time.Since(start).Milliseconds()
			stepLog.Done(string(eventlog.StatusCompleted))
			if err := store.Append(eventlog.NewEvent(runID, step.Name, eventlog.StepCompleted, idemKey,
				fmt.Sprintf("%s completed", step.Name), eventlog.StatusCompleted).WithDuration(duration)); err != nil {
				return nil, err
			}
			return out.Bytes, nil
		}

		if step.RetryPolicy.ShouldRetry(attempt) {
			delayMs := step.RetryPolicy.DelayForAttempt(attempt)
			stepLog.Log("retrying after %dms: %s", delayMs, execErr)
			if err := store.Append(eventlog.NewEvent(runID, step.Name, eventlog.StepRetrying, idemKey,
				fmt.Sprintf("retrying %s after %dms", step.Name, delayMs), eventlog.StatusRunning).WithError(execErr.Error())); err != nil {
				return nil, err
			}
			time.Sleep(time.Duration(delayMs) * time.Millisecond)
			attempt++
			continue
		}

		duration := time.Since(start).Milliseconds()
		stepLog.Log("failed: %s", execErr)
		stepLog.Done(string(eventlog.StatusFailed))
		_ = store.Append(eventlog.NewEvent(runID, step.Name, eventlog.StepFailed, idemKey,
			fmt.Sprintf("%s failed", step.Name), eventlog.StatusFailed).WithDuration(duration).WithError(execErr.Error()))
		return nil, execErr
	}
}

// resolveInput computes a step's input bytes from its input_source against
// the run's original input and the map of already-completed step artifacts.
func resolveInput(step model.Step, runInput []byte, artifactMap map[string][]byte) ([]byte, error) {
	switch step.InputSource.Kind {
	case model.InputSourcePipeline:
		return runInput, nil
	case model.InputSourcePreviousStep:
		b, ok := artifactMap[step.InputSource.PreviousStep]
		if !ok {
			return nil, fmt.Errorf("%w: step %q references previous_step %q", ErrMissingArtifact, step.Name, step.InputSource.PreviousStep)
		}
		return b, nil
	case model.InputSourceArtifact:
		b, ok := artifactMap[step.InputSource.Artifact]
		if !ok {
			return nil, fmt.Errorf("%w: step %q references artifact %q", ErrMissingArtifact, step.Name, step.InputSource.Artifact)
		}
		return b, nil
	case model.InputSourceStatic:
		return step.InputSource.StaticBytes()
	default:
		return nil, fmt.Errorf("step %q has an unrecognized input_source", step.Name)
	}
}
