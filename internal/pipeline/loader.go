// Package pipeline loads and validates pipeline definitions from YAML
// files on disk: local-file only, no hub resolution, no aliasing.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/getpipe-dev/orchestrator/internal/model"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the pipeline definition at path.
func Load(path string) (*model.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	var p model.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline %s: %w", path, err)
	}
	for i := range p.Steps {
		if p.Steps[i].RetryPolicy.MaxAttempts == 0 {
			p.Steps[i].RetryPolicy = model.DefaultRetryPolicy()
		}
	}
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks the structural rules a pipeline definition must satisfy
// at load time, independent of any particular run's input.
func Validate(p *model.Pipeline) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name must not be empty")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", p.Name)
	}

	seen := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has an empty name", i)
		}
		if prev, dup := seen[step.Name]; dup {
			return fmt.Errorf("duplicate step name %q (first seen at index %d, again at %d)", step.Name, prev, i)
		}
		seen[step.Name] = i
	}

	for i, step := range p.Steps {
		switch step.InputSource.Kind {
		case model.InputSourcePreviousStep:
			target := step.InputSource.PreviousStep
			targetIdx, ok := seen[target]
			if !ok {
				return fmt.Errorf("step %q references unknown previous_step %q", step.Name, target)
			}
			if targetIdx >= i {
				return fmt.Errorf("step %q references previous_step %q at or after its own index (forward or self reference)", step.Name, target)
			}
		case model.InputSourceArtifact:
			target := step.InputSource.Artifact
			if targetIdx, ok := seen[target]; ok && targetIdx >= i {
				return fmt.Errorf("step %q references artifact %q at or after its own index", step.Name, target)
			}
		}
	}
	return nil
}

// List returns the sorted base names (without extension) of every *.yaml
// pipeline definition found directly under dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing pipelines in %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(ext)])
	}
	sort.Strings(names)
	return names, nil
}
