// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package stepengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/models"
)

// frameworkManifest is the per-framework-directory descriptor: manifest.json
// at the framework root names the framework and the steps it contributes,
// each of which may be overlaid by an optional steps/<name>.json.
type frameworkManifest struct {
	Name  string             `json:"name"`
	Steps []frameworkStepDef `json:"steps"`
}

type frameworkStepDef struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Timeout      int64    `json:"timeout"`
	Prompt       string   `json:"prompt"`
}

// PromptRunner executes a framework step's prompt against the AI provider
// collaborator, returning the rendered response as the step's artifact.
type PromptRunner func(ctx context.Context, sctx *models.StepContext, prompt string, options map[string]interface{}) (interface{}, error)

// LoadFramework discovers dir/manifest.json, reads each of its steps from
// dir/steps/<name>.json (falling back to the prompt embedded directly in
// the manifest when no such file exists), and registers every step under
// the namespaced key "<framework>.<step>". run is invoked to actually
// execute a step's prompt; this keeps the loader independent of which AI
// collaborator is wired in.
func (r *Registry) LoadFramework(dir string, run PromptRunner) error {
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return engineerr.NewNotFound("frameworkManifest", manifestPath)
	}

	var manifest frameworkManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return engineerr.NewValidation("frameworkManifest", "invalid manifest JSON in %s: %v", manifestPath, err)
	}
	if manifest.Name == "" {
		return engineerr.NewValidation("frameworkManifest", "manifest in %s is missing a name", manifestPath)
	}

	for _, stepDef := range manifest.Steps {
		if stepDef.Name == "" {
			return engineerr.NewValidation("frameworkManifest", "framework %q has a step with no name", manifest.Name)
		}

		resolved, err := loadFrameworkStepDef(dir, stepDef)
		if err != nil {
			return err
		}

		key := manifest.Name + "." + resolved.Name
		config := models.StepConfig{
			Key:          key,
			Type:         resolved.Type,
			Category:     manifest.Name,
			Description:  resolved.Description,
			Dependencies: namespaceDependencies(manifest.Name, resolved.Dependencies),
			Timeout:      resolved.Timeout,
		}

		prompt := resolved.Prompt
		executor := func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			return run(ctx, sctx, prompt, options)
		}

		if err := r.RegisterStep(key, config, manifest.Name, executor); err != nil {
			return err
		}
	}

	getLog().Info().Str("framework", manifest.Name).Int("steps", len(manifest.Steps)).Msg("framework steps registered")
	return nil
}

// loadFrameworkStepDef overlays dir/steps/<name>.json onto stepDef when that
// file exists, letting a framework keep per-step prompts out of the
// manifest while still allowing small frameworks to inline everything.
func loadFrameworkStepDef(dir string, stepDef frameworkStepDef) (frameworkStepDef, error) {
	stepPath := filepath.Join(dir, "steps", stepDef.Name+".json")
	data, err := os.ReadFile(stepPath)
	if err != nil {
		if os.IsNotExist(err) {
			return stepDef, nil
		}
		return stepDef, engineerr.NewValidation("frameworkStep", "failed to read %s: %v", stepPath, err)
	}

	overlay := stepDef
	if err := json.Unmarshal(data, &overlay); err != nil {
		return stepDef, engineerr.NewValidation("frameworkStep", "invalid step JSON in %s: %v", stepPath, err)
	}
	return overlay, nil
}

func namespaceDependencies(framework string, deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	namespaced := make([]string, len(deps))
	for i, d := range deps {
		namespaced[i] = framework + "." + d
	}
	return namespaced
}
