// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package stepengine

import (
	"context"
	"fmt"

	"github.com/stepflow/stepflow/internal/collaborators/aiprovider"
	"github.com/stepflow/stepflow/internal/collaborators/fsscan"
	"github.com/stepflow/stepflow/internal/collaborators/git"
	"github.com/stepflow/stepflow/internal/collaborators/ide"
	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/models"
)

// optString reads a string option, falling back to def when absent or of
// the wrong type.
func optString(options map[string]interface{}, key, def string) string {
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// RegisterGitSteps binds the git collaborator's read/mutate surface onto
// r, resolving the handle for the active step's ProjectPath on every
// call — a workflow touching several projects in one run never shares a
// stale *git.GitService across them.
func RegisterGitSteps(r *Registry, manager *git.GitServiceManager) error {
	adapterFor := func(sctx *models.StepContext) (*git.Adapter, error) {
		handle, err := manager.GetService(sctx.ProjectPath)
		if err != nil {
			return nil, engineerr.NewCollaborator("git", err)
		}
		defer handle.Release()
		return git.NewAdapter(handle.GetGitService(), nil), nil
	}

	steps := []struct {
		key  string
		desc string
		fn   models.StepExecutor
	}{
		{"git-status", "read the working tree's branch/dirty state", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return a.Status(ctx, sctx.ProjectPath)
		}},
		{"git-branches", "list local branches", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return a.Branches(ctx, sctx.ProjectPath)
		}},
		{"git-checkout", "checkout the branch named by the \"branch\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			branch := optString(options, "branch", "")
			if branch == "" {
				return nil, engineerr.NewValidation("branch", "git-checkout requires a \"branch\" option")
			}
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return nil, a.Checkout(ctx, sctx.ProjectPath, branch)
		}},
		{"git-pull", "pull the branch named by the \"branch\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			branch := optString(options, "branch", "")
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return nil, a.Pull(ctx, sctx.ProjectPath, branch)
		}},
		{"git-merge", "merge the \"source\" option into the \"target\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			source := optString(options, "source", "")
			target := optString(options, "target", "")
			if source == "" || target == "" {
				return nil, engineerr.NewValidation("source/target", "git-merge requires \"source\" and \"target\" options")
			}
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return nil, a.Merge(ctx, sctx.ProjectPath, source, target)
		}},
		{"git-create-branch", "create the branch named by the \"branch\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			branch := optString(options, "branch", "")
			if branch == "" {
				return nil, engineerr.NewValidation("branch", "git-create-branch requires a \"branch\" option")
			}
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return nil, a.CreateBranch(ctx, sctx.ProjectPath, branch)
		}},
		{"git-compare", "diff the \"from\" option against the \"to\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			from := optString(options, "from", "HEAD~1")
			to := optString(options, "to", "HEAD")
			a, err := adapterFor(sctx)
			if err != nil {
				return nil, err
			}
			return a.Compare(ctx, sctx.ProjectPath, from, to)
		}},
	}

	for _, s := range steps {
		if err := r.RegisterStep(s.key, models.StepConfig{Key: s.key, Category: "git", Description: s.desc}, "", s.fn); err != nil {
			return fmt.Errorf("register %s: %w", s.key, err)
		}
	}
	return nil
}

// RegisterAIProviderSteps binds a single prompt/response turn against
// whichever agent tool the step's "tool" option names (falling back to
// defaultTool), templated through the workflow's prompt variables.
func RegisterAIProviderSteps(r *Registry, defaultTool string) error {
	key := "ai-chat"
	fn := func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
		tool := optString(options, "tool", defaultTool)
		prompt := optString(options, "prompt", "")
		if prompt == "" {
			return nil, engineerr.NewValidation("prompt", "ai-chat requires a \"prompt\" option")
		}
		variables := map[string]string{}
		if raw, ok := options["variables"].(map[string]interface{}); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					variables[k] = s
				}
			}
		}
		provider := aiprovider.NewProvider(tool, sctx.ProjectPath)
		output, err := provider.Chat(ctx, prompt, variables, options)
		if err != nil {
			return nil, engineerr.NewCollaborator("aiprovider", err)
		}
		return aiprovider.ParseStepSummary(output)
	}
	return r.RegisterStep(key, models.StepConfig{Key: key, Category: "ai", Description: "run one agent turn against the project workspace"}, "", fn)
}

// RegisterIDESteps binds the docker-backed IDE adapter's launch/stop/
// send-message surface onto r. Every step resolves its target IDE type
// and workspace from step options rather than sctx, since one workflow
// run may drive IDE containers for more than one workspace.
func RegisterIDESteps(r *Registry, adapter *ide.Adapter) error {
	steps := []struct {
		key  string
		desc string
		fn   models.StepExecutor
	}{
		{"ide-launch", "launch a containerized IDE for the project workspace", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			ideType := ide.Type(optString(options, "ideType", string(ide.TypeVSCode)))
			return adapter.Launch(ctx, sctx.ProjectPath, ideType)
		}},
		{"ide-send-message", "send a chat message to the IDE on the \"port\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			port, ok := options["port"].(int)
			if !ok {
				return nil, engineerr.NewValidation("port", "ide-send-message requires an integer \"port\" option")
			}
			text := optString(options, "text", "")
			return nil, adapter.SendMessage(ctx, port, text)
		}},
		{"ide-stop", "stop the IDE container on the \"port\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			port, ok := options["port"].(int)
			if !ok {
				return nil, engineerr.NewValidation("port", "ide-stop requires an integer \"port\" option")
			}
			return nil, adapter.Stop(ctx, port)
		}},
	}

	for _, s := range steps {
		if err := r.RegisterStep(s.key, models.StepConfig{Key: s.key, Category: "ide", Description: s.desc}, "", s.fn); err != nil {
			return fmt.Errorf("register %s: %w", s.key, err)
		}
	}
	return nil
}

// RegisterFSScanSteps binds the bounded filesystem reader onto r. The
// "path" option is passed to the reader as given; fs-stat and fs-read-dir
// fall back to the active step's ProjectPath when it is absent.
func RegisterFSScanSteps(r *Registry, scanner *fsscan.Service) error {
	steps := []struct {
		key  string
		desc string
		fn   models.StepExecutor
	}{
		{"fs-stat", "stat the path named by the \"path\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			return scanner.Stat(optString(options, "path", sctx.ProjectPath))
		}},
		{"fs-read-dir", "list the directory named by the \"path\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			return scanner.ReadDir(optString(options, "path", sctx.ProjectPath))
		}},
		{"fs-read-file", "read the file named by the \"path\" option", func(ctx context.Context, sctx *models.StepContext, options map[string]interface{}) (interface{}, error) {
			path := optString(options, "path", "")
			if path == "" {
				return nil, engineerr.NewValidation("path", "fs-read-file requires a \"path\" option")
			}
			return scanner.ReadFileString(path)
		}},
	}

	for _, s := range steps {
		if err := r.RegisterStep(s.key, models.StepConfig{Key: s.key, Category: "fs", Description: s.desc}, "", s.fn); err != nil {
			return fmt.Errorf("register %s: %w", s.key, err)
		}
	}
	return nil
}
