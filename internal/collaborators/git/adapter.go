// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/stepflow/stepflow/internal/eventbus"
)

// Adapter is the git collaborator surface (status, branches, checkout,
// pull, merge, createBranch, compare) exposed to the step engine. It wraps
// GitService and emits a "git:<op>:completed" event on the bus after every
// successful operation.
type Adapter struct {
	svc   *GitService
	state *GitStateManager
	bus   *eventbus.Bus
}

// NewAdapter builds an Adapter. bus may be nil, in which case no events are
// published (useful outside a running service).
func NewAdapter(svc *GitService, bus *eventbus.Bus) *Adapter {
	return &Adapter{svc: svc, state: NewGitStateManager(svc), bus: bus}
}

func (a *Adapter) emit(op, repoPath string, extra map[string]interface{}) {
	if a.bus == nil {
		return
	}
	payload := map[string]interface{}{"repoPath": repoPath}
	for k, v := range extra {
		payload[k] = v
	}
	a.bus.Publish("git:"+op+":completed", payload)
}

// Status returns the repository state and emits git:status:completed. The
// repository is rejected if GitStateManager finds it invalid (missing
// branch, malformed commit hash, relative worktree paths, ...), even if the
// underlying git commands all succeeded.
func (a *Adapter) Status(ctx context.Context, repoPath string) (*GitState, error) {
	repoState, err := a.state.ValidateRepositoryState(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if !repoState.IsValid {
		return nil, fmt.Errorf("invalid git repository state: %s", strings.Join(repoState.ValidationErrors, "; "))
	}
	a.emit("status", repoPath, map[string]interface{}{"branch": repoState.State.Branch})
	return repoState.State, nil
}

// Branches lists the repository's branches and emits git:branches:completed.
func (a *Adapter) Branches(ctx context.Context, repoPath string) ([]string, error) {
	branches, err := a.svc.ListBranches(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	a.emit("branches", repoPath, map[string]interface{}{"count": len(branches)})
	return branches, nil
}

// Checkout switches to branch and emits git:checkout:completed.
func (a *Adapter) Checkout(ctx context.Context, repoPath, branch string) error {
	if err := a.svc.SwitchBranch(ctx, repoPath, branch); err != nil {
		return err
	}
	a.emit("checkout", repoPath, map[string]interface{}{"branch": branch})
	return nil
}

// Pull fast-forwards branch and emits git:pull:completed.
func (a *Adapter) Pull(ctx context.Context, repoPath, branch string) error {
	if err := a.svc.Pull(ctx, repoPath, branch); err != nil {
		return err
	}
	a.emit("pull", repoPath, map[string]interface{}{"branch": branch})
	return nil
}

// Merge merges source into target and emits git:merge:completed.
func (a *Adapter) Merge(ctx context.Context, repoPath, source, target string) error {
	if err := a.svc.Merge(ctx, repoPath, source, target); err != nil {
		return err
	}
	a.emit("merge", repoPath, map[string]interface{}{"source": source, "target": target})
	return nil
}

// CreateBranch creates branchName and emits git:createBranch:completed.
func (a *Adapter) CreateBranch(ctx context.Context, repoPath, branchName string) error {
	if err := a.svc.CreateBranch(ctx, repoPath, branchName); err != nil {
		return err
	}
	a.emit("createBranch", repoPath, map[string]interface{}{"branch": branchName})
	return nil
}

// Compare diffs from against to and emits git:compare:completed.
func (a *Adapter) Compare(ctx context.Context, repoPath, from, to string) (*GitComparison, error) {
	comparison, err := a.svc.Compare(ctx, repoPath, from, to)
	if err != nil {
		return nil, err
	}
	a.emit("compare", repoPath, map[string]interface{}{"from": from, "to": to, "changedFiles": len(comparison.ChangedFiles)})
	return comparison, nil
}
