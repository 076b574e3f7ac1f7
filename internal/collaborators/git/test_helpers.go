// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// GitServiceFixture is a git service wired to a fresh temporary repository.
type GitServiceFixture struct {
	Service  *GitService
	RepoPath string
	Cleanup  func()
}

// WithGitService creates a GitService rooted at a temporary directory.
func WithGitService(t *testing.T) *GitServiceFixture {
	tempDir := t.TempDir()
	repoPath := filepath.Join(tempDir, "test_repo")

	gitService, err := NewGitService(repoPath, true)
	require.NoError(t, err, "failed to create git service")

	cleanup := func() {
		gitService.Close()
	}

	return &GitServiceFixture{
		Service:  gitService,
		RepoPath: repoPath,
		Cleanup:  cleanup,
	}
}
