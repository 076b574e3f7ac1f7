// Copyright (C) 2025-2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stepflow/stepflow/internal/logger"
)

var (
	utilsLog     *zerolog.Logger
	utilsLogOnce sync.Once
)

func getUtilsLog() *zerolog.Logger {
	utilsLogOnce.Do(func() {
		l := logger.GetGitLogger().With().Str("component", "utils").Logger()
		utilsLog = &l
	})
	return utilsLog
}

// ParseWorktreeGitFile extracts parent repository path from worktree .git file
// Git worktrees contain a .git file (not directory) that points to the parent repo's .git/worktrees/name
// Format: "gitdir: /path/to/parent/.git/worktrees/name"
func ParseWorktreeGitFile(worktreePath string) (string, error) {
	if worktreePath == "" {
		return "", fmt.Errorf("worktree path cannot be empty")
	}

	// Clean and validate the worktree path
	worktreePath = filepath.Clean(worktreePath)

	// Path to the .git file in the worktree
	gitFilePath := filepath.Join(worktreePath, ".git")

	// Check if .git file exists
	if _, err := os.Stat(gitFilePath); os.IsNotExist(err) {
		return "", fmt.Errorf("worktree .git file not found at %s", gitFilePath)
	}

	// Read the .git file content
	content, err := os.ReadFile(gitFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read .git file: %w", err)
	}

	// Parse the gitdir line
	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return "", fmt.Errorf("invalid .git file format: %s", line)
	}

	// Extract the path after "gitdir: "
	gitdirPath := strings.TrimPrefix(line, "gitdir: ")
	gitdirPath = strings.TrimSpace(gitdirPath)

	// The gitdir path points to .git/worktrees/name in the parent repository
	// We need to extract the parent repository path by removing /.git/worktrees/name
	if !strings.Contains(gitdirPath, ".git/worktrees/") {
		return "", fmt.Errorf("unexpected gitdir path format: %s", gitdirPath)
	}

	// Find the position of "/.git/worktrees/" and extract everything before it
	parts := strings.Split(gitdirPath, ".git/worktrees/")
	if len(parts) != 2 {
		return "", fmt.Errorf("could not parse gitdir path: %s", gitdirPath)
	}

	// The parent repository path is everything before /.git/worktrees/
	parentRepoPath := strings.TrimSuffix(parts[0], "/")
	if parentRepoPath == "" {
		return "", fmt.Errorf("could not determine parent repository path from: %s", gitdirPath)
	}

	// Convert to absolute path and validate
	absParentPath, err := filepath.Abs(parentRepoPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for parent repo: %w", err)
	}

	// Verify the parent repository exists and has a .git directory
	parentGitDir := filepath.Join(absParentPath, ".git")
	if _, err := os.Stat(parentGitDir); os.IsNotExist(err) {
		return "", fmt.Errorf("parent repository .git directory not found at %s", parentGitDir)
	}

	getUtilsLog().Debug().
		Str("worktreePath", worktreePath).
		Str("parentRepoPath", absParentPath).
		Msg("Successfully parsed worktree parent repository")

	return absParentPath, nil
}

