// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// ProjectType distinguishes a single-repo root from a monorepo root
// detected by the Project Context (C9) auto-detector.
type ProjectType string

const (
	ProjectTypeSingleRepo ProjectType = "single_repo"
	ProjectTypeMonorepo   ProjectType = "monorepo"
)

// Project is the cached result of resolving a workspace root: its path,
// derived id, and the light metadata auto-detect could infer.
type Project struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	WorkspacePath string `gorm:"uniqueIndex"`
	Type          ProjectType
	Framework     string
	Language      string
	Metadata      map[string]interface{} `gorm:"serializer:json"`
	CreatedAt     time.Time
}
