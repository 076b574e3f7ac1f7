// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/repository"
)

// seedFile is the YAML shape accepted by -seed: a handful of projects each
// owning a handful of starter tasks, for bringing up a fresh database with
// something to look at.
type seedFile struct {
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	Name          string     `yaml:"name"`
	WorkspacePath string     `yaml:"workspacePath"`
	Type          string     `yaml:"type"`
	Framework     string     `yaml:"framework"`
	Language      string     `yaml:"language"`
	Tasks         []seedTask `yaml:"tasks"`
}

type seedTask struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Priority    string `yaml:"priority"`
}

// applySeed reads path as YAML and creates any project/task rows it
// describes, skipping projects that already exist at the given workspace
// path so the same seed file can be applied more than once.
func applySeed(ctx context.Context, db *repository.GormDB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	projects := db.Projects()
	tasks := db.Tasks()

	for _, sp := range seed.Projects {
		newID := uuid.NewString()
		project, err := projects.FindOrCreateByWorkspacePath(ctx, sp.WorkspacePath, func() *models.Project {
			return &models.Project{
				ID:            newID,
				Name:          sp.Name,
				WorkspacePath: sp.WorkspacePath,
				Type:          models.ProjectType(sp.Type),
				Framework:     sp.Framework,
				Language:      sp.Language,
			}
		})
		if err != nil {
			return fmt.Errorf("seed project %q: %w", sp.Name, err)
		}
		if project.ID != newID {
			// The project already existed; its tasks were seeded with it.
			continue
		}

		for _, st := range sp.Tasks {
			task := &models.Task{
				ID:          uuid.NewString(),
				ProjectID:   project.ID,
				Title:       st.Title,
				Description: st.Description,
				Type:        st.Type,
				Status:      models.TaskStatusPending,
				Priority:    models.ParsePriority(st.Priority),
			}
			if err := tasks.Create(ctx, task); err != nil {
				return fmt.Errorf("seed task %q: %w", st.Title, err)
			}
		}
	}

	return nil
}
