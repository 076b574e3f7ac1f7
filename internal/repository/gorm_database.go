// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/models"
)

// GormDB owns a single postgres connection and hands out one store per
// aggregate; each store satisfies exactly one repository contract above.
type GormDB struct {
	db *gorm.DB
}

// NewGormDB opens a postgres connection per cfg.
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &GormDB{db: db}, nil
}

// AutoMigrate creates or updates every table this store owns.
func (g *GormDB) AutoMigrate() error {
	return g.db.AutoMigrate(
		&models.Task{},
		&models.Project{},
		&models.AnalysisRecord{},
		&models.UserSession{},
		&models.ChatMessage{},
	)
}

// Close releases the underlying connection pool.
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormDB) Tasks() *TaskStore           { return &TaskStore{db: g.db} }
func (g *GormDB) Projects() *ProjectStore     { return &ProjectStore{db: g.db} }
func (g *GormDB) Analyses() *AnalysisStore    { return &AnalysisStore{db: g.db} }
func (g *GormDB) Sessions() *UserSessionStore { return &UserSessionStore{db: g.db} }
func (g *GormDB) Chats() *ChatStore           { return &ChatStore{db: g.db} }

// ============================================================================
// TaskStore — TaskRepository
// ============================================================================

type TaskStore struct{ db *gorm.DB }

var _ TaskRepository = (*TaskStore)(nil)

func (s *TaskStore) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *TaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engineerr.NewNotFound("task", taskID)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Lookup satisfies taskqueue.TaskLookup: a nil, nil return (rather than a
// NotFound error) means "no such task," which the queue turns into its own
// engineerr.NewNotFound at the call site.
func (s *TaskStore) Lookup(taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.First(&task, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskStore) ListByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

func (s *TaskStore) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).Update("status", status).Error
}

func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	return s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", taskID).Error
}

// ============================================================================
// ProjectStore — ProjectRepository
// ============================================================================

type ProjectStore struct{ db *gorm.DB }

var _ ProjectRepository = (*ProjectStore)(nil)

func (s *ProjectStore) FindByWorkspacePath(ctx context.Context, workspacePath string) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "workspace_path = ?", workspacePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindOrCreateByWorkspacePath returns the cached project row for
// workspacePath, creating one via factory on first sight.
func (s *ProjectStore) FindOrCreateByWorkspacePath(ctx context.Context, workspacePath string, factory func() *models.Project) (*models.Project, error) {
	existing, err := s.FindByWorkspacePath(ctx, workspacePath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	project := factory()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "workspace_path"}}, DoNothing: true}).
		Create(project).Error; err != nil {
		return nil, err
	}
	return s.FindByWorkspacePath(ctx, workspacePath)
}

func (s *ProjectStore) Get(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engineerr.NewNotFound("project", projectID)
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *ProjectStore) Update(ctx context.Context, projectID string, patch map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).Updates(patch).Error
}

func (s *ProjectStore) Delete(ctx context.Context, projectID string) error {
	return s.db.WithContext(ctx).Delete(&models.Project{}, "id = ?", projectID).Error
}

// ============================================================================
// AnalysisStore — AnalysisRepository
// ============================================================================

type AnalysisStore struct{ db *gorm.DB }

var _ AnalysisRepository = (*AnalysisStore)(nil)

func (s *AnalysisStore) Save(ctx context.Context, record models.AnalysisRecord) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "finished_at", "result", "partial", "reason"}),
		}).
		Create(&record).Error
}

func (s *AnalysisStore) Get(ctx context.Context, jobID string) (*models.AnalysisRecord, error) {
	var record models.AnalysisRecord
	err := s.db.WithContext(ctx).First(&record, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *AnalysisStore) ListByProject(ctx context.Context, projectID string) ([]*models.AnalysisRecord, error) {
	var records []*models.AnalysisRecord
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("started_at DESC").Find(&records).Error
	return records, err
}

// ============================================================================
// UserSessionStore — UserSessionRepository
// ============================================================================

type UserSessionStore struct{ db *gorm.DB }

var _ UserSessionRepository = (*UserSessionStore)(nil)

func (s *UserSessionStore) Upsert(ctx context.Context, session *models.UserSession) error {
	session.LastSeenAt = time.Now()
	if session.ID == "" {
		session.ID = session.UserID
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_id", "active_ide_port", "last_seen_at"}),
		}).
		Create(session).Error
}

func (s *UserSessionStore) Get(ctx context.Context, userID string) (*models.UserSession, error) {
	var session models.UserSession
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("last_seen_at DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *UserSessionStore) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserSession{}).Error
}

// ============================================================================
// ChatStore — ChatRepository
// ============================================================================

type ChatStore struct{ db *gorm.DB }

var _ ChatRepository = (*ChatStore)(nil)

func (s *ChatStore) Append(ctx context.Context, message *models.ChatMessage) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(message).Error
}

func (s *ChatStore) ListByProject(ctx context.Context, projectID, userID string, limit int) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	q := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&messages).Error
	return messages, err
}
