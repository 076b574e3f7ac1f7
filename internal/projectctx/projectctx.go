// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package projectctx is the Project Context (C9): it resolves
// {projectPath, projectId, workspacePath} for the current working
// directory, following a fixed precedence order — an explicit override
// first, then a cached project-repository row, then live monorepo-aware
// auto-detection — and invalidates its cache when the filesystem changes
// underneath a resolved path.
package projectctx

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/svcregistry"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetProjectCtxLogger()
		log = &l
	})
	return log
}

var monorepoSubdirs = map[string]bool{
	"backend": true, "frontend": true, "client": true, "server": true,
	"api": true, "app": true, "web": true, "mobile": true,
}

var monorepoIndicators = []string{"package.json", ".git", "lerna.json", "nx.json", "pnpm-workspace.yaml"}

var singleRepoIndicators = []string{"package.json", "pyproject.toml", "Cargo.toml", "go.mod", "Gemfile"}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Context is what every other component receives as the resolved project.
type Context struct {
	ProjectPath   string
	ProjectID     string
	WorkspacePath string
	Type          models.ProjectType
}

// ProjectCache is the persisted project-row lookup/write-back this
// resolver consults, normally backed by repository.ProjectRepository.
type ProjectCache interface {
	FindByWorkspacePath(ctx context.Context, workspacePath string) (*models.Project, error)
	FindOrCreateByWorkspacePath(ctx context.Context, workspacePath string, factory func() *models.Project) (*models.Project, error)
}

// Config bundles the resolver's tunables; normally sourced from
// config.ProjectConfig.
type Config struct {
	CacheTTL         time.Duration
	MonorepoMaxDepth int
	WatchDebounce    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.MonorepoMaxDepth <= 0 {
		c.MonorepoMaxDepth = 4
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 200 * time.Millisecond
	}
	return c
}

type cacheEntry struct {
	ctx       Context
	expiresAt time.Time
}

// Resolver implements the three-tier resolution precedence. The zero value
// is not usable; construct with New.
type Resolver struct {
	cfg       Config
	cache     ProjectCache
	container *svcregistry.Container

	mu       sync.RWMutex
	memo     map[string]cacheEntry
	override *Context
}

// New constructs a Resolver. cache may be nil, in which case resolution
// falls straight through to live auto-detect every time (no persisted
// cache tier). container is where explicit overrides (svcregistry.
// Container.SetProjectContext) are read from and where a freshly resolved
// context is written back to, so every other service sees it via
// container.ProjectContext().
func New(cfg Config, cache ProjectCache, container *svcregistry.Container) *Resolver {
	return &Resolver{
		cfg:       cfg.withDefaults(),
		cache:     cache,
		container: container,
		memo:      make(map[string]cacheEntry),
	}
}

// SetProjectContext pins an explicit override (precedence tier 1): every
// future Resolve call returns it verbatim until ClearOverride is called.
// The override is also published to the container so every other service
// observes it via Container.ProjectContext().
func (r *Resolver) SetProjectContext(c Context) {
	r.mu.Lock()
	r.override = &c
	r.mu.Unlock()
	r.publish(c)
}

// ClearOverride drops a previously pinned explicit override, letting
// resolution fall back through the cache/auto-detect tiers again.
func (r *Resolver) ClearOverride() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = nil
}

// Clear removes the in-memory memo entry for cwd, forcing the next
// Resolve to re-check the repository and, failing that, auto-detect again.
func (r *Resolver) Clear(cwd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memo, cwd)
}

// Resolve returns the project context for cwd, following precedence:
// an explicit override pinned via SetProjectContext, an in-memory
// memo of a prior resolution, the persisted project repository, then live
// auto-detect (which is cached back to the memo, the repository, and the
// container for next time).
func (r *Resolver) Resolve(ctx context.Context, cwd string) (*Context, error) {
	if override, ok := r.lookupOverride(); ok {
		return &override, nil
	}

	if memo, ok := r.lookupMemo(cwd); ok {
		return &memo, nil
	}

	if r.cache != nil {
		if project, err := r.cache.FindByWorkspacePath(ctx, cwd); err == nil && project != nil {
			resolved := Context{ProjectPath: project.WorkspacePath, ProjectID: project.ID, WorkspacePath: project.WorkspacePath, Type: project.Type}
			r.storeMemo(cwd, resolved)
			r.publish(resolved)
			return &resolved, nil
		}
	}

	resolved, err := r.autoDetect(cwd)
	if err != nil {
		return nil, err
	}

	r.publish(*resolved)

	if r.cache != nil {
		if _, err := r.cache.FindOrCreateByWorkspacePath(ctx, resolved.WorkspacePath, func() *models.Project {
			return &models.Project{
				ID:            resolved.ProjectID,
				Name:          filepath.Base(resolved.WorkspacePath),
				WorkspacePath: resolved.WorkspacePath,
				Type:          resolved.Type,
				CreatedAt:     time.Now(),
			}
		}); err != nil {
			getLog().Warn().Err(err).Str("workspacePath", resolved.WorkspacePath).Msg("failed to cache resolved project")
		}
	}

	r.storeMemo(cwd, *resolved)
	return resolved, nil
}

func (r *Resolver) lookupOverride() (Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.override == nil {
		return Context{}, false
	}
	return *r.override, true
}

// publish writes a resolved context to the container so every other
// service sees it via Container.ProjectContext().
func (r *Resolver) publish(c Context) {
	if r.container == nil {
		return
	}
	r.container.SetProjectContext(svcregistry.ProjectContext{
		ProjectPath:   c.ProjectPath,
		ProjectID:     c.ProjectID,
		WorkspacePath: c.WorkspacePath,
	})
}

func (r *Resolver) lookupMemo(cwd string) (Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.memo[cwd]
	if !ok || time.Now().After(entry.expiresAt) {
		return Context{}, false
	}
	return entry.ctx, true
}

func (r *Resolver) storeMemo(cwd string, c Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[cwd] = cacheEntry{ctx: c, expiresAt: time.Now().Add(r.cfg.CacheTTL)}
}

// autoDetect walks up from cwd applying the monorepo-then-single-repo
// heuristic.
func (r *Resolver) autoDetect(cwd string) (*Context, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}

	for depth := 0; depth < r.cfg.MonorepoMaxDepth; depth++ {
		if isMonorepoRoot(dir) {
			return detectedContext(dir, models.ProjectTypeMonorepo), nil
		}
		if hasAnyIndicator(dir, singleRepoIndicators) {
			return detectedContext(dir, models.ProjectTypeSingleRepo), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return detectedContext(dir, models.ProjectTypeSingleRepo), nil
}

// isMonorepoRoot reports whether dir's parent is a monorepo root as seen
// from one of dir's known-name subdirectories: dir's own basename must be
// a recognised monorepo subdir name, the parent must contain at least two
// such subdirs, and at least one monorepo indicator file/dir.
func isMonorepoRoot(dir string) bool {
	if !monorepoSubdirs[filepath.Base(dir)] {
		return false
	}
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return false
	}

	subdirCount := 0
	for _, e := range entries {
		if e.IsDir() && monorepoSubdirs[e.Name()] {
			subdirCount++
		}
	}
	return subdirCount >= 2 && hasAnyIndicator(parent, monorepoIndicators)
}

func hasAnyIndicator(dir string, names []string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func detectedContext(root string, typ models.ProjectType) *Context {
	if typ == models.ProjectTypeMonorepo {
		root = filepath.Dir(root)
	}
	return &Context{
		ProjectPath:   root,
		ProjectID:     DeriveProjectID(root),
		WorkspacePath: root,
		Type:          typ,
	}
}

// DeriveProjectID lowercases projectPath's basename and collapses every
// run of non-alphanumeric characters to a single underscore.
func DeriveProjectID(projectPath string) string {
	base := strings.ToLower(filepath.Base(projectPath))
	collapsed := nonAlnum.ReplaceAllString(base, "_")
	return strings.Trim(collapsed, "_")
}

// Watch starts an fsnotify watch on root and invalidates the memo/cache
// entry for root whenever a debounced burst of filesystem events settles.
// Mirrors a plain fsnotify event-loop-plus-debounce idiom: one watcher
// goroutine, a stop channel, and a done channel Stop waits on.
type Watch struct {
	resolver *Resolver
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatch builds (but does not start) a filesystem watch over root that
// invalidates resolver's cache entry for root on change.
func NewWatch(resolver *Resolver, root string, debounce time.Duration) (*Watch, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = resolver.cfg.WatchDebounce
	}
	return &Watch{
		resolver: resolver,
		root:     root,
		debounce: debounce,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the debounced invalidation loop in its own goroutine.
func (w *Watch) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watch) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			w.resolver.Clear(w.root)
			getLog().Debug().Str("root", w.root).Msg("invalidated project context cache after filesystem change")
			timerC = nil
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop halts the watch and releases the underlying fsnotify handle.
func (w *Watch) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}
