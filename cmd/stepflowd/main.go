// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command stepflowd is the stepflow daemon: it wires every internal
// component together (queue, processor, step engine, analysis queue,
// orchestration service, REST/WebSocket server) and serves the admission
// API until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stepflow/stepflow/internal/analysisqueue"
	"github.com/stepflow/stepflow/internal/collaborators/aiprovider"
	"github.com/stepflow/stepflow/internal/collaborators/fsscan"
	"github.com/stepflow/stepflow/internal/collaborators/git"
	"github.com/stepflow/stepflow/internal/collaborators/ide"
	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/eventbus"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/orchestration"
	"github.com/stepflow/stepflow/internal/processor"
	"github.com/stepflow/stepflow/internal/projectctx"
	"github.com/stepflow/stepflow/internal/repository"
	"github.com/stepflow/stepflow/internal/server"
	"github.com/stepflow/stepflow/internal/stepengine"
	"github.com/stepflow/stepflow/internal/svcregistry"
	"github.com/stepflow/stepflow/internal/taskqueue"
	"github.com/stepflow/stepflow/internal/telemetry"
	"github.com/stepflow/stepflow/internal/workflowdef"
	"github.com/stepflow/stepflow/internal/wsbridge"
	"github.com/stepflow/stepflow/pkg/containers/events"
	"github.com/stepflow/stepflow/pkg/containers/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stepflowd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("STEPFLOW_CONFIG")
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("starting stepflowd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.NewGormDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	bus := eventbus.New()
	container := svcregistry.New()

	tracer, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	resolver := projectctx.New(projectctx.Config{
		CacheTTL:         cfg.Project.CacheTTL,
		MonorepoMaxDepth: cfg.Project.MonorepoMaxDepth,
		WatchDebounce:    cfg.Project.WatchDebounce,
	}, db.Projects(), container)

	if cwd, err := os.Getwd(); err == nil {
		if watch, err := projectctx.NewWatch(resolver, cwd, cfg.Project.WatchDebounce); err != nil {
			mainLog.Warn().Err(err).Msg("project root watch unavailable, continuing without live invalidation")
		} else {
			watch.Start(ctx)
			defer watch.Stop()
		}
		if _, err := resolver.Resolve(ctx, cwd); err != nil {
			mainLog.Warn().Err(err).Str("cwd", cwd).Msg("failed to resolve initial project context")
		}
	}

	queue := taskqueue.New(taskqueue.Config{
		MaxSize:                 cfg.Queue.MaxSize,
		MaxConcurrentPerProject: cfg.Queue.MaxConcurrentPerProject,
		DefaultTimeout:          cfg.Queue.DefaultTimeout,
		MaxRetries:              cfg.Queue.MaxRetries,
		HistorySize:             cfg.Queue.HistorySize,
		DefaultEstimatedStep:    cfg.Queue.DefaultEstimatedStep,
	}, bus, db.Tasks())

	workflows := workflowdef.New()
	if cfg.Workflow.DefinitionsPath != "" {
		if err := workflows.Load(cfg.Workflow.DefinitionsPath); err != nil {
			return fmt.Errorf("load workflow definitions: %w", err)
		}
	}

	steps := stepengine.New(bus).WithTracer(tracer)
	gitManager := git.NewGitServiceManager(cfg)
	if err := stepengine.RegisterGitSteps(steps, gitManager); err != nil {
		return fmt.Errorf("register git steps: %w", err)
	}
	if err := stepengine.RegisterAIProviderSteps(steps, cfg.Agent.DefaultTool); err != nil {
		return fmt.Errorf("register ai provider steps: %w", err)
	}

	containerPublisher := eventBusPublisher{bus: bus}
	containerSvc, err := service.NewService(containerPublisher)
	if err != nil {
		return fmt.Errorf("start container service: %w", err)
	}
	ideAdapter := ide.NewAdapter(cfg.IDE, containerSvc, bus)
	if err := stepengine.RegisterIDESteps(steps, ideAdapter); err != nil {
		return fmt.Errorf("register ide steps: %w", err)
	}

	scanner := fsscan.New(fsscan.Config{})
	if err := stepengine.RegisterFSScanSteps(steps, scanner); err != nil {
		return fmt.Errorf("register fsscan steps: %w", err)
	}

	proc := processor.New(processor.Config{}, queue, workflows, steps, container)
	proc.Start(ctx)
	defer proc.Stop()

	fileScanner := analysisqueue.NewFileScanner(analysisqueue.Config{
		MaxFileSizeMB:     cfg.Analysis.MaxFileSizeMB,
		MaxDirectoryDepth: cfg.Analysis.MaxDirectoryDepth,
		Exclusions:        cfg.Analysis.Exclusions,
	})
	aiAdapter := aiprovider.NewProvider(cfg.Agent.DefaultTool, "")
	analysis := analysisqueue.New(analysisqueue.Config{
		MemoryBudgetMB:           cfg.Analysis.MemoryBudgetMB,
		DegradeThresholdFraction: cfg.Analysis.DegradeThresholdFraction,
		DefaultTimeout:           cfg.Analysis.DefaultTimeout,
		StreamingBatchSize:       cfg.Analysis.StreamingBatchSize,
		MaxFileSizeMB:            cfg.Analysis.MaxFileSizeMB,
		MaxDirectoryDepth:        cfg.Analysis.MaxDirectoryDepth,
		Exclusions:               cfg.Analysis.Exclusions,
	}, bus, analysisExecutors(fileScanner, aiAdapter)).WithTracer(tracer)

	orchestrator := orchestration.New(queue, analysis, workflows, db.Tasks(), container)

	bridge := wsbridge.New(bus)
	handlers := server.NewHandlers(orchestrator, queue, ideAdapter, db.Projects(), db.Tasks(), db.Analyses(), db.Chats())
	srv := server.New(&cfg.Server, bridge, handlers)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			mainLog.Error().Err(err).Msg("server exited with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		mainLog.Error().Err(err).Msg("server shutdown error")
	}

	return nil
}

// eventBusPublisher bridges pkg/containers/events.Publisher onto the
// application event bus so container lifecycle events reach the same
// WebSocket clients as every other collaborator's events.
type eventBusPublisher struct {
	bus *eventbus.Bus
}

func (p eventBusPublisher) Publish(event events.Event) error {
	p.bus.Publish("container:"+string(event.Type), event)
	return nil
}

// analysisExecutors maps every supported analysis type onto a concrete
// implementation: static tree scans for the file-shape-driven types, and
// an agent turn for the types that need judgment rather than enumeration.
func analysisExecutors(scanner *analysisqueue.FileScanner, ai *aiprovider.Provider) map[models.AnalysisType]analysisqueue.TypeExecutor {
	scanExecutor := func(ctx context.Context, projectPath string, opts analysisqueue.ExecOptions, emit func(partial interface{})) (interface{}, error) {
		result := scanner.Scan(projectPath)
		emit(result)
		return result, nil
	}

	agentExecutor := func(prompt string) analysisqueue.TypeExecutor {
		return func(ctx context.Context, projectPath string, opts analysisqueue.ExecOptions, emit func(partial interface{})) (interface{}, error) {
			output, err := ai.Chat(ctx, prompt, map[string]string{"projectPath": projectPath}, opts.Options)
			if err != nil {
				return nil, err
			}
			return aiprovider.ParseStepSummary(output)
		}
	}

	return map[models.AnalysisType]analysisqueue.TypeExecutor{
		models.AnalysisCodeQuality:    scanExecutor,
		models.AnalysisTechstack:      scanExecutor,
		models.AnalysisArchitecture:   scanExecutor,
		models.AnalysisSecurity:       agentExecutor("Review {{.projectPath}} for security vulnerabilities."),
		models.AnalysisPerformance:    agentExecutor("Review {{.projectPath}} for performance bottlenecks."),
		models.AnalysisRecommendation: agentExecutor("Summarize actionable recommendations for {{.projectPath}}."),
	}
}
