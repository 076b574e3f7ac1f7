// Copyright (C) 2025-2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetOrchestrationLogger returns a logger for the workflow orchestration service (C8)
func GetOrchestrationLogger() zerolog.Logger {
	return GetLogger("orchestration")
}

// GetQueueLogger returns a logger for the task queue core (C5)
func GetQueueLogger() zerolog.Logger {
	return GetLogger("queue")
}

// GetProcessorLogger returns a logger for the task processor worker loop (C6)
func GetProcessorLogger() zerolog.Logger {
	return GetLogger("processor")
}

// GetStepEngineLogger returns a logger for the step registry and builder (C4)
func GetStepEngineLogger() zerolog.Logger {
	return GetLogger("stepengine")
}

// GetAnalysisLogger returns a logger for the analysis queue (C7)
func GetAnalysisLogger() zerolog.Logger {
	return GetLogger("analysis")
}

// GetEventBusLogger returns a logger for the event bus (C1)
func GetEventBusLogger() zerolog.Logger {
	return GetLogger("eventbus")
}

// GetWSBridgeLogger returns a logger for the WebSocket bridge (C10)
func GetWSBridgeLogger() zerolog.Logger {
	return GetLogger("wsbridge")
}

// GetProjectCtxLogger returns a logger for project context auto-detection (C9)
func GetProjectCtxLogger() zerolog.Logger {
	return GetLogger("projectctx")
}

// GetSvcRegistryLogger returns a logger for the service container (C2)
func GetSvcRegistryLogger() zerolog.Logger {
	return GetLogger("svcregistry")
}

// GetWorkflowDefLogger returns a logger for the workflow loader (C3)
func GetWorkflowDefLogger() zerolog.Logger {
	return GetLogger("workflowdef")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetGitLogger returns a logger for git operations
func GetGitLogger() zerolog.Logger {
	return GetLogger("git")
}

// GetAIProviderLogger returns a logger for AI provider adapter operations
func GetAIProviderLogger() zerolog.Logger {
	return GetLogger("aiprovider")
}

// GetContainerLogger returns a logger for container operations
func GetContainerLogger() zerolog.Logger {
	return GetLogger("container")
}

// GetIDELogger returns a logger for the IDE adapter collaborator
func GetIDELogger() zerolog.Logger {
	return GetLogger("ide")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetTelemetryLogger returns a logger for the tracing provider
func GetTelemetryLogger() zerolog.Logger {
	return GetLogger("telemetry")
}
