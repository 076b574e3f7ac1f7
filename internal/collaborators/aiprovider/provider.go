// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package aiprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAIProviderLogger()
		log = &l
	})
	return log
}

// maxOutputBytes caps captured stdout/stderr to avoid unbounded memory growth
// on a runaway or chatty collaborator process.
const maxOutputBytes = 10 * 1024 * 1024

// Provider is the AI collaborator capability from the workflow steps'
// point of view: given a prompt and a set of tool options it returns the
// rendered text response.
type Provider struct {
	toolName   string
	workDir    string
	flagFormat string
}

// NewProvider builds a Provider bound to the named tool ("claude" or
// "test") and an optional working directory for the invoked process.
func NewProvider(toolName, workDir string) *Provider {
	return &Provider{toolName: toolName, workDir: workDir}
}

// Chat renders promptTemplate against variables, builds the adapter's
// command array, runs it, and returns its captured stdout. A non-zero exit
// is reported as an engineerr.Collaborator so the retry policy can decide
// whether to retry.
func (p *Provider) Chat(ctx context.Context, promptTemplate string, variables map[string]string, toolOptions map[string]interface{}) (string, error) {
	adapter, err := GetAdapter(p.toolName)
	if err != nil {
		return "", engineerr.NewCollaborator(p.toolName, err)
	}

	config := AgentConfig{
		ToolName:       p.toolName,
		PromptTemplate: promptTemplate,
		Variables:      variables,
		ToolOptions:    toolOptions,
		FlagFormat:     p.flagFormat,
	}

	command, err := adapter.PrepareCommand(config)
	if err != nil {
		return "", engineerr.NewValidation("promptTemplate", "%v", err)
	}

	getLog().Debug().Str("tool", p.toolName).Int("argc", len(command)).Msg("invoking AI collaborator")

	start := time.Now()
	output, err := p.run(ctx, command)
	duration := time.Since(start)

	if err != nil {
		getLog().Error().Err(err).Str("tool", p.toolName).Dur("duration", duration).Msg("AI collaborator invocation failed")
		return "", engineerr.NewCollaborator(p.toolName, err)
	}

	getLog().Info().Str("tool", p.toolName).Dur("duration", duration).Int("outputBytes", len(output)).Msg("AI collaborator invocation completed")
	return strings.TrimSpace(output), nil
}

func (p *Provider) run(ctx context.Context, command []string) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}

	var stdout, stderr boundedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("collaborator process cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("collaborator process failed: %w: %s", err, stderr.String())
	}

	return stdout.String(), nil
}

// boundedBuffer is an io.Writer that silently drops bytes past
// maxOutputBytes rather than growing without bound.
type boundedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}
	remaining := maxOutputBytes - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
