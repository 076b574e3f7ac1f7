// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package aiprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/engineerr"
)

func TestChat_TestAdapterRunsShellCommand(t *testing.T) {
	p := NewProvider("test", "")

	out, err := p.Chat(context.Background(), "echo hello-{{.who}}", map[string]string{"who": "stepflow"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello-stepflow", out)
}

func TestChat_NonZeroExitIsCollaboratorError(t *testing.T) {
	p := NewProvider("test", "")

	_, err := p.Chat(context.Background(), "exit 7", nil, nil)
	require.Error(t, err)
	var collabErr *engineerr.Collaborator
	assert.ErrorAs(t, err, &collabErr)
}

func TestChat_UnsupportedToolIsCollaboratorError(t *testing.T) {
	p := NewProvider("unknown-tool", "")

	_, err := p.Chat(context.Background(), "anything", nil, nil)
	require.Error(t, err)
	var collabErr *engineerr.Collaborator
	assert.ErrorAs(t, err, &collabErr)
}

func TestChat_EmptyPromptTemplateIsValidationError(t *testing.T) {
	p := NewProvider("test", "")

	_, err := p.Chat(context.Background(), "", nil, nil)
	require.Error(t, err)
	var valErr *engineerr.Validation
	assert.ErrorAs(t, err, &valErr)
}

func TestChat_ContextCancellationPropagates(t *testing.T) {
	p := NewProvider("test", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, "sleep 5", nil, nil)
	require.Error(t, err)
}
