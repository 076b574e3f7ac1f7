// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_AppliesDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := NewConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Queue.MaxSize)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrentPerProject)
	assert.Equal(t, 2, cfg.Queue.MaxRetries)
	assert.Equal(t, int64(512), cfg.Analysis.MemoryBudgetMB)
	assert.Equal(t, "claude", cfg.Agent.DefaultTool)
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Log.Level = "NOPE"
	err := cfg.validate()
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveQueueMaxSize(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.MaxSize = 0
	err := cfg.validate()
	require.Error(t, err)
}

func TestValidate_RejectsOutOfRangeDegradeThreshold(t *testing.T) {
	cfg := defaultConfig()
	cfg.Analysis.DegradeThresholdFraction = 1.5
	err := cfg.validate()
	require.Error(t, err)
}

func TestValidate_RejectsInvalidServerPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	err := cfg.validate()
	require.Error(t, err)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.validate())
}

func TestGetDSN_UnknownDriverPassesDatabaseThrough(t *testing.T) {
	dc := DatabaseConfig{Driver: "sqlite", Database: "file::memory:?cache=shared"}
	assert.Equal(t, "file::memory:?cache=shared", dc.GetDSN())
}

func TestGetDSN_Postgres(t *testing.T) {
	dc := DatabaseConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     5432,
		Username: "u",
		Password: "p",
		Database: "stepflow",
		SSLMode:  "disable",
	}
	assert.Contains(t, dc.GetDSN(), "host=db")
	assert.Contains(t, dc.GetDSN(), "dbname=stepflow")
}
