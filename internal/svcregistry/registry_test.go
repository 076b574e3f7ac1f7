// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package svcregistry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/engineerr"
)

type fakeService struct {
	name      string
	started   bool
	stopped   bool
	startErr  error
}

func (f *fakeService) OnStart() error {
	f.started = true
	return f.startErr
}

func (f *fakeService) OnStop() error {
	f.stopped = true
	return nil
}

func TestResolve_SingletonCachesInstance(t *testing.T) {
	c := New()
	var constructCount int32
	c.Register("db", true, nil, func(map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&constructCount, 1)
		return "db-instance", nil
	})

	v1, err := c.Resolve("db")
	require.NoError(t, err)
	v2, err := c.Resolve("db")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), constructCount)
}

func TestResolve_NonSingletonConstructsEveryTime(t *testing.T) {
	c := New()
	var constructCount int32
	c.Register("ephemeral", false, nil, func(map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&constructCount, 1)
		return atomic.LoadInt32(&constructCount), nil
	})

	_, err := c.Resolve("ephemeral")
	require.NoError(t, err)
	_, err = c.Resolve("ephemeral")
	require.NoError(t, err)

	assert.Equal(t, int32(2), constructCount)
}

func TestResolve_MissingDependency(t *testing.T) {
	c := New()
	c.Register("svc", true, []string{"missing"}, func(map[string]interface{}) (interface{}, error) {
		return "svc", nil
	})

	_, err := c.Resolve("svc")
	require.Error(t, err)
	var depErr *engineerr.Dependency
	require.ErrorAs(t, err, &depErr)
}

func TestResolve_DependencyChain(t *testing.T) {
	c := New()
	c.Register("a", true, nil, func(map[string]interface{}) (interface{}, error) {
		return "a-val", nil
	})
	c.Register("b", true, []string{"a"}, func(resolved map[string]interface{}) (interface{}, error) {
		return resolved["a"].(string) + "-b", nil
	})

	v, err := c.Resolve("b")
	require.NoError(t, err)
	assert.Equal(t, "a-val-b", v)
}

func TestResolve_CycleDetected(t *testing.T) {
	c := New()
	c.Register("a", true, []string{"b"}, func(map[string]interface{}) (interface{}, error) {
		return "a", nil
	})
	c.Register("b", true, []string{"a"}, func(map[string]interface{}) (interface{}, error) {
		return "b", nil
	})

	_, err := c.Resolve("a")
	require.Error(t, err)
	var depErr *engineerr.Dependency
	require.ErrorAs(t, err, &depErr)
}

func TestResolve_FactoryErrorWrapped(t *testing.T) {
	c := New()
	cause := errors.New("boom")
	c.Register("broken", true, nil, func(map[string]interface{}) (interface{}, error) {
		return nil, cause
	})

	_, err := c.Resolve("broken")
	require.Error(t, err)
	var depErr *engineerr.Dependency
	require.ErrorAs(t, err, &depErr)
	assert.ErrorIs(t, err, cause)
}

func TestValidateDependencies_DoesNotConstruct(t *testing.T) {
	c := New()
	var constructed bool
	c.Register("a", true, nil, func(map[string]interface{}) (interface{}, error) {
		constructed = true
		return "a", nil
	})
	c.Register("b", true, []string{"a"}, func(map[string]interface{}) (interface{}, error) {
		return "b", nil
	})

	err := c.ValidateDependencies()
	require.NoError(t, err)
	assert.False(t, constructed)
}

func TestValidateDependencies_CatchesMissingAndCycles(t *testing.T) {
	c := New()
	c.Register("a", true, []string{"missing"}, func(map[string]interface{}) (interface{}, error) {
		return "a", nil
	})

	err := c.ValidateDependencies()
	require.Error(t, err)
}

func TestStartAllServices_InvokesOnStartAndCollectsFailures(t *testing.T) {
	c := New()
	good := &fakeService{name: "good"}
	bad := &fakeService{name: "bad", startErr: errors.New("start failed")}

	c.Register("good", true, nil, func(map[string]interface{}) (interface{}, error) {
		return good, nil
	})
	c.Register("bad", true, nil, func(map[string]interface{}) (interface{}, error) {
		return bad, nil
	})

	failed := c.StartAllServices()
	assert.True(t, good.started)
	assert.True(t, bad.started)
	assert.Len(t, failed, 1)
	assert.Contains(t, failed, "bad")
}

func TestStopAllServices_InvokesOnStop(t *testing.T) {
	c := New()
	svc := &fakeService{name: "svc"}
	c.Register("svc", true, nil, func(map[string]interface{}) (interface{}, error) {
		return svc, nil
	})

	_, err := c.Resolve("svc")
	require.NoError(t, err)

	failed := c.StopAllServices()
	assert.Empty(t, failed)
	assert.True(t, svc.stopped)
}

func TestProjectContext_SetAndGet(t *testing.T) {
	c := New()
	c.SetProjectContext(ProjectContext{ProjectPath: "/x/y", ProjectID: "y"})
	ctx := c.ProjectContext()
	assert.Equal(t, "/x/y", ctx.ProjectPath)
	assert.Equal(t, "y", ctx.ProjectID)

	c.SetProjectContext(ProjectContext{WorkspacePath: "/x/y/ws"})
	ctx = c.ProjectContext()
	assert.Equal(t, "/x/y", ctx.ProjectPath, "unspecified fields in patch must not be cleared")
	assert.Equal(t, "/x/y/ws", ctx.WorkspacePath)
}

func TestResolve_ConcurrentResolveConstructsOnce(t *testing.T) {
	c := New()
	var constructCount int32
	c.Register("svc", true, nil, func(map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&constructCount, 1)
		return "svc", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve("svc")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructCount)
}
