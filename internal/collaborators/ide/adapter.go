// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ide is the docker-backed IDE control adapter: it launches a
// per-project containerized IDE (code-server, standing in for
// Cursor/VSCode/Windsurf) and drives it over its Chrome DevTools
// debug port. The core invokes it through a small capability interface:
// connect, sendMessage, clickNewChat, getFileTree, getFileContent,
// executeTerminal, setWorkspace, getActivePort, listIDEs.
package ide

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/eventbus"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/pkg/containers/models"
	"github.com/stepflow/stepflow/pkg/containers/validation"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetIDELogger()
		log = &l
	})
	return log
}

// Type names the IDE a container is running. The default image
// (codercom/code-server) is a VSCode fork; Cursor/Windsurf are their own
// images with the same debug-port contract.
type Type string

const (
	TypeVSCode   Type = "vscode"
	TypeCursor   Type = "cursor"
	TypeWindsurf Type = "windsurf"
)

const ideLabel = "stepflow.ide"

// ContainerService is the subset of pkg/containers/service.Service this
// adapter drives to launch, discover, and tear down IDE containers.
type ContainerService interface {
	CreateContainer(ctx context.Context, cfg models.ContainerConfig) (*models.Container, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	ListContainersByLabels(ctx context.Context, labels map[string]string) ([]*models.Container, error)
	ExecContainer(ctx context.Context, containerID string, cmd []string, workDir string) (*models.ExecResult, error)
}

// Info describes one running IDE, as returned by ListIDEs.
type Info struct {
	Port          int    `json:"port"`
	Type          Type   `json:"type"`
	WorkspacePath string `json:"workspacePath,omitempty"`
}

// FileTreeEntry is one node of the tree returned by GetFileTree.
type FileTreeEntry struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	IsDir    bool            `json:"isDir"`
	Children []FileTreeEntry `json:"children,omitempty"`
}

type instance struct {
	containerID   string
	port          int
	ideType       Type
	workspacePath string
	cdp           *CDPClient
	lastActive    time.Time
}

// Adapter is the C10-facing collaborator: the step engine calls its
// capability methods by debug port, never by container id.
type Adapter struct {
	cfg        config.IDEConfig
	containers ContainerService
	bus        *eventbus.Bus

	mu         sync.RWMutex
	byPort     map[int]*instance
	activePort int
}

// NewAdapter builds an Adapter. bus may be nil, in which case no
// lifecycle events are published.
func NewAdapter(cfg config.IDEConfig, containers ContainerService, bus *eventbus.Bus) *Adapter {
	return &Adapter{cfg: cfg, containers: containers, bus: bus, byPort: make(map[int]*instance)}
}

func (a *Adapter) emit(topic string, payload map[string]interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(topic, payload)
}

func (a *Adapter) touch(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activePort = port
	if inst, ok := a.byPort[port]; ok {
		inst.lastActive = time.Now()
	}
}

func (a *Adapter) get(port int) (*instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.byPort[port]
	return inst, ok
}

// Launch starts a new IDE container for workspacePath, publishing
// workspacePath into the container under the configured mount point, and
// tracks it by its published debug port. It emits ide-started on success.
func (a *Adapter) Launch(ctx context.Context, workspacePath string, ideType Type) (int, error) {
	port := allocatePort()
	cfg := models.ContainerConfig{
		Name:  fmt.Sprintf("stepflow-ide-%d", port),
		Image: a.cfg.Image,
		Volumes: []models.VolumeMapping{
			{HostPath: workspacePath, ContainerPath: "/workspace"},
		},
		Ports: []models.PortMapping{
			{HostPort: port, ContainerPort: 9222, Protocol: "tcp"},
		},
		Labels: map[string]string{
			ideLabel: "true",
		},
	}

	if err := validation.ValidateContainerLabels(cfg.Labels); err != nil {
		return 0, fmt.Errorf("invalid IDE container labels: %w", err)
	}

	container, err := a.containers.CreateContainer(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("create IDE container: %w", err)
	}
	if err := a.containers.StartContainer(ctx, container.ID); err != nil {
		return 0, fmt.Errorf("start IDE container: %w", err)
	}

	a.mu.Lock()
	a.byPort[port] = &instance{containerID: container.ID, port: port, ideType: ideType, workspacePath: workspacePath, lastActive: time.Now()}
	a.activePort = port
	a.mu.Unlock()

	getLog().Info().Int("port", port).Str("workspacePath", workspacePath).Msg("IDE container launched")
	a.emit("ide-started", map[string]interface{}{"port": port, "type": string(ideType), "workspacePath": workspacePath})
	return port, nil
}

// Stop tears down the IDE container listening on port, closing any open
// debug connection first. It emits ide-stopped on success.
func (a *Adapter) Stop(ctx context.Context, port int) error {
	inst, ok := a.get(port)
	if !ok {
		return fmt.Errorf("no IDE tracked on port %d", port)
	}
	if inst.cdp != nil {
		inst.cdp.Close()
	}
	timeout := 10 * time.Second
	if err := a.containers.StopContainer(ctx, inst.containerID, &timeout); err != nil {
		return fmt.Errorf("stop IDE container: %w", err)
	}

	a.mu.Lock()
	delete(a.byPort, port)
	if a.activePort == port {
		a.activePort = 0
	}
	a.mu.Unlock()

	a.emit("ide-stopped", map[string]interface{}{"port": port})
	return nil
}

// Connect opens (or reuses) the CDP debug connection for port.
func (a *Adapter) Connect(ctx context.Context, port int) error {
	inst, ok := a.get(port)
	if !ok {
		return fmt.Errorf("no IDE tracked on port %d", port)
	}
	a.mu.RLock()
	existing := inst.cdp
	a.mu.RUnlock()
	if existing != nil {
		a.touch(port)
		return nil
	}

	cdp, err := DialCDP(ctx, fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("connect to IDE debug port %d: %w", port, err)
	}

	a.mu.Lock()
	inst.cdp = cdp
	a.mu.Unlock()
	a.touch(port)
	return nil
}

func (a *Adapter) connected(port int) (*CDPClient, error) {
	inst, ok := a.get(port)
	if !ok {
		return nil, fmt.Errorf("no IDE tracked on port %d", port)
	}
	if inst.cdp == nil {
		return nil, fmt.Errorf("IDE on port %d not connected, call Connect first", port)
	}
	return inst.cdp, nil
}

// jsString renders s as a double-quoted JS string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// SendMessage types text into the IDE's chat input and submits it.
func (a *Adapter) SendMessage(ctx context.Context, port int, text string) error {
	cdp, err := a.connected(port)
	if err != nil {
		return err
	}
	a.touch(port)
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector('[data-stepflow-chat-input]');
		if (!el) throw new Error('chat input not found');
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new KeyboardEvent('keydown', { key: 'Enter', bubbles: true }));
		return true;
	})()`, jsString(text))
	_, err = cdp.Evaluate(ctx, expr)
	return err
}

// ClickNewChat clicks the IDE's "new chat" control.
func (a *Adapter) ClickNewChat(ctx context.Context, port int) error {
	cdp, err := a.connected(port)
	if err != nil {
		return err
	}
	a.touch(port)
	expr := `(() => {
		const el = document.querySelector('[data-stepflow-new-chat]');
		if (!el) throw new Error('new chat control not found');
		el.click();
		return true;
	})()`
	_, err = cdp.Evaluate(ctx, expr)
	return err
}

// GetFileTree returns the IDE's currently open workspace's file tree.
func (a *Adapter) GetFileTree(ctx context.Context, port int) ([]FileTreeEntry, error) {
	cdp, err := a.connected(port)
	if err != nil {
		return nil, err
	}
	a.touch(port)
	expr := `JSON.stringify(window.stepflow.getFileTree())`
	var tree []FileTreeEntry
	if err := cdp.EvaluateInto(ctx, expr, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// GetFileContent returns the content of path as the IDE's editor sees it.
func (a *Adapter) GetFileContent(ctx context.Context, port int, path string) (string, error) {
	cdp, err := a.connected(port)
	if err != nil {
		return "", err
	}
	a.touch(port)
	expr := fmt.Sprintf(`window.stepflow.getFileContent(%s)`, jsString(path))
	var content string
	if err := cdp.EvaluateInto(ctx, expr, &content); err != nil {
		return "", err
	}
	return content, nil
}

// SetWorkspace tells the IDE to open path as its workspace root.
func (a *Adapter) SetWorkspace(ctx context.Context, port int, path string) error {
	cdp, err := a.connected(port)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`window.stepflow.openWorkspace(%s)`, jsString(path))
	if _, err := cdp.Evaluate(ctx, expr); err != nil {
		return err
	}

	a.mu.Lock()
	if inst, ok := a.byPort[port]; ok {
		inst.workspacePath = path
	}
	a.activePort = port
	a.mu.Unlock()

	a.emit("activeIDEChanged", map[string]interface{}{"port": port, "workspacePath": path})
	return nil
}

// ExecuteTerminal runs cmd inside the IDE's backing container, bypassing
// the debug protocol (the IDE's integrated terminal has no stable CDP
// surface to drive, but the container it runs in does).
func (a *Adapter) ExecuteTerminal(ctx context.Context, port int, cmd []string) (*models.ExecResult, error) {
	inst, ok := a.get(port)
	if !ok {
		return nil, fmt.Errorf("no IDE tracked on port %d", port)
	}
	a.touch(port)
	return a.containers.ExecContainer(ctx, inst.containerID, cmd, "/workspace")
}

// GetActivePort returns the most recently used IDE's debug port, or 0 if
// none has been touched yet.
func (a *Adapter) GetActivePort() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activePort
}

// ListIDEs discovers every stepflow-managed IDE container, reconciles it
// against the in-memory registry, and emits ideListUpdated.
func (a *Adapter) ListIDEs(ctx context.Context) ([]Info, error) {
	containers, err := a.containers.ListContainersByLabels(ctx, map[string]string{ideLabel: "true"})
	if err != nil {
		return nil, fmt.Errorf("list IDE containers: %w", err)
	}

	infos := make([]Info, 0, len(containers))
	for _, c := range containers {
		port, err := labelPort(c)
		if err != nil {
			getLog().Warn().Str("containerId", c.ID).Err(err).Msg("skipping IDE container with no discoverable debug port")
			continue
		}
		info := Info{Port: port}
		if inst, ok := a.get(port); ok {
			info.Type = inst.ideType
			info.WorkspacePath = inst.workspacePath
		} else {
			info.Type = TypeVSCode
		}
		infos = append(infos, info)
	}

	a.emit("ideListUpdated", map[string]interface{}{"count": len(infos)})
	return infos, nil
}

func labelPort(c *models.Container) (int, error) {
	for _, p := range c.Ports {
		if p.ContainerPort == 9222 {
			return p.HostPort, nil
		}
	}
	return 0, fmt.Errorf("container %s published no debug port", c.ID)
}

var portCounter int64 = 9221

// allocatePort hands out sequential host ports above the CDP default,
// avoiding a collision when several IDE containers run side by side on
// one host.
func allocatePort() int {
	return int(atomic.AddInt64(&portCounter, 1))
}
