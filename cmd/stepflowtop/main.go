// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command stepflowtop is a read-only TUI dashboard: it dials a running
// stepflowd's WebSocket bridge and renders live queue and step activity
// as it streams in.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "stepflowd base URL")
	flag.Parse()

	wsURL, err := toWebSocketURL(*server)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stepflowtop:", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stepflowtop: dial", wsURL, ":", err)
		os.Exit(1)
	}
	defer conn.Close()

	msgs := make(chan wireMessage, 64)
	go readLoop(conn, msgs)

	m := newModel(wsURL, msgs)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "stepflowtop:", err)
		os.Exit(1)
	}
}

// toWebSocketURL rewrites a stepflowd base URL (http/https) onto its /ws
// endpoint (ws/wss).
func toWebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// wireMessage mirrors the {topic, payload} envelope internal/wsbridge
// broadcasts.
type wireMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func readLoop(conn *websocket.Conn, out chan<- wireMessage) {
	defer close(out)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		out <- msg
	}
}

// queueRow is the dashboard's flattened view of a queue:item:* payload.
type queueRow struct {
	ID       string
	Project  string
	State    string
	Priority string
	Updated  time.Time
}

// stepEvent is one workflow:step:* line in the activity log.
type stepEvent struct {
	At      time.Time
	Topic   string
	Summary string
}

type wsMsg wireMessage

type model struct {
	serverURL string
	msgs      <-chan wireMessage
	queue     map[string]queueRow
	log       []stepEvent
	viewport  viewport.Model
	width     int
	height    int
	connected bool
}

func newModel(serverURL string, msgs <-chan wireMessage) model {
	vp := viewport.New(80, 20)
	vp.SetContent("waiting for activity...")
	return model{
		serverURL: serverURL,
		msgs:      msgs,
		queue:     make(map[string]queueRow),
		viewport:  vp,
		connected: true,
	}
}

func (m model) Init() tea.Cmd {
	return waitForMessage(m.msgs)
}

func waitForMessage(msgs <-chan wireMessage) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-msgs
		if !ok {
			return connectionClosedMsg{}
		}
		return wsMsg(msg)
	}
}

type connectionClosedMsg struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - logPanelOverhead
		m.refreshLog()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case connectionClosedMsg:
		m.connected = false
		return m, nil

	case wsMsg:
		m.applyEvent(wireMessage(msg))
		m.refreshLog()
		return m, waitForMessage(m.msgs)
	}

	return m, nil
}

const logPanelOverhead = 8
const maxLogLines = 200

func (m *model) applyEvent(msg wireMessage) {
	switch {
	case strings.HasPrefix(msg.Topic, "queue:item:"):
		m.applyQueueEvent(msg)
	case strings.HasPrefix(msg.Topic, "workflow:step:"):
		m.appendLog(msg.Topic, summarizeStepEvent(msg.Payload))
	case msg.Topic == "analysis:completed":
		m.appendLog(msg.Topic, summarizeAnalysisEvent(msg.Payload))
	default:
		m.appendLog(msg.Topic, string(msg.Payload))
	}
}

func (m *model) applyQueueEvent(msg wireMessage) {
	var payload struct {
		QueueItemID string
		ProjectID   string
		State       string
		Priority    string
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		m.appendLog(msg.Topic, "unparseable payload")
		return
	}
	if msg.Topic == "queue:item:completed" || payload.State == "completed" || payload.State == "cancelled" {
		delete(m.queue, payload.QueueItemID)
	} else {
		m.queue[payload.QueueItemID] = queueRow{
			ID:       payload.QueueItemID,
			Project:  payload.ProjectID,
			State:    payload.State,
			Priority: payload.Priority,
			Updated:  time.Now(),
		}
	}
	m.appendLog(msg.Topic, payload.QueueItemID+" -> "+payload.State)
}

func summarizeStepEvent(payload json.RawMessage) string {
	var body struct {
		Step   string
		Reason string
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return string(payload)
	}
	if body.Reason != "" {
		return body.Step + ": " + body.Reason
	}
	return body.Step
}

func summarizeAnalysisEvent(payload json.RawMessage) string {
	var body struct {
		JobID string
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return string(payload)
	}
	return "job " + body.JobID
}

func (m *model) appendLog(topic, summary string) {
	m.log = append(m.log, stepEvent{At: time.Now(), Topic: topic, Summary: summary})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *model) refreshLog() {
	var b strings.Builder
	for _, e := range m.log {
		fmt.Fprintf(&b, "%s  %-28s %s\n", e.At.Format("15:04:05"), e.Topic, e.Summary)
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (m model) View() string {
	status := "connected"
	if !m.connected {
		status = "disconnected"
	}
	header := headerStyle.Render(fmt.Sprintf("stepflowtop — %s (%s)", m.serverURL, status))

	queuePanel := panelStyle.Width(maxInt(m.width-4, 20)).Render(m.renderQueue())
	logPanel := panelStyle.Width(maxInt(m.width-4, 20)).Render(m.viewport.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, queuePanel, logPanel, dimStyle.Render("q to quit"))
}

func (m model) renderQueue() string {
	if len(m.queue) == 0 {
		return "queue empty"
	}
	rows := make([]queueRow, 0, len(m.queue))
	for _, r := range m.queue {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Updated.Before(rows[j].Updated) })

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-20s %-10s %-8s\n", "ITEM", "PROJECT", "STATE", "PRIORITY")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-36s %-20s %-10s %-8s\n", r.ID, r.Project, r.State, r.Priority)
	}
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
