// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wsbridge is the WebSocket Bridge (C10): it subscribes once to
// each published event-bus topic of interest and rebroadcasts it to
// connected clients, translating internal topic names and payload shapes
// to the WebSocket wire contract.
package wsbridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/eventbus"
	"github.com/stepflow/stepflow/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetWSBridgeLogger()
		log = &l
	})
	return log
}

const (
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 1000
	sendBuffer     = 64
)

// scope names which clients a rebroadcast wire message reaches.
type scope int

const (
	scopeAll scope = iota
	scopeUser
)

// translation is one row of the internal-topic → wire-topic table.
type translation struct {
	wireTopic string
	scope     scope
	transform func(payload interface{}) (wire interface{}, userID string)
}

func passthrough(payload interface{}) (interface{}, string) { return payload, "" }

func mapPayload(payload interface{}) (map[string]interface{}, bool) {
	m, ok := payload.(map[string]interface{})
	return m, ok
}

// gitBranchChanged reshapes a git:checkout:completed payload
// ({repoPath, branch}) into the wire {workspacePath, newBranch} shape.
func gitBranchChanged(payload interface{}) (interface{}, string) {
	m, ok := mapPayload(payload)
	if !ok {
		return payload, ""
	}
	return map[string]interface{}{
		"workspacePath": m["repoPath"],
		"newBranch":     m["branch"],
	}, ""
}

// gitStatusUpdated reshapes a git:pull|merge|createBranch:completed payload
// into the wire {workspacePath, gitStatus} shape, folding whatever
// operation-specific keys the adapter emitted into gitStatus.
func gitStatusUpdated(payload interface{}) (interface{}, string) {
	m, ok := mapPayload(payload)
	if !ok {
		return payload, ""
	}
	status := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "repoPath" {
			continue
		}
		status[k] = v
	}
	return map[string]interface{}{
		"workspacePath": m["repoPath"],
		"gitStatus":     status,
	}, ""
}

// userScoped is implemented by payloads that carry their own addressee, so
// per-user topics don't need a bespoke transform each.
type userScoped interface {
	GetUserID() string
}

func perUserPassthrough(payload interface{}) (interface{}, string) {
	userID := ""
	if us, ok := payload.(userScoped); ok {
		userID = us.GetUserID()
	} else if m, ok := mapPayload(payload); ok {
		if id, ok := m["userId"].(string); ok {
			userID = id
		}
	}
	return payload, userID
}

// translations is the topic table. The git adapter (internal/collaborators
// /git) actually emits "git:createBranch:completed", not the more literal
// "git:branch:created", and analysisqueue.Queue finishes a job under
// "analysis:job:finished" rather than "analysis:completed" — both rows
// below bind to the real runtime topic name and are noted in the design
// ledger.
var translations = map[string]translation{
	"queue:item:added":           {wireTopic: "queue:item:added", scope: scopeAll, transform: passthrough},
	"queue:item:updated":         {wireTopic: "queue:item:updated", scope: scopeAll, transform: passthrough},
	"queue:item:completed":       {wireTopic: "queue:item:completed", scope: scopeAll, transform: passthrough},
	"workflow:step:progress":     {wireTopic: "workflow:step:progress", scope: scopeAll, transform: passthrough},
	"workflow:step:completed":    {wireTopic: "workflow:step:completed", scope: scopeAll, transform: passthrough},
	"workflow:step:failed":       {wireTopic: "workflow:step:failed", scope: scopeAll, transform: passthrough},
	"git:checkout:completed":     {wireTopic: "git-branch-changed", scope: scopeAll, transform: gitBranchChanged},
	"git:pull:completed":         {wireTopic: "git-status-updated", scope: scopeAll, transform: gitStatusUpdated},
	"git:merge:completed":        {wireTopic: "git-status-updated", scope: scopeAll, transform: gitStatusUpdated},
	"git:createBranch:completed": {wireTopic: "git-status-updated", scope: scopeAll, transform: gitStatusUpdated},
	"analysis:job:finished":      {wireTopic: "analysis:completed", scope: scopeAll, transform: passthrough},
	"ide-started":                {wireTopic: "ide-started", scope: scopeUser, transform: perUserPassthrough},
	"ide-stopped":                {wireTopic: "ide-stopped", scope: scopeUser, transform: perUserPassthrough},
	"activeIDEChanged":           {wireTopic: "activeIDEChanged", scope: scopeAll, transform: passthrough},
	"ideListUpdated":             {wireTopic: "ideListUpdated", scope: scopeAll, transform: passthrough},
	"chat-message":                {wireTopic: "chat-message", scope: scopeUser, transform: perUserPassthrough},
	"MessageSent":                 {wireTopic: "chat-message", scope: scopeUser, transform: perUserPassthrough},
}

// Bridge owns the subscriptions and the connected-client registry.
type Bridge struct {
	bus      *eventbus.Bus
	registry *Registry
	subs     []eventbus.Subscription
}

// New constructs a Bridge over bus, with a fresh client registry.
func New(bus *eventbus.Bus) *Bridge {
	return &Bridge{bus: bus, registry: NewRegistry()}
}

// Registry exposes the bridge's client registry, e.g. for the HTTP upgrade
// handler to register new connections against.
func (b *Bridge) Registry() *Registry { return b.registry }

// Start subscribes to every topic in the translation table. Call once;
// subsequent calls re-subscribe (harmless, but duplicates delivery).
func (b *Bridge) Start() {
	for topic, tr := range translations {
		tr := tr
		sub := b.bus.Subscribe(topic, func(e eventbus.Event) {
			wire, userID := tr.transform(e.Payload)
			switch tr.scope {
			case scopeUser:
				if userID == "" {
					getLog().Warn().Str("topic", topic).Msg("per-user event had no resolvable user id, dropping")
					return
				}
				b.registry.BroadcastToUser(userID, tr.wireTopic, wire)
			default:
				b.registry.BroadcastToAll(tr.wireTopic, wire)
			}
		})
		b.subs = append(b.subs, sub)
	}
}

// Stop unsubscribes every topic this bridge registered.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		b.bus.Unsubscribe(sub)
	}
	b.subs = nil
}

// wireMessage is the envelope every broadcast is marshaled into.
type wireMessage struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// client is a single connected WebSocket client, optionally authenticated
// as a user (empty userID means it never receives per-user broadcasts).
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Registry tracks every connected client and fans out broadcasts.
type Registry struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*client]struct{})}
}

// BroadcastToAll sends {topic, payload} to every connected client.
func (r *Registry) BroadcastToAll(topic string, payload interface{}) {
	data, err := json.Marshal(wireMessage{Topic: topic, Payload: payload})
	if err != nil {
		getLog().Error().Err(err).Str("topic", topic).Msg("failed to marshal broadcast payload")
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		r.deliver(c, data)
	}
}

// BroadcastToUser sends {topic, payload} only to clients authenticated as
// userID.
func (r *Registry) BroadcastToUser(userID, topic string, payload interface{}) {
	data, err := json.Marshal(wireMessage{Topic: topic, Payload: payload})
	if err != nil {
		getLog().Error().Err(err).Str("topic", topic).Msg("failed to marshal broadcast payload")
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if c.userID == userID {
			r.deliver(c, data)
		}
	}
}

func (r *Registry) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		getLog().Warn().Msg("dropping broadcast for slow websocket client")
	}
}

func (r *Registry) add(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *Registry) remove(c *client) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// newUpgrader mirrors the origin-allowlist pattern: empty allowedOrigins
// means "accept any origin" (local development).
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// authenticate extracts the connecting user's id. Query parameter today;
// swap for a session/JWT lookup once auth is wired.
func authenticate(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}

// Handler upgrades an HTTP connection into a tracked client and runs its
// read/write pumps until disconnect.
func (b *Bridge) Handler(allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := &client{conn: conn, send: make(chan []byte, sendBuffer), userID: authenticate(r)}
		if !b.registry.add(c) {
			getLog().Warn().Msg("websocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		getLog().Info().Str("remote", r.RemoteAddr).Str("userId", c.userID).Msg("websocket client connected")

		go c.writePump()
		c.readPump(b.registry)
	}
}

func (c *client) readPump(registry *Registry) {
	defer func() {
		registry.remove(c)
		close(c.send)
		c.conn.Close()
		getLog().Info().Msg("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
