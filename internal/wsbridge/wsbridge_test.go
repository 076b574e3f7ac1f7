// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package wsbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/eventbus"
)

func TestBridge_QueueItemAddedBroadcastsPassthrough(t *testing.T) {
	bus := eventbus.New()
	bridge := New(bus)
	bridge.Start()
	defer bridge.Stop()

	var captured []byte
	c := &client{send: make(chan []byte, 1)}
	bridge.registry.mu.Lock()
	bridge.registry.clients[c] = struct{}{}
	bridge.registry.mu.Unlock()

	bus.Publish("queue:item:added", map[string]interface{}{"id": "q1"})

	select {
	case captured = <-c.send:
	default:
		t.Fatal("expected a broadcast message on the client's send channel")
	}
	assert.Contains(t, string(captured), `"topic":"queue:item:added"`)
	assert.Contains(t, string(captured), `"id":"q1"`)
}

func TestBridge_GitCheckoutTranslatesToGitBranchChanged(t *testing.T) {
	bus := eventbus.New()
	bridge := New(bus)
	bridge.Start()
	defer bridge.Stop()

	c := &client{send: make(chan []byte, 1)}
	bridge.registry.mu.Lock()
	bridge.registry.clients[c] = struct{}{}
	bridge.registry.mu.Unlock()

	bus.Publish("git:checkout:completed", map[string]interface{}{"repoPath": "/repo", "branch": "main"})

	data := <-c.send
	assert.Contains(t, string(data), `"topic":"git-branch-changed"`)
	assert.Contains(t, string(data), `"workspacePath":"/repo"`)
	assert.Contains(t, string(data), `"newBranch":"main"`)
}

func TestBridge_GitCreateBranchTranslatesToGitStatusUpdated(t *testing.T) {
	bus := eventbus.New()
	bridge := New(bus)
	bridge.Start()
	defer bridge.Stop()

	c := &client{send: make(chan []byte, 1)}
	bridge.registry.mu.Lock()
	bridge.registry.clients[c] = struct{}{}
	bridge.registry.mu.Unlock()

	bus.Publish("git:createBranch:completed", map[string]interface{}{"repoPath": "/repo", "branch": "feature"})

	data := <-c.send
	assert.Contains(t, string(data), `"topic":"git-status-updated"`)
	assert.Contains(t, string(data), `"workspacePath":"/repo"`)
	assert.Contains(t, string(data), `"gitStatus"`)
}

func TestBridge_ChatMessageScopesToUserOnly(t *testing.T) {
	bus := eventbus.New()
	bridge := New(bus)
	bridge.Start()
	defer bridge.Stop()

	target := &client{userID: "u1", send: make(chan []byte, 1)}
	other := &client{userID: "u2", send: make(chan []byte, 1)}
	bridge.registry.mu.Lock()
	bridge.registry.clients[target] = struct{}{}
	bridge.registry.clients[other] = struct{}{}
	bridge.registry.mu.Unlock()

	bus.Publish("chat-message", map[string]interface{}{"userId": "u1", "text": "hi"})

	select {
	case data := <-target.send:
		assert.Contains(t, string(data), `"topic":"chat-message"`)
	default:
		t.Fatal("expected the addressed user to receive the chat message")
	}

	select {
	case <-other.send:
		t.Fatal("did not expect a different user to receive the chat message")
	default:
	}
}

func TestBridge_MessageSentAliasesToChatMessageTopic(t *testing.T) {
	bus := eventbus.New()
	bridge := New(bus)
	bridge.Start()
	defer bridge.Stop()

	c := &client{userID: "u1", send: make(chan []byte, 1)}
	bridge.registry.mu.Lock()
	bridge.registry.clients[c] = struct{}{}
	bridge.registry.mu.Unlock()

	bus.Publish("MessageSent", map[string]interface{}{"userId": "u1", "text": "hi"})

	data := <-c.send
	assert.Contains(t, string(data), `"topic":"chat-message"`)
}

func TestRegistry_AddRespectsMaxClients(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxClients; i++ {
		require.True(t, r.add(&client{send: make(chan []byte, 1)}))
	}
	assert.False(t, r.add(&client{send: make(chan []byte, 1)}))
}

func TestRegistry_RemoveStopsFurtherDelivery(t *testing.T) {
	r := NewRegistry()
	c := &client{send: make(chan []byte, 1)}
	require.True(t, r.add(c))
	r.remove(c)

	r.BroadcastToAll("topic", "payload")
	select {
	case <-c.send:
		t.Fatal("removed client should not receive broadcasts")
	default:
	}
}
