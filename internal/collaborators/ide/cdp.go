// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package ide

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// CDPClient is a minimal Chrome DevTools Protocol client: it discovers a
// target's debugger websocket via the standard /json/version HTTP
// endpoint, then issues Runtime.evaluate calls and correlates responses
// by request id. It does not implement the full protocol — only the
// subset the IDE adapter's capability set needs.
type CDPClient struct {
	conn    *websocket.Conn
	nextID  int64
	mu      sync.Mutex
	pending map[int64]chan cdpResponse
	closed  chan struct{}
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type evaluateResult struct {
	Result struct {
		Value json.RawMessage `json:"value"`
		Type  string          `json:"type"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

// discoverDebuggerURL fetches the websocket debugger URL for the target
// listening at httpEndpoint (e.g. "http://127.0.0.1:9222").
func discoverDebuggerURL(ctx context.Context, httpEndpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpEndpoint+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("discover debugger endpoint: %w", err)
	}
	defer resp.Body.Close()

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode /json/version response: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("target at %s exposed no websocket debugger URL", httpEndpoint)
	}
	return info.WebSocketDebuggerURL, nil
}

// DialCDP connects to the debug target at httpEndpoint and starts its
// response-reading loop.
func DialCDP(ctx context.Context, httpEndpoint string) (*CDPClient, error) {
	wsURL, err := discoverDebuggerURL(ctx, httpEndpoint)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial debugger websocket: %w", err)
	}

	c := &CDPClient{
		conn:    conn,
		pending: make(map[int64]chan cdpResponse),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// dialCDPConn wraps an already-established websocket connection, for
// tests that stand up a fake debugger endpoint.
func dialCDPConn(conn *websocket.Conn) *CDPClient {
	c := &CDPClient{conn: conn, pending: make(map[int64]chan cdpResponse), closed: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *CDPClient) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.drainPending()
			return
		}
		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *CDPClient) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Evaluate runs expression in the target's main execution context and
// returns the CDP-protocol "result" envelope, unparsed.
func (c *CDPClient) Evaluate(ctx context.Context, expression string) (evaluateResult, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan cdpResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	msg := map[string]interface{}{
		"id":     id,
		"method": "Runtime.evaluate",
		"params": map[string]interface{}{
			"expression":    expression,
			"returnByValue": true,
			"awaitPromise":  true,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return evaluateResult{}, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return evaluateResult{}, fmt.Errorf("write CDP request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return evaluateResult{}, fmt.Errorf("CDP connection closed before response arrived")
		}
		if resp.Error != nil {
			return evaluateResult{}, fmt.Errorf("cdp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		var out evaluateResult
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return evaluateResult{}, fmt.Errorf("decode Runtime.evaluate result: %w", err)
		}
		if out.ExceptionDetails != nil {
			return evaluateResult{}, fmt.Errorf("javascript exception: %s", out.ExceptionDetails.Text)
		}
		return out, nil
	case <-ctx.Done():
		return evaluateResult{}, ctx.Err()
	}
}

// EvaluateInto runs expression and decodes its returned value into out.
func (c *CDPClient) EvaluateInto(ctx context.Context, expression string, out interface{}) error {
	result, err := c.Evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if len(result.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(result.Result.Value, out)
}

// Close terminates the underlying websocket connection.
func (c *CDPClient) Close() error {
	return c.conn.Close()
}
