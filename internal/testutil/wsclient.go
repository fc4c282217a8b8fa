package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// WSClient is a websocket test client for battle server integration tests.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given websocket URL and returns a test client.
//
// Precondition: url must point at a listening battle server websocket
// endpoint, including battle_id and player_id query parameters.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})

	return &WSClient{conn: conn, t: t}
}

// SendIntent marshals and sends one intent message.
//
// Precondition: payload must be JSON-marshalable.
func (c *WSClient) SendIntent(intentType string, payload any) {
	c.t.Helper()

	msg := map[string]any{"type": intentType, "payload": payload}
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshalling intent %q: %v", intentType, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("sending intent %q: %v", intentType, err)
	}
}

// ReadEvent reads the next outbound event, failing the test on timeout.
func (c *WSClient) ReadEvent(timeout time.Duration) map[string]any {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("reading event: %v", err)
	}

	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		c.t.Fatalf("unmarshalling event %q: %v", string(data), err)
	}
	return ev
}

// WaitForEvent reads events until one of the given type arrives, failing
// the test when the deadline passes first.
func (c *WSClient) WaitForEvent(eventType string, timeout time.Duration) map[string]any {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		ev := c.ReadEvent(remaining)
		if ev["type"] == eventType {
			return ev
		}
	}
	c.t.Fatalf("no %q event within %s", eventType, timeout)
	return nil
}

// Close shuts the connection down immediately.
func (c *WSClient) Close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "test client closing")
}
