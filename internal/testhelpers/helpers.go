// Package testhelpers provides shared utilities for tests that drive the
// relay over real HTTP and WebSocket connections.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// TestOrigin is the Origin header sent by ConnectWebSocket and Dial.
const TestOrigin = "http://localhost:8080"

// EventTimeout bounds how long a test waits for an expected event.
const EventTimeout = 2 * time.Second

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	if contentType := resp.Header.Get("Content-Type"); contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes an HTTP request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the given Origin header; an empty origin
// sends none.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Peer is a test client. A background goroutine reads every frame into a
// buffered channel so waiting for an event never leaves the connection with
// an expired read deadline.
type Peer struct {
	Conn   *websocket.Conn
	events chan relay.Envelope
	closed chan struct{}
}

// Dial connects a Peer and closes it when the test ends.
func Dial(t *testing.T, url string) *Peer {
	t.Helper()

	conn, _, err := ConnectWebSocket(url, TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}

	p := &Peer{
		Conn:   conn,
		events: make(chan relay.Envelope, 1024),
		closed: make(chan struct{}),
	}
	go p.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func (p *Peer) readLoop() {
	defer close(p.closed)
	for {
		_, frame, err := p.Conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := relay.Decode(frame)
		if err != nil {
			continue
		}
		p.events <- env
	}
}

// Send writes one event frame.
func (p *Peer) Send(t *testing.T, event string, data any) {
	t.Helper()
	frame, err := relay.Encode(event, data)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", event, err)
	}
	p.SendRaw(t, frame)
}

// SendRaw writes a text frame as is.
func (p *Peer) SendRaw(t *testing.T, frame []byte) {
	t.Helper()
	if err := p.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// Next returns the next event, failing the test after EventTimeout.
func (p *Peer) Next(t *testing.T) relay.Envelope {
	t.Helper()
	select {
	case env := <-p.events:
		return env
	case <-p.closed:
		select {
		case env := <-p.events:
			return env
		default:
		}
		t.Fatal("Connection closed while waiting for an event")
	case <-time.After(EventTimeout):
		t.Fatal("Timed out waiting for an event")
	}
	return relay.Envelope{}
}

// WaitFor skips events until one named event arrives.
func (p *Peer) WaitFor(t *testing.T, event string) relay.Envelope {
	t.Helper()
	deadline := time.After(EventTimeout)
	for {
		select {
		case env := <-p.events:
			if env.Event == event {
				return env
			}
		case <-p.closed:
			t.Fatalf("Connection closed while waiting for %s", event)
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", event)
		}
	}
}

// ExpectSilence fails if any event arrives within d.
func (p *Peer) ExpectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case env := <-p.events:
		t.Fatalf("Expected no event, got %s %s", env.Event, env.Data)
	case <-time.After(d):
	}
}

// Drain discards buffered events until none arrive for d.
func (p *Peer) Drain(d time.Duration) {
	for {
		select {
		case <-p.events:
		case <-time.After(d):
			return
		}
	}
}

// Closed is closed once the server side has ended the connection.
func (p *Peer) Closed() <-chan struct{} {
	return p.closed
}

// Close sends a normal closure frame and closes the connection.
func (p *Peer) Close() {
	_ = p.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = p.Conn.Close()
}

// Join dials a Peer, claims nickname and waits for its own user_list.
func Join(t *testing.T, url, nickname string) *Peer {
	t.Helper()
	p := Dial(t, url)
	p.Send(t, relay.EventSetNickname, nickname)
	p.WaitFor(t, relay.EventUserList)
	return p
}

// DecodeData unmarshals the payload of env into a T.
func DecodeData[T any](t *testing.T, env relay.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", env.Event, env.Data, err)
	}
	return v
}
