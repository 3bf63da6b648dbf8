package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/filestore"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. The read pump parses frames and does
// the slow work (bcrypt, base64, disk) before handing registry work to the
// hub; the write pump drains the session's outbound queue.
type Client struct {
	conn        *websocket.Conn
	session     *registry.Session
	hub         *Hub
	addr        string
	cfg         Config
	rateLimiter *rateLimiter
}

// NewClient creates a client for conn using the configuration in effect.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:        conn,
		session:     registry.NewSession(addr, cfg.SendQueueSize, overflowPolicy(cfg)),
		hub:         hub,
		addr:        addr,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
	}
}

// Session returns the registry record of this connection.
func (c *Client) Session() *registry.Session {
	return c.session
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("error setting initial read deadline", "addr", c.addr, "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError logs a read failure at a level matching how surprising it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("frame exceeded maximum size", "addr", c.addr, "limit", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Info("client disconnected", "addr", c.addr, "session", c.session.ID())
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		slog.Info("client connection closed", "addr", c.addr, "session", c.session.ID())
	default:
		slog.Warn("websocket read error", "addr", c.addr, "err", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.rateLimiter.allow() {
			c.hub.metrics.RateLimited.Add(1)
			slog.Warn("rate limit exceeded; discarding frame",
				"addr", c.addr, "burst", c.cfg.RateLimit.Burst, "interval", c.cfg.RateLimit.RefillInterval)
			c.replyError(errRateLimited)
			continue
		}

		if err := c.processFrame(frame); err != nil {
			if errorCode(err) == relay.CodeBadRequest {
				c.hub.metrics.BadRequests.Add(1)
			}
			slog.Debug("request refused", "addr", c.addr, "err", err)
			c.replyError(err)
		}
	}
}

// processFrame decodes and handles one inbound frame. A returned error is
// reported to the client as an error event; the connection stays open.
func (c *Client) processFrame(frame []byte) error {
	env, err := relay.Decode(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	switch env.Event {
	case relay.EventSetNickname:
		var nickname string
		if err := decodeData(env, &nickname); err != nil {
			return err
		}
		if c.cfg.RequireAuth {
			return errAuthRequired
		}
		c.hub.submit(command{kind: cmdSetNickname, client: c, nickname: nickname})

	case relay.EventRegister:
		var creds relay.Credentials
		if err := decodeData(env, &creds); err != nil {
			return err
		}
		c.register(creds)

	case relay.EventLogin:
		var creds relay.Credentials
		if err := decodeData(env, &creds); err != nil {
			return err
		}
		c.login(creds)

	case relay.EventGetUsers:
		c.hub.submit(command{kind: cmdGetUsers, client: c})

	case relay.EventSendMessage:
		var req relay.SendMessageRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		c.hub.submit(command{kind: cmdSendMessage, client: c, recipient: req.Recipient, text: req.Message})

	case relay.EventSendFile:
		var req relay.SendFileRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		return c.sendFile(req)

	default:
		return fmt.Errorf("%w: unknown event %q", errBadRequest, env.Event)
	}
	return nil
}

func decodeData(env relay.Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", errBadRequest, env.Event, err)
	}
	return nil
}

func (c *Client) register(creds relay.Credentials) {
	gate := c.hub.gate
	if gate == nil {
		c.reply(relay.EventRegistrationError, relay.Notice{Message: registrationMessage(errAuthDisabled)})
		return
	}

	if err := gate.Register(c.hub.ctx, creds.Username, creds.Password); err != nil {
		if !errors.Is(err, auth.ErrDuplicateUsername) &&
			!errors.Is(err, auth.ErrInvalidUsername) &&
			!errors.Is(err, auth.ErrInvalidPassword) {
			slog.Error("registration failed", "username", creds.Username, "err", err)
		}
		c.reply(relay.EventRegistrationError, relay.Notice{Message: registrationMessage(err)})
		return
	}
	c.hub.metrics.Registrations.Add(1)
	c.reply(relay.EventRegistrationSuccess, relay.Notice{Message: "Registration successful"})
}

func (c *Client) login(creds relay.Credentials) {
	gate := c.hub.gate
	if gate == nil {
		c.reply(relay.EventLoginError, relay.Notice{Message: errAuthDisabled.Error()})
		return
	}

	if err := gate.Login(c.hub.ctx, creds.Username, creds.Password); err != nil {
		c.hub.metrics.FailedAuths.Add(1)
		message := "Invalid username or password"
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("login failed", "username", creds.Username, "err", err)
			message = "Login failed"
		}
		c.reply(relay.EventLoginError, relay.Notice{Message: message})
		return
	}

	// The hub binds the username and answers with login_success or
	// login_error.
	c.hub.submit(command{kind: cmdLogin, client: c, nickname: creds.Username})
}

func (c *Client) sendFile(req relay.SendFileRequest) error {
	if c.hub.files == nil {
		return fmt.Errorf("%w: %w", errBadRequest, errFilesDisabled)
	}
	if _, ok := c.session.Nickname(); !ok {
		return errNicknameMissing
	}

	data, err := filestore.Decode(req.FileData, c.cfg.MaxFileSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, c.cfg.FileTimeout)
	defer cancel()

	stored, err := c.hub.files.Save(ctx, req.FileName, data)
	if err != nil {
		if !errors.Is(err, filestore.ErrInvalidName) {
			slog.Error("storing file failed", "addr", c.addr, "file", req.FileName, "err", err)
		}
		return err
	}
	c.hub.metrics.FileBytes.Add(int64(len(data)))
	slog.Info("file received", "session", c.session.ID(), "file", stored, "bytes", len(data), "recipient", req.Recipient)

	c.hub.submit(command{
		kind:      cmdSendFile,
		client:    c,
		recipient: req.Recipient,
		file:      relay.FileBlob{Name: stored, Data: req.FileData},
	})
	return nil
}

// reply queues an event for this client only, bypassing the hub.
func (c *Client) reply(event string, data any) {
	payload, err := relay.Encode(event, data)
	if err != nil {
		slog.Error("encoding reply failed", "event", event, "err", err)
		return
	}
	if !c.session.Enqueue(payload) {
		slog.Debug("reply dropped", "session", c.session.ID(), "event", event)
	}
}

func (c *Client) replyError(err error) {
	c.reply(relay.EventError, errorNotice(err))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.session.Outbound():
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		slog.Warn("error closing connection", "addr", c.addr, "err", err)
	}
}

// handleMessage writes one queued frame. A closed queue means the hub has
// dropped the session, so the peer gets a close frame.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("error setting write deadline", "addr", c.addr, "err", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error writing close message", "addr", c.addr, "err", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		slog.Warn("error writing message", "addr", c.addr, "err", err)
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("error setting write deadline for ping", "addr", c.addr, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		slog.Warn("error writing ping message", "addr", c.addr, "err", err)
		return false
	}
	return true
}
