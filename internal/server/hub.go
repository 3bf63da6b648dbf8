package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/filestore"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// Dependencies are the collaborators a Hub hands to its clients.
type Dependencies struct {
	// Gate verifies credentials. Nil disables register and login.
	Gate *auth.Gate
	// Files stores uploads. Nil refuses send_file.
	Files *filestore.Store
	// Metrics defaults to a fresh instance when nil.
	Metrics *Metrics
}

type commandKind int

const (
	cmdSetNickname commandKind = iota
	cmdLogin
	cmdGetUsers
	cmdSendMessage
	cmdSendFile
)

// command is a request from a read pump that touches the registry or
// delivers to other sessions. The hub goroutine executes all of them.
type command struct {
	kind      commandKind
	client    *Client
	nickname  string
	recipient string
	text      string
	file      relay.FileBlob
}

// Hub owns the session registry. Its Run goroutine is the only writer to the
// registry and the only caller of the dispatcher, so presence events and
// deliveries are applied in one order for every session.
type Hub struct {
	registry   *registry.Registry
	dispatcher *relay.Dispatcher
	router     *relay.Router
	presence   *relay.Presence
	gate       *auth.Gate
	files      *filestore.Store
	metrics    *Metrics

	// clients and evictions belong to the Run goroutine.
	clients   map[*registry.Session]*Client
	evictions []*registry.Session

	register   chan *Client
	unregister chan *Client
	commands   chan command
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(deps Dependencies) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	h := &Hub{
		registry:   registry.New(),
		gate:       deps.Gate,
		files:      deps.Files,
		metrics:    deps.Metrics,
		clients:    make(map[*registry.Session]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan command),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.dispatcher = relay.NewDispatcher(h.registry, func(s *registry.Session) {
		h.evictions = append(h.evictions, s)
	})
	h.router = relay.NewRouter(h.registry, h.dispatcher)
	h.presence = relay.NewPresence(h.registry, h.dispatcher)
	return h
}

// Metrics returns the hub's counters.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Registry exposes the session registry for read-only inspection.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
		h.flushEvictions()
	}
}

// enqueue hands a client to the hub. It returns false when the hub has
// stopped.
func (h *Hub) enqueue(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submit(cmd command) bool {
	select {
	case h.commands <- cmd:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		slog.Warn("received nil client registration; skipping")
		return
	}

	h.registry.Add(client.session)
	h.clients[client.session] = client
	h.metrics.TotalConnections.Add(1)
	h.metrics.ActiveConnections.Add(1)
	slog.Info("client registered",
		"session", client.session.ID(), "addr", client.addr, "clients", h.registry.Count())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if h.drop(client.session) {
		slog.Info("client unregistered",
			"session", client.session.ID(), "addr", client.addr, "clients", h.registry.Count())
	}
}

// drop removes s from the registry, closes its queue and announces the freed
// nickname. It reports false when s was already gone.
func (h *Hub) drop(s *registry.Session) bool {
	nickname, removed := h.registry.Remove(s)
	if !removed {
		return false
	}
	delete(h.clients, s)
	s.Close()
	h.metrics.ActiveConnections.Add(-1)
	h.metrics.TotalDisconnects.Add(1)

	if nickname != "" {
		h.announce(h.presence.Left(nickname))
	}
	return true
}

// flushEvictions disconnects sessions whose queue refused a delivery. The
// announcements it makes may stall further sessions, so it loops until the
// backlog is empty.
func (h *Hub) flushEvictions() {
	for len(h.evictions) > 0 {
		s := h.evictions[0]
		h.evictions = h.evictions[1:]
		if h.drop(s) {
			h.metrics.Evictions.Add(1)
			slog.Warn("evicted slow client", "session", s.ID(), "addr", s.Addr())
		}
	}
	h.evictions = nil
}

func (h *Hub) announce(err error) {
	if err != nil {
		slog.Error("presence announcement failed", "err", err)
	}
}

func (h *Hub) handleCommand(cmd command) {
	s := cmd.client.session
	if s.Closed() {
		return
	}

	switch cmd.kind {
	case cmdSetNickname:
		if err := h.bind(s, cmd.nickname); err != nil {
			h.sendError(s, err)
		}

	case cmdLogin:
		if err := h.bind(s, cmd.nickname); err != nil {
			h.send(s, relay.EventLoginError, relay.Notice{Message: loginBindMessage(err)})
			return
		}
		h.metrics.SuccessfulAuths.Add(1)
		nickname, _ := s.Nickname()
		h.send(s, relay.EventLoginSuccess, relay.LoginSucceeded{
			Message:  "Login successful",
			Username: nickname,
		})

	case cmdGetUsers:
		if err := h.presence.SendUserList(s); err != nil {
			slog.Error("send user list failed", "session", s.ID(), "err", err)
		}

	case cmdSendMessage:
		res, err := h.router.Route(s, cmd.recipient, cmd.text)
		if h.routed(s, res, err) {
			h.metrics.MessagesRouted.Add(1)
		}

	case cmdSendFile:
		res, err := h.router.RouteFile(s, cmd.recipient, cmd.file)
		if h.routed(s, res, err) {
			h.metrics.FilesRouted.Add(1)
		}
	}
}

// bind claims nickname for s and announces the change.
func (h *Hub) bind(s *registry.Session, nickname string) error {
	previous, err := h.registry.Bind(s, nickname)
	if err != nil {
		return err
	}

	current, _ := s.Nickname()
	switch {
	case previous == "":
		slog.Info("nickname bound", "session", s.ID(), "nickname", current)
		h.announce(h.presence.Joined(current))
	case previous != current:
		slog.Info("nickname changed", "session", s.ID(), "from", previous, "nickname", current)
		h.announce(h.presence.Renamed(previous, current))
	}
	return nil
}

// routed logs the outcome of a route and tells the sender about failures it
// can act on. It reports whether the payload was routed.
func (h *Hub) routed(s *registry.Session, res relay.Result, err error) bool {
	switch {
	case err == nil:
		slog.Debug("routed", "sender", res.Sender, "mode", res.Mode, "delivered", res.Delivered)
		return true
	case errors.Is(err, relay.ErrSenderUnbound):
		h.metrics.RoutingErrors.Add(1)
		slog.Warn("dropping payload from session without nickname", "session", s.ID(), "addr", s.Addr())
	default:
		h.metrics.RoutingErrors.Add(1)
		slog.Info("route failed", "sender", res.Sender, "err", err)
		h.sendError(s, err)
	}
	return false
}

func (h *Hub) send(s *registry.Session, event string, data any) {
	if _, err := h.dispatcher.Send(s, event, data); err != nil {
		slog.Error("send failed", "session", s.ID(), "event", event, "err", err)
	}
}

func (h *Hub) sendError(s *registry.Session, err error) {
	h.send(s, relay.EventError, errorNotice(err))
}

// shutdownClients closes every connection so the pumps unwind.
func (h *Hub) shutdownClients() {
	slog.Info("shutting down all client connections")

	for s, client := range h.clients {
		s.Close()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				slog.Warn("error closing client connection", "addr", client.addr, "err", err)
			}
		}
	}
	slog.Info("closed client connections", "count", len(h.clients))
}

// Shutdown stops the hub and waits for all client goroutines to finish, or
// for the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
