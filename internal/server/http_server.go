package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for handler with production timeouts.
// WriteTimeout is left unset: hijacked WebSocket connections manage their
// own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs hub in its own goroutine. Call it before serving requests.
func StartHub(hub *Hub) {
	go hub.Run()
	slog.Info("hub started and ready to manage websocket connections")
}

// StartServer listens until the server is shut down.
func StartServer(server *http.Server) error {
	slog.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer stops accepting requests and waits for in-flight ones up to
// timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	slog.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "err", err)
		return err
	}

	slog.Info("HTTP server shutdown completed")
	return nil
}
