package server

import "net/http"

// SetupRoutes returns a ServeMux with the health, metrics and WebSocket
// endpoints bound to hub.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/healthz", HealthzHandler)
	mux.Handle("/metrics", hub.Metrics())
	mux.Handle("/ws", WebSocketHandler(hub))
	return mux
}
