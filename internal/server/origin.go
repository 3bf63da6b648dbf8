package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			slog.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// isOriginAllowed reports whether the upgrade request may proceed. Native
// clients send no Origin header and are let through unless
// AllowMissingOrigin is off.
func isOriginAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")

	configMu.RLock()
	defer configMu.RUnlock()

	if originHeader == "" {
		return activeConfig.AllowMissingOrigin
	}
	if allowAllOrigins {
		return true
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := allowedOrigins[normalizedOrigin]
	return exists
}

func checkOrigin(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}
	slog.Warn("blocked websocket connection from disallowed origin",
		"origin", r.Header.Get("Origin"), "addr", r.RemoteAddr)
	return false
}
