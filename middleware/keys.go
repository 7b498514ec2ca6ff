package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrKeyExtractionFailed is returned when no client key can be derived from a request
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")

	// ErrUnknownKeyExtractor is returned for an unsupported key_extractor setting
	ErrUnknownKeyExtractor = errors.New("unknown key extractor")
)

// KeyFunc extracts a unique client identifier from the request
type KeyFunc func(*http.Request) (string, error)

// ExtractIP uses the connection's remote address.
func ExtractIP() KeyFunc {
	return func(r *http.Request) (string, error) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr might not have a port
			ip = r.RemoteAddr
		}
		if ip == "" {
			return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
		}
		return "ip:" + ip, nil
	}
}

// ExtractIPWithProxy prefers X-Forwarded-For, then X-Real-IP, then the remote address.
// Only use it behind a trusted proxy.
func ExtractIPWithProxy() KeyFunc {
	fallback := ExtractIP()
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The first entry is the original client
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip, nil
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}
		return fallback(r)
	}
}

// ExtractHeader uses the value of a request header, e.g. X-API-Key.
func ExtractHeader(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", fmt.Errorf("%w: header %s not found or empty", ErrKeyExtractionFailed, name)
		}
		return fmt.Sprintf("header:%s:%s", name, value), nil
	}
}

// ParseKeyFunc builds a KeyFunc from its config form:
// "ip", "ip_proxy" or "header:<Name>".
func ParseKeyFunc(extractor string) (KeyFunc, error) {
	switch {
	case extractor == "" || extractor == "ip":
		return ExtractIP(), nil
	case extractor == "ip_proxy":
		return ExtractIPWithProxy(), nil
	case strings.HasPrefix(extractor, "header:"):
		name := strings.TrimSpace(strings.TrimPrefix(extractor, "header:"))
		if name == "" {
			return nil, fmt.Errorf("%w: header name is empty", ErrUnknownKeyExtractor)
		}
		return ExtractHeader(name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyExtractor, extractor)
	}
}
