// Package problem writes RFC 7807 Problem Details responses.
package problem

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ContentType is the media type of a problem response.
const ContentType = "application/problem+json"

// Detail represents an RFC 7807 Problem Details response.
type Detail struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// New creates a Detail with the given status and detail message.
func New(status int, detail string) Detail {
	return Detail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Write writes p as the response.
func Write(w http.ResponseWriter, p Detail) {
	w.Header().Set("Content-Type", ContentType)
	if p.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfter))
	}
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Warn("failed to write problem response", "status", p.Status, "error", err)
	}
}

// WriteStatus writes a problem response for status with a detail message.
func WriteStatus(w http.ResponseWriter, status int, detail string) {
	Write(w, New(status, detail))
}
