package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// debugEntry is one dumped exchange.
type debugEntry struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Backend   string `json:"backend"`
	System    string `json:"system"`
	User      string `json:"user"`
	ImageSize int    `json:"image_size,omitempty"`
	Response  string `json:"response"`
	Error     string `json:"error,omitempty"`
}

// writeDebug dumps one exchange to debugDir/debug. Failures are logged and ignored.
func (c *Client) writeDebug(method string, req completionRequest, response string, callErr error) {
	dir := filepath.Join(c.debugDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebug: failed to create debug directory", "dir", dir, "error", err)
		return
	}

	now := time.Now().UTC()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Backend:   c.backend.name(),
		System:    req.System,
		User:      req.User,
		ImageSize: len(req.Image),
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebug: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%d.json", now.Format("20060102T150405"), method, now.Nanosecond())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("GenAI.writeDebug: failed to write entry", "file", name, "error", err)
	}
}
