// Package backend talks to the chat backend that produces one full reply per
// user message.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request mirrors the backend's chat payload.
type Request struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	ChatID   int64  `json:"chat_id,omitempty"`
	AgentID  int64  `json:"agent_id,omitempty"`
}

// Reply is the backend's complete answer.
type Reply struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"response"`
}

// Sender delivers one user message and waits for the full reply.
type Sender interface {
	SendMessage(ctx context.Context, req Request) (Reply, error)
}

// Config controls sender construction.
type Config struct {
	Mode    string
	URL     string
	Timeout time.Duration
}

func NewSender(cfg Config) (Sender, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPSender(cfg.URL, cfg.Timeout), nil
		}
		return NewMockSender(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("backend url is required for http mode")
		}
		return NewHTTPSender(cfg.URL, cfg.Timeout), nil
	case "mock":
		return NewMockSender(), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
