package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/pacedchat/internal/backend"
	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/config"
	"github.com/ent0n29/pacedchat/internal/httpapi"
	"github.com/ent0n29/pacedchat/internal/observability"
	"github.com/ent0n29/pacedchat/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Sender   backend.Sender
	Metrics  *observability.Metrics
	// BackendMode is the sender actually in use (http or mock).
	BackendMode string

	// Cleanup should be called on shutdown; it ends every live session.
	Cleanup func() error
}

func Build(cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sender, err := NewSender(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout, ChatFactory(cfg, sender, metrics))
	sessions.SetEndedRetention(cfg.SessionRetention)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		log.Info().Str("session_id", s.ID).Msg("session expired")
	})

	mode := BackendMode(sender)
	api := httpapi.New(cfg, sessions, metrics, mode)

	cleanup := func() error {
		n := sessions.CloseAll()
		metrics.SetActiveSessions(0)
		log.Debug().Int("sessions", n).Msg("sessions closed")
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Sender:      sender,
		Metrics:     metrics,
		BackendMode: mode,
		Cleanup:     cleanup,
	}, nil
}

func NewSender(cfg config.Config) (backend.Sender, error) {
	sender, err := backend.NewSender(backend.Config{
		Mode:    cfg.BackendMode,
		URL:     cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("backend sender init failed: %w", err)
	}
	return sender, nil
}

// ChatFactory builds one orchestrator per session with the configured
// identity, chunking and pacing.
func ChatFactory(cfg config.Config, sender backend.Sender, metrics *observability.Metrics) session.ChatFactory {
	return func(sessionID, userID string) *chat.Orchestrator {
		username := cfg.ChatUsername
		if u := strings.TrimSpace(userID); u != "" && u != "anonymous" {
			username = u
		}
		return chat.New(sessionID, chat.Config{
			Username: username,
			AgentID:  cfg.ChatAgentID,
			Chunking: cfg.Chunking,
			Pacing:   cfg.Pacing,
		}, sender,
			chat.WithMetrics(metrics),
			chat.WithLogger(log.Logger),
		)
	}
}

func BackendMode(sender backend.Sender) string {
	switch sender.(type) {
	case *backend.HTTPSender:
		return "http"
	case *backend.MockSender:
		return "mock"
	default:
		return "custom"
	}
}
