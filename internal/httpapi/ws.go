package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/protocol"
	"github.com/ent0n29/pacedchat/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleSessionWS streams the session's conversation events and accepts
// client_send and client_control messages. With ?after=N the log entries
// after sequence N are replayed first.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_after", "after must be a non-negative sequence id")
			return
		}
		after = n
	}

	conv, err := s.sessions.Chat(sessionID)
	switch {
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("session_id", sessionID).Logger()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the replay snapshot so nothing falls in between.
	events, unsubscribe := conv.Subscribe(256)
	defer unsubscribe()
	backlog := conv.Log().Since(after)

	direct := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Unblock the read loop once nothing more can be written.
		defer conn.Close()

		replayed := after
		for _, m := range backlog {
			if !s.writeWS(conn, protocol.MessageAppended{
				Type:       protocol.TypeMessageAppended,
				SessionID:  sessionID,
				SequenceID: m.SequenceID,
				Role:       string(m.Role),
				Content:    m.Content,
			}) {
				return
			}
			replayed = m.SequenceID
		}

		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					s.metrics.ObserveWSWriteError("ping")
					return
				}
			case msg := <-direct:
				if !s.writeWS(conn, msg) {
					return
				}
			case msg, ok := <-events:
				if !ok {
					// Conversation closed: the session ended or expired.
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(time.Second))
					return
				}
				if appended, ok := msg.(protocol.MessageAppended); ok && appended.SequenceID <= replayed {
					continue
				}
				if !s.writeWS(conn, msg) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	// A connected viewer keeps the session alive even when nobody types.
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		s.touch(sessionID, logger)
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		s.touch(sessionID, logger)
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err == nil {
			err = s.dispatchClientMessage(sessionID, conv, parsed)
		}
		if err != nil {
			logger.Debug().Err(err).Msg("rejected client message")
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case direct <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "dropped")
			}
		}
	}

	cancel()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) touch(sessionID string, logger zerolog.Logger) {
	if err := s.sessions.Touch(sessionID); err != nil {
		logger.Debug().Err(err).Msg("keep-alive on inactive session")
	}
}

func (s *Server) dispatchClientMessage(sessionID string, conv *chat.Orchestrator, msg any) error {
	t, _ := protocol.TypeOf(msg)
	s.metrics.ObserveWSMessage("inbound", string(t))

	switch m := msg.(type) {
	case protocol.ClientSend:
		if m.SessionID != sessionID {
			return errors.New("session_id does not match this connection")
		}
		if _, err := s.sessions.Chat(sessionID); err != nil {
			return err
		}
		_, err := conv.Submit(m.Text)
		return err
	case protocol.ClientControl:
		if m.SessionID != sessionID {
			return errors.New("session_id does not match this connection")
		}
		if conv.Skip() {
			s.metrics.ObserveSessionEvent("reveal_skipped")
		}
		return nil
	default:
		return protocol.ErrUnsupportedType
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.metrics.ObserveWSWriteError("write_json")
		return false
	}
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.ObserveWSMessage("outbound", string(t))
	}
	return true
}
