package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/conversation"
	"github.com/ent0n29/pacedchat/internal/session"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type messagesResponse struct {
	SessionID string                 `json:"session_id"`
	Messages  []conversation.Message `json:"messages"`
	Reveal    chat.RevealStatus      `json:"reveal"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.chatFor(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	msg, err := conv.Submit(req.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
		return
	case errors.Is(err, chat.ErrClosed):
		respondError(w, http.StatusGone, "session_ended", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.chatFor(w, r)
	if !ok {
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

	msgs := conv.Log().Since(after)
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	respondJSON(w, http.StatusOK, messagesResponse{
		SessionID: conv.SessionID(),
		Messages:  msgs,
		Reveal:    conv.RevealStatus(),
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.chatFor(w, r)
	if !ok {
		return
	}
	skipped := conv.Skip()
	if skipped {
		s.metrics.ObserveSessionEvent("reveal_skipped")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"skipped": skipped,
		"reveal":  conv.RevealStatus(),
	})
}

func (s *Server) handleRevealStatus(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.chatFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conv.RevealStatus())
}

// chatFor resolves the conversation of the {id} session, writing the error
// response itself when there is none.
func (s *Server) chatFor(w http.ResponseWriter, r *http.Request) (*chat.Orchestrator, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	conv, err := s.sessions.Chat(id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
		return nil, false
	case err != nil:
		respondError(w, http.StatusInternalServerError, "session_error", err.Error())
		return nil, false
	}
	return conv, true
}
