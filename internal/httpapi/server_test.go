package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/pacedchat/internal/backend"
	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/chunker"
	"github.com/ent0n29/pacedchat/internal/config"
	"github.com/ent0n29/pacedchat/internal/protocol"
	"github.com/ent0n29/pacedchat/internal/reveal"
	"github.com/ent0n29/pacedchat/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts, _ := newTestServerWith(t, 2*time.Minute, nil)
	return ts
}

func newTestServerWith(t *testing.T, inactivity time.Duration, configure func(*Server)) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: inactivity,
		BackendMode:              "mock",
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, func(sessionID, userID string) *chat.Orchestrator {
		return chat.New(sessionID, chat.Config{
			Username: userID,
			Chunking: chunker.DefaultOptions(),
			Pacing: reveal.Pacing{
				FirstDelay: time.Millisecond,
				MinDelay:   time.Millisecond,
				MaxDelay:   5 * time.Millisecond,
			},
		}, backend.NewMockSender())
	})
	srv := New(cfg, sessions, nil, "mock")
	if configure != nil {
		configure(srv)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		sessions.CloseAll()
	})
	return ts, sessions
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/chat/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if v != nil {
		_ = json.NewEncoder(&body).Encode(v)
	}
	res, err := http.Post(url, "application/json", &body)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func listMessages(t *testing.T, ts *httptest.Server, sessionID string, after int64) messagesResponse {
	t.Helper()
	res, err := http.Get(fmt.Sprintf("%s/v1/chat/session/%s/messages?after=%d", ts.URL, sessionID, after))
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET messages status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var out messagesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	return out
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	// An empty body is allowed and falls back to the anonymous user.
	anon := postJSON(t, ts.URL+"/v1/chat/session", nil)
	defer anon.Body.Close()
	if anon.StatusCode != http.StatusCreated {
		t.Fatalf("create without body status = %d, want %d", anon.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(anon.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created["user_id"] != "anonymous" || created["inactivity_ttl_ms"] != float64(120000) {
		t.Fatalf("unexpected create response: %+v", created)
	}

	endRes := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/end", nil)
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	msgRes := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/messages", map[string]string{"text": "hi"})
	defer msgRes.Body.Close()
	if msgRes.StatusCode != http.StatusGone {
		t.Fatalf("send after end status = %d, want %d", msgRes.StatusCode, http.StatusGone)
	}

	missing := postJSON(t, ts.URL+"/v1/chat/session/nope/end", nil)
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("end unknown status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestSendMessageRevealsReply(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/messages", map[string]string{"text": "hello"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	var echoed map[string]any
	if err := json.NewDecoder(res.Body).Decode(&echoed); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if echoed["role"] != "user" || echoed["content"] != "hello" || echoed["sequence_id"] != float64(1) {
		t.Fatalf("unexpected echoed message: %+v", echoed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		out := listMessages(t, ts, sessionID, 0)
		if len(out.Messages) >= 2 && out.Reveal.State == reveal.StateIdle {
			agent := out.Messages[1]
			if agent.Role != "agent" || !strings.Contains(agent.Content, "Echo: hello") {
				t.Fatalf("unexpected agent message: %+v", agent)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reply was not revealed, messages = %+v", out.Messages)
		}
		time.Sleep(5 * time.Millisecond)
	}

	tail := listMessages(t, ts, sessionID, 1)
	if len(tail.Messages) == 0 || tail.Messages[0].SequenceID != 2 {
		t.Fatalf("after=1 returned %+v, want messages starting at sequence 2", tail.Messages)
	}
	empty := listMessages(t, ts, sessionID, 100)
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Fatalf("after=100 returned %+v, want empty list", empty.Messages)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/messages", map[string]string{"text": "   "})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank send status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	bad, err := http.Get(ts.URL + "/v1/chat/session/" + sessionID + "/messages?after=-1")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("after=-1 status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}

	if out := listMessages(t, ts, sessionID, 0); len(out.Messages) != 0 {
		t.Fatalf("blank send appended messages: %+v", out.Messages)
	}
}

func TestTruncatedBodyIsRejected(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	for _, path := range []string{"/v1/chat/session", "/v1/chat/session/" + sessionID + "/messages"} {
		res, err := http.Post(ts.URL+path, "application/json", strings.NewReader(`{"text":`))
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		var payload errorResponse
		decodeErr := json.NewDecoder(res.Body).Decode(&payload)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("POST %s truncated status = %d, want %d", path, res.StatusCode, http.StatusBadRequest)
		}
		if decodeErr != nil || payload.Code != "invalid_request" {
			t.Fatalf("POST %s truncated payload = %+v (%v), want invalid_request", path, payload, decodeErr)
		}
	}

	if out := listMessages(t, ts, sessionID, 0); len(out.Messages) != 0 {
		t.Fatalf("truncated send appended messages: %+v", out.Messages)
	}
}

func TestSkipWhileIdle(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/skip", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode skip response: %v", err)
	}
	if payload["skipped"] != false {
		t.Fatalf("skipped = %v, want false", payload["skipped"])
	}

	statusRes, err := http.Get(ts.URL + "/v1/chat/session/" + sessionID + "/reveal")
	if err != nil {
		t.Fatalf("GET reveal error = %v", err)
	}
	defer statusRes.Body.Close()
	var status chat.RevealStatus
	if err := json.NewDecoder(statusRes.Body).Decode(&status); err != nil {
		t.Fatalf("decode reveal status: %v", err)
	}
	if status.State != reveal.StateIdle || status.Active != nil {
		t.Fatalf("reveal status = %+v, want idle", status)
	}
}

func TestHealthReportsBackendMode(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" || payload["backend_mode"] != "mock" {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
}

func TestSessionWebsocketStreamsConversation(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "client_control", "session_id": sessionID, "action": "pause"}); err != nil {
		t.Fatalf("write invalid control: %v", err)
	}
	if err := conn.WriteJSON(protocol.ClientSend{Type: protocol.TypeClientSend, SessionID: sessionID, Text: "ping"}); err != nil {
		t.Fatalf("write client_send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sawError, sawUser, sawAgent, sawTypingEnd bool
	for !(sawError && sawUser && sawAgent && sawTypingEnd) {
		var env map[string]any
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read websocket: %v (error=%v user=%v agent=%v typing_end=%v)", err, sawError, sawUser, sawAgent, sawTypingEnd)
		}
		switch env["type"] {
		case string(protocol.TypeErrorEvent):
			sawError = env["code"] == "invalid_client_message"
		case string(protocol.TypeMessageAppended):
			switch env["role"] {
			case "user":
				sawUser = env["content"] == "ping"
			case "agent":
				sawAgent = strings.Contains(env["content"].(string), "Echo: ping")
			}
		case string(protocol.TypeTypingState):
			if env["typing"] == false {
				sawTypingEnd = env["reason"] == "completed"
			}
		}
	}
}

func TestSessionWebsocketReplaysBacklog(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/chat/session/"+sessionID+"/messages", map[string]string{"text": "earlier"})
	res.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?after=0&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seqs []float64
	for len(seqs) < 2 {
		var env map[string]any
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read websocket: %v", err)
		}
		if env["type"] == string(protocol.TypeMessageAppended) {
			seqs = append(seqs, env["sequence_id"].(float64))
		}
	}
	if seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("replayed sequence ids = %v, want [1 2]", seqs)
	}
}

func TestSessionWebsocketRejectsUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial unknown session succeeded, want error")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("dial unknown session response = %v, want 404", res)
	}
}

func TestSessionWebsocketKeepsViewerSessionAlive(t *testing.T) {
	ts, sessions := newTestServerWith(t, 150*time.Millisecond, func(s *Server) {
		s.pingInterval = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions.StartJanitor(ctx, 10*time.Millisecond)
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	// Reading lets the client answer pings.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(500 * time.Millisecond)
	got, err := sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusActive {
		t.Fatalf("status = %q with a connected viewer, want %q", got.Status, session.StatusActive)
	}

	conn.Close()
	<-readDone

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := sessions.Get(sessionID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status == session.StatusEnded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session stayed active after the viewer left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
