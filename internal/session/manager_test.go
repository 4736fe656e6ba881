package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/pacedchat/internal/backend"
	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/chunker"
	"github.com/ent0n29/pacedchat/internal/reveal"
)

func newChatFactory() ChatFactory {
	return func(sessionID, userID string) *chat.Orchestrator {
		return chat.New(sessionID, chat.Config{
			Username: userID,
			Chunking: chunker.DefaultOptions(),
			Pacing:   reveal.DefaultPacing(),
		}, backend.NewMockSender())
	}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute, newChatFactory())
	s := m.Create("u1")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	conv, err := m.Chat(s.ID)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if conv.SessionID() != s.ID {
		t.Fatalf("chat session = %q, want %q", conv.SessionID(), s.ID)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.Chat(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Chat() after End error = %v, want ErrEnded", err)
	}
	if err := conv.Send(context.Background(), "hello"); !errors.Is(err, chat.ErrClosed) {
		t.Fatalf("Send() after End error = %v, want chat.ErrClosed", err)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute, newChatFactory())
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := m.Chat("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Chat() error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30*time.Millisecond, newChatFactory())
	s := m.Create("u1")
	conv, err := m.Chat(s.ID)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired session = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if _, err := conv.Submit("late"); !errors.Is(err, chat.ErrClosed) {
		t.Fatalf("Submit() after expiry error = %v, want chat.ErrClosed", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(time.Minute, newChatFactory())
	m.Create("a")
	m.Create("b")
	ended := m.Create("c")
	if _, err := m.End(ended.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if n := m.CloseAll(); n != 2 {
		t.Fatalf("CloseAll() = %d, want 2", n)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerTouchDefersExpiry(t *testing.T) {
	m := NewManager(200*time.Millisecond, newChatFactory())
	s := m.Create("u1")

	time.Sleep(120 * time.Millisecond)
	if err := m.Touch(s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	m.expireInactive()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status = %q, want %q after recent touch", got.Status, StatusActive)
	}

	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := m.Touch(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Touch() after End error = %v, want ErrEnded", err)
	}
	if err := m.Touch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() unknown error = %v, want ErrNotFound", err)
	}
}

func TestManagerPrunesEndedSessions(t *testing.T) {
	m := NewManager(time.Minute, newChatFactory())
	m.SetEndedRetention(30 * time.Millisecond)
	ended := m.Create("u1")
	active := m.Create("u2")
	if _, err := m.End(ended.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	m.expireInactive()
	if _, err := m.Get(ended.ID); err != nil {
		t.Fatalf("Get() inside retention error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	m.expireInactive()
	if _, err := m.Get(ended.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after retention error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Fatalf("active session was pruned: %v", err)
	}
}

func TestManagerJanitorPrunesExpiredSessions(t *testing.T) {
	m := NewManager(20*time.Millisecond, newChatFactory())
	m.SetEndedRetention(20 * time.Millisecond)
	s := m.Create("u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Get(s.ID); errors.Is(err, ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired session was never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := m.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", n)
	}
}
