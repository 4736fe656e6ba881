package backend

import (
	"context"
	"strings"
)

// MockSender provides deterministic replies when no backend is configured.
type MockSender struct{}

func NewMockSender() *MockSender { return &MockSender{} }

func (s *MockSender) SendMessage(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	chatID := req.ChatID
	if chatID == 0 {
		chatID = 1
	}
	return Reply{ChatID: chatID, Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return "Backend not configured; running in mock mode. Say something and I will echo it."
	}
	return "Backend not configured; running in mock mode. Echo: " + msg
}
