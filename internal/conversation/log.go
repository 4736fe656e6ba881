// Package conversation holds the append-only message log shown to the viewer.
package conversation

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleError Role = "error"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleError:
		return true
	}
	return false
}

// Message is one immutable log entry.
type Message struct {
	SequenceID int64     `json:"sequence_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Log assigns strictly increasing sequence IDs across all roles.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	nextSeq  int64
	onAppend func(Message)
}

func NewLog() *Log {
	return &Log{nextSeq: 1}
}

// SetAppendHook registers a callback invoked for every appended message, in
// sequence order. The hook runs under the log's lock and must not block or
// append.
func (l *Log) SetAppendHook(hook func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = hook
}

func (l *Log) Append(role Role, content string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := Message{
		SequenceID: l.nextSeq,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	l.nextSeq++
	l.messages = append(l.messages, msg)
	if l.onAppend != nil {
		l.onAppend(msg)
	}
	return msg
}

func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message(nil), l.messages...)
}

// Since returns messages with a sequence ID greater than seq.
func (l *Log) Since(seq int64) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// Sequence IDs start at 1 and have no gaps.
	start := int(seq)
	if start < 0 {
		start = 0
	}
	if start >= len(l.messages) {
		return nil
	}
	return append([]Message(nil), l.messages[start:]...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
