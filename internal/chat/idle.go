package chat

import "sync"

// idleTracker reports when a conversation has no send awaiting a reply and
// no reveal running. Its lock is always taken last.
type idleTracker struct {
	mu      sync.Mutex
	sends   int
	reveals int
	idle    chan struct{}
}

func newIdleTracker() *idleTracker {
	ch := make(chan struct{})
	close(ch)
	return &idleTracker{idle: ch}
}

func (t *idleTracker) sendStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends++
	t.busyLocked()
}

func (t *idleTracker) sendDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sends > 0 {
		t.sends--
	}
	t.settleLocked()
}

func (t *idleTracker) revealStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reveals++
	t.busyLocked()
}

func (t *idleTracker) revealEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reveals > 0 {
		t.reveals--
	}
	t.settleLocked()
}

// wait returns a channel that is closed once the conversation is idle.
func (t *idleTracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

func (t *idleTracker) busyLocked() {
	select {
	case <-t.idle:
		t.idle = make(chan struct{})
	default:
	}
}

func (t *idleTracker) settleLocked() {
	if t.sends > 0 || t.reveals > 0 {
		return
	}
	select {
	case <-t.idle:
	default:
		close(t.idle)
	}
}
