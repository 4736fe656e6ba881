// Package chat ties one conversation together: it echoes the user's message,
// waits for the backend reply, and hands the chunked reply to a reveal
// scheduler that appends it to the log piece by piece.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/pacedchat/internal/backend"
	"github.com/ent0n29/pacedchat/internal/chunker"
	"github.com/ent0n29/pacedchat/internal/conversation"
	"github.com/ent0n29/pacedchat/internal/observability"
	"github.com/ent0n29/pacedchat/internal/protocol"
	"github.com/ent0n29/pacedchat/internal/reveal"
)

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrEmptyReply   = errors.New("chat: backend returned an empty reply")
	ErrClosed       = errors.New("chat: conversation closed")
)

// Config is the per-conversation identity and pacing. It replaces the fixed
// demo user and backend settings a single-page widget would keep globally.
type Config struct {
	Username string
	AgentID  int64
	Chunking chunker.Options
	Pacing   reveal.Pacing
}

type Option func(*Orchestrator)

func WithClock(clock reveal.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// RevealStatus describes the scheduler for API clients.
type RevealStatus struct {
	State  reveal.State    `json:"state"`
	Active *reveal.JobInfo `json:"active,omitempty"`
	Last   *reveal.JobInfo `json:"last,omitempty"`
}

type Orchestrator struct {
	sessionID string
	cfg       Config
	sender    backend.Sender
	log       *conversation.Log
	scheduler *reveal.Scheduler
	feed      *feed
	idle      *idleTracker
	clock     reveal.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	chatID     int64
	sendCancel context.CancelFunc
	sendToken  int64
	closed     bool
}

func New(sessionID string, cfg Config, sender backend.Sender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessionID: sessionID,
		cfg:       cfg,
		sender:    sender,
		log:       conversation.NewLog(),
		clock:     reveal.SystemClock{},
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("session_id", sessionID).Logger()
	o.feed = newFeed(o.metrics)
	o.idle = newIdleTracker()
	o.scheduler = reveal.NewScheduler(cfg.Pacing, o.clock,
		reveal.WithLogger(o.logger),
		reveal.WithMetrics(o.metrics),
	)
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	o.log.SetAppendHook(func(m conversation.Message) {
		o.feed.publish(protocol.MessageAppended{
			Type:       protocol.TypeMessageAppended,
			SessionID:  sessionID,
			SequenceID: m.SequenceID,
			Role:       string(m.Role),
			Content:    m.Content,
		})
	})
	return o
}

// Send appends text as a user message, waits for the backend reply and starts
// revealing it. Any running reveal and any send still awaiting its reply are
// cancelled first. A failed or empty reply is recorded as one error message.
// Send returns once the reveal has started, not when it finishes.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	sendCtx, token, _, err := o.beginSend(ctx, text)
	if err != nil {
		return err
	}
	defer o.endSend(token)
	return o.roundTrip(sendCtx, token, text)
}

// Submit is Send without waiting for the backend: the echoed user message is
// returned immediately and the round trip finishes in the background.
func (o *Orchestrator) Submit(text string) (conversation.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Message{}, ErrEmptyMessage
	}
	sendCtx, token, userMsg, err := o.beginSend(o.baseCtx, text)
	if err != nil {
		return conversation.Message{}, err
	}
	go func() {
		defer o.endSend(token)
		_ = o.roundTrip(sendCtx, token, text)
	}()
	return userMsg, nil
}

// Skip stops the running reveal. Chunks already shown stay in the log.
func (o *Orchestrator) Skip() bool {
	return o.scheduler.Cancel()
}

func (o *Orchestrator) Log() *conversation.Log { return o.log }

func (o *Orchestrator) SessionID() string { return o.sessionID }

func (o *Orchestrator) RevealStatus() RevealStatus {
	st := RevealStatus{State: o.scheduler.State()}
	if job, ok := o.scheduler.Active(); ok {
		st.Active = &job
	}
	if job, ok := o.scheduler.Last(); ok {
		st.Last = &job
	}
	return st
}

// Wait blocks until no send is awaiting its reply and no reveal is running,
// or until ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.idle.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe streams protocol events for this conversation. Events are
// dropped for subscribers whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan any, func()) {
	return o.feed.subscribe(buffer)
}

// Close cancels in-flight work and ends all subscriptions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.sendCancel != nil {
		o.sendCancel()
		o.sendCancel = nil
	}
	o.scheduler.Close()
	o.mu.Unlock()

	o.baseCancel()
	o.feed.close()
}

func (o *Orchestrator) beginSend(parent context.Context, text string) (context.Context, int64, conversation.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, 0, conversation.Message{}, ErrClosed
	}
	o.idle.sendStarted()

	// A new message supersedes both the pending reply and the running reveal.
	if o.sendCancel != nil {
		o.sendCancel()
		o.metrics.ObserveSessionEvent("send_superseded")
	}
	o.scheduler.CancelWithReason("superseded")

	ctx, cancel := context.WithCancel(parent)
	o.sendToken++
	o.sendCancel = cancel
	token := o.sendToken

	userMsg := o.log.Append(conversation.RoleUser, text)
	o.feed.publish(protocol.TypingState{
		Type:      protocol.TypeTypingState,
		SessionID: o.sessionID,
		Typing:    true,
	})
	return ctx, token, userMsg, nil
}

func (o *Orchestrator) endSend(token int64) {
	defer o.idle.sendDone()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendToken == token && o.sendCancel != nil {
		o.sendCancel()
		o.sendCancel = nil
	}
}

func (o *Orchestrator) roundTrip(ctx context.Context, token int64, text string) error {
	o.mu.Lock()
	req := backend.Request{
		Username: o.cfg.Username,
		Message:  text,
		ChatID:   o.chatID,
		AgentID:  o.cfg.AgentID,
	}
	o.mu.Unlock()

	start := time.Now()
	reply, err := o.sender.SendMessage(ctx, req)
	if err != nil && ctx.Err() != nil {
		o.metrics.ObserveSend(time.Since(start), "")
		o.logger.Debug().Int64("token", token).Msg("send cancelled before reply")
		return ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendToken != token || o.closed {
		// Superseded after the reply arrived; the newer message owns the log now.
		o.metrics.ObserveSend(time.Since(start), "")
		return context.Canceled
	}

	if err != nil {
		var sendErr *backend.SendError
		if !errors.As(err, &sendErr) {
			sendErr = &backend.SendError{Code: backend.CodeTransport, Err: err}
		}
		o.metrics.ObserveSend(time.Since(start), sendErrorCode(sendErr))
		o.failLocked("send_failed", sendErr.Retryable(), "Could not reach the assistant: "+sendErr.Error())
		o.logger.Warn().Err(sendErr).Msg("backend send failed")
		return sendErr
	}
	o.metrics.ObserveSend(time.Since(start), "")

	if reply.ChatID != 0 {
		o.chatID = reply.ChatID
	}
	if strings.TrimSpace(reply.Text) == "" {
		o.failLocked("empty_reply", false, "The assistant returned an empty reply.")
		o.logger.Warn().Msg("backend returned an empty reply")
		return ErrEmptyReply
	}

	chunks := chunker.Chunk(reply.Text, o.cfg.Chunking)
	// Every started job reports exactly one completion or cancellation.
	o.idle.revealStarted()
	job, err := o.scheduler.Start(chunks, revealObserver{o: o})
	if err != nil {
		o.idle.revealEnded()
		return err
	}
	o.logger.Debug().Str("job_id", job.ID).Int("chunks", job.Total).Msg("reveal started")
	return nil
}

func (o *Orchestrator) failLocked(code string, retryable bool, content string) {
	o.log.Append(conversation.RoleError, content)
	o.feed.publish(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: o.sessionID,
		Code:      code,
		Source:    "backend",
		Retryable: retryable,
		Detail:    content,
	})
	o.feed.publish(protocol.TypingState{
		Type:      protocol.TypeTypingState,
		SessionID: o.sessionID,
		Typing:    false,
		Reason:    "failed",
	})
}

func sendErrorCode(err *backend.SendError) string {
	if err.StatusCode != 0 {
		return "http_" + strconv.Itoa(err.StatusCode)
	}
	return err.Code
}

// revealObserver appends each revealed chunk as its own agent message.
type revealObserver struct {
	o *Orchestrator
}

func (r revealObserver) OnChunk(_ reveal.JobInfo, _ int, text string) error {
	r.o.log.Append(conversation.RoleAgent, text)
	return nil
}

func (r revealObserver) OnComplete(job reveal.JobInfo) {
	r.o.publishTypingEnd(job, "completed")
	r.o.idle.revealEnded()
}

func (r revealObserver) OnCancel(job reveal.JobInfo) {
	r.o.publishTypingEnd(job, job.Reason)
	r.o.idle.revealEnded()
}

func (o *Orchestrator) publishTypingEnd(job reveal.JobInfo, reason string) {
	o.feed.publish(protocol.TypingState{
		Type:      protocol.TypeTypingState,
		SessionID: o.sessionID,
		JobID:     job.ID,
		Typing:    false,
		Reason:    reason,
	})
}
