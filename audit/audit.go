// Package audit records security-relevant identity events: logins,
// lockouts, token rotations, reuse detections, flow consumptions.
// Events are dispatched asynchronously so the hot path never blocks on
// a sink.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is a single security event. Error carries the public error
// string on failures; Metadata carries flow-specific details like the
// second-factor method or the lockout cooldown.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	IdentityID string            `json:"identity_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Actions recorded by the engine.
const (
	ActionSignup           = "signup"
	ActionLogin            = "login"
	ActionLoginChallenge   = "login_challenge"
	ActionLockout          = "lockout"
	ActionRefresh          = "refresh"
	ActionRefreshReuse     = "refresh_reuse"
	ActionLogout           = "logout"
	ActionEmailVerified    = "email_verified"
	ActionPasswordForgot   = "password_forgot"
	ActionPasswordReset    = "password_reset"
	ActionPasswordChange   = "password_change"
	ActionTwoFactorEnroll  = "twofactor_enroll"
	ActionTwoFactorConfirm = "twofactor_confirm"
	ActionTwoFactorDisable = "twofactor_disable"
	ActionAccountDelete    = "account_delete"
	ActionAccountRestore   = "account_restore"
	ActionAccountSuspend   = "account_suspend"
)

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// WriterSink writes one JSON document per line.
type WriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{writer: w}
}

func (s *WriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ChannelSink buffers events for a consumer, used in tests and by
// components that forward events elsewhere.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}
