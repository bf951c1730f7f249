// Package notify delivers the out-of-band messages the identity flows
// produce: verification links, reset links, second-factor codes, and
// account lifecycle notices. The engine only ever sees the Dispatcher
// interface; a real deployment plugs in its mail provider.
package notify

import (
	"context"

	"github.com/fundlift/identity/logging"
)

// Message is a single notification addressed to an account's email.
type Message struct {
	Kind  Kind
	Email string
	Name  string
	// Token is the plaintext flow token or one-time code to embed in
	// the message. It is never persisted anywhere in this form.
	Token string
}

// Kind selects the template.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindTwoFactorCode Kind = "twofactor_code"
	KindAccountDelete Kind = "account_delete"
	KindPasswordAlert Kind = "password_alert"
)

// Dispatcher sends a message. Implementations must not block on slow
// providers longer than the context allows.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// NopDispatcher drops everything, for tests that do not assert delivery.
type NopDispatcher struct{}

func (NopDispatcher) Send(context.Context, Message) error { return nil }

// LogDispatcher writes messages to the logger instead of sending them.
// Development only: it logs the token.
type LogDispatcher struct {
	Logger logging.Logger
}

func (d LogDispatcher) Send(ctx context.Context, msg Message) error {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	logger.Info(ctx, "notification",
		"kind", string(msg.Kind),
		"email", msg.Email,
		"token", msg.Token,
	)
	return nil
}
