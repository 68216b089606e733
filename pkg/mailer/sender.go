package mailer

import "context"

// Sender is the transport boundary every email provider implements.
type Sender interface {
	// Send delivers one message and returns the provider's message identifier.
	// Any transport-level failure (auth, network, rejection, timeout) is
	// returned as an error; the caller decides whether it is fatal.
	Send(ctx context.Context, email *Email) (string, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, email *Email) (string, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, email *Email) (string, error) {
	return f(ctx, email)
}
