package notify

import (
	"context"
	"errors"
	"fmt"
)

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type Middleware func(Sender) Sender

// Chain wraps sender so that the first middleware is the outermost.
func Chain(sender Sender, middlewares ...Middleware) Sender {
	for i := len(middlewares) - 1; i >= 0; i-- {
		sender = middlewares[i](sender)
	}
	return sender
}

// Fanout hands every message to all senders and joins their errors.
type Fanout []Sender

func (f Fanout) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelRouter picks the sender registered for the message's channel.
type ChannelRouter map[Channel]Sender

func (r ChannelRouter) Send(ctx context.Context, msg Message) error {
	s, ok := r[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: no sender for channel %q", ErrInvalidMessage, msg.Channel)
	}
	return s.Send(ctx, msg)
}
