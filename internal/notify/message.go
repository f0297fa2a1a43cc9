// Package notify dispatches push and direct (WhatsApp) messages. A Sender
// delivers one Message; logging, metrics, retries and circuit breaking are
// Middleware wrapped around it.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/food-delivery/internal/events"
)

type Channel string

const (
	ChannelPush   Channel = "push"
	ChannelDirect Channel = "direct"
)

var ErrInvalidMessage = errors.New("invalid notification message")

type Message struct {
	Channel     Channel           `json:"channel"`
	CustomerIDs []int64           `json:"customer_ids,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	switch m.Channel {
	case ChannelPush:
		if len(m.CustomerIDs) == 0 {
			return fmt.Errorf("%w: push without recipients", ErrInvalidMessage)
		}
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("%w: push without title", ErrInvalidMessage)
		}
	case ChannelDirect:
		if strings.TrimSpace(m.Phone) == "" {
			return fmt.Errorf("%w: direct message without phone number", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidMessage, m.Channel)
	}
	return nil
}

func (m Message) request() events.NotificationRequest {
	return events.NotificationRequest{
		Channel:     string(m.Channel),
		CustomerIDs: m.CustomerIDs,
		Phone:       m.Phone,
		Title:       m.Title,
		Body:        m.Body,
		Data:        m.Data,
	}
}

func messageFromRequest(req events.NotificationRequest) Message {
	return Message{
		Channel:     Channel(req.Channel),
		CustomerIDs: req.CustomerIDs,
		Phone:       req.Phone,
		Title:       req.Title,
		Body:        req.Body,
		Data:        req.Data,
	}
}
