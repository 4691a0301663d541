// Package notify delivers best-effort notifications (email, push, Telegram,
// live websocket) to a user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a notification addressed to one user.
type Message struct {
	UserID  string
	Email   string
	Subject string
	HTML    string
	Text    string
	// Kind names the event for live clients, e.g. "badge_awarded".
	Kind string
	Data map[string]any
}

// Channel is a single delivery mechanism.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// Gateway fans a message out to every registered channel.
type Gateway struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

// NewGateway creates a gateway with no channels.
func NewGateway() *Gateway {
	return &Gateway{
		channels: make(map[string]Channel),
	}
}

// Register adds or replaces a named channel.
func (g *Gateway) Register(name string, ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.channels[name]; !ok {
		g.order = append(g.order, name)
	}
	g.channels[name] = ch
	slog.Info("notification channel registered", "channel", name)
}

// HasChannel returns true if the named channel is registered.
func (g *Gateway) HasChannel(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.channels[name]
	return ok
}

// Channels lists registered channel names in registration order.
func (g *Gateway) Channels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Send attempts delivery once on every channel. A failing channel does not stop
// the others; failures are logged and returned joined.
func (g *Gateway) Send(ctx context.Context, msg Message) error {
	g.mu.RLock()
	names := append([]string(nil), g.order...)
	channels := make([]Channel, len(names))
	for i, name := range names {
		channels[i] = g.channels[name]
	}
	g.mu.RUnlock()

	var errs []error
	for i, ch := range channels {
		if err := ch.Send(ctx, msg); err != nil {
			slog.Warn("notification failed", "channel", names[i], "user_id", msg.UserID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}

// MockChannel is a test double for Channel.
type MockChannel struct {
	mu   sync.Mutex
	Sent []Message
	Err  error
}

func (m *MockChannel) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return m.Err
}

// Messages returns a copy of the messages sent so far.
func (m *MockChannel) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Sent...)
}
