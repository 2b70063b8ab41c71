package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SentCommand pairs a dispatched command with the channel it went out on.
type SentCommand struct {
	Channel string
	Command Command
}

// MemoryGateway is a thread-safe in-memory Gateway used in development and
// tests. It records every command and can be programmed to reject.
type MemoryGateway struct {
	mu           sync.Mutex
	sent         []SentCommand
	rejectReason string
	failErr      error
}

// NewMemoryGateway creates an empty MemoryGateway that accepts everything.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// RejectWith makes subsequent commands come back rejected with the given reason.
// An empty reason restores acceptance.
func (g *MemoryGateway) RejectWith(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectReason = reason
}

// FailWith makes subsequent commands return the given transport error.
func (g *MemoryGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}

// Sent returns a copy of all dispatched commands in order.
func (g *MemoryGateway) Sent() []SentCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SentCommand, len(g.sent))
	copy(out, g.sent)
	return out
}

// SentOn returns the commands dispatched on one channel.
func (g *MemoryGateway) SentOn(channel string) []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Command
	for _, s := range g.sent {
		if s.Channel == channel {
			out = append(out, s.Command)
		}
	}
	return out
}

func (g *MemoryGateway) dispatch(channel string, cmd Command) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failErr != nil {
		return Result{}, fmt.Errorf("dispatch %s: %w", channel, g.failErr)
	}
	if g.rejectReason != "" {
		return Result{Accepted: false, Reason: g.rejectReason}, nil
	}

	g.sent = append(g.sent, SentCommand{Channel: channel, Command: cmd})
	return Result{Accepted: true, ProviderRef: uuid.New().String()}, nil
}

func (g *MemoryGateway) SendFax(_ context.Context, cmd Command) (Result, error) {
	return g.dispatch("fax", cmd)
}

func (g *MemoryGateway) PlaceVoiceCall(_ context.Context, cmd Command) (Result, error) {
	return g.dispatch("voice", cmd)
}

func (g *MemoryGateway) SendEmail(_ context.Context, cmd Command) (Result, error) {
	return g.dispatch("email", cmd)
}
