// Package memory provides an in-memory publisher for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records published payloads instead of sending them anywhere.
type Publisher struct {
	mu       sync.Mutex
	payloads []any
}

// New creates a capture publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the payload and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("memory-%d", len(p.payloads)), nil
}

// Payloads returns a copy of everything published so far.
func (p *Publisher) Payloads() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.payloads...)
}
