package llm

import (
	"context"
	"sync/atomic"
	"time"
)

const MockCompleterName = "mock"

// MockCompleter is a Completer for testing. Responses are scripted per
// call; when the script runs out the last response repeats.
type MockCompleter struct {
	// Configurable behavior
	Latency   time.Duration
	Responses []*Completion // returned in order, last one repeats
	Errors    []error       // parallel to Responses; nil means success
	FailAfter int           // fail every call after N requests (0 = never)
	FailWith  error

	// State
	requestCount atomic.Int64

	// LastRequest captures the most recent request for assertions.
	LastRequest CompletionRequest
}

// NewMockCompleter creates a mock with sensible defaults.
func NewMockCompleter(responses ...*Completion) *MockCompleter {
	return &MockCompleter{Responses: responses}
}

func (m *MockCompleter) Name() string { return MockCompleterName }

// Calls returns how many times Complete has been invoked.
func (m *MockCompleter) Calls() int { return int(m.requestCount.Load()) }

func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	count := int(m.requestCount.Add(1))
	m.LastRequest = req

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailAfter > 0 && count > m.FailAfter {
		return nil, m.FailWith
	}

	idx := count - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	if idx < 0 {
		return &Completion{Fields: map[string]FieldValue{}}, nil
	}
	if len(m.Errors) > idx && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}
	return m.Responses[idx], nil
}
