package model

import (
	"context"
	"fmt"
	"sync"
)

// MockStep is one scripted outcome of MockModel.Generate.
type MockStep struct {
	Text   string
	Finish FinishReason
	Tokens int
	Err    error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Calls consume scripted steps in order; once the script is exhausted the
// Handler (if any) answers, otherwise an echo of the last message is returned.
type MockModel struct {
	info    Info
	mu      sync.Mutex
	steps   []MockStep
	handler func(Request) (Response, error)
	calls   []Request
}

// NewMockModel constructs a MockModel for the given family.
func NewMockModel(name string, family Family) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", Family: family}}
}

// Script appends scripted steps (chainable).
func (m *MockModel) Script(steps ...MockStep) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
	return m
}

// WithHandler installs a fallback responder (chainable).
func (m *MockModel) WithHandler(fn func(Request) (Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Calls returns a copy of every request received.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockModel) next(req Request) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if len(m.steps) > 0 {
		step := m.steps[0]
		m.steps = m.steps[1:]
		m.mu.Unlock()
		if step.Err != nil {
			return Response{}, step.Err
		}
		finish := step.Finish
		if finish == "" {
			finish = FinishStop
		}
		return Response{Text: step.Text, FinishReason: finish, Tokens: step.Tokens}, nil
	}
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("no messages provided")
	}
	last := req.Messages[len(req.Messages)-1]
	return Response{Text: "Mock response to: " + last.Content, FinishReason: FinishStop, Tokens: 10}, nil
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		resp, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
