package detector

import (
	"context"
	"sync"
)

// MockClient is a test implementation of the Client interface.
// It allows tests to control results, failures and request timing.
type MockClient struct {
	mu          sync.Mutex
	result      *Result
	err         error
	block       chan struct{}
	requests    []Request
	active      int
	maxActive   int
	completions int
}

// NewMockClient creates a new MockClient that returns an empty result.
func NewMockClient() *MockClient {
	return &MockClient{result: &Result{}}
}

// SetResult sets the result returned by Detect.
func (m *MockClient) SetResult(r *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
}

// SetError sets the error returned by Detect.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Block makes Detect wait until Release is called or its context ends.
func (m *MockClient) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
}

// Release unblocks pending and future Detect calls.
func (m *MockClient) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block != nil {
		close(m.block)
		m.block = nil
	}
}

// Detect records the request and returns the pre-configured result or error.
func (m *MockClient) Detect(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	block := m.block
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.completions++
		m.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	res := *m.result
	res.Detections = append([]Detection(nil), m.result.Detections...)
	if res.SessionID == "" {
		res.SessionID = req.SessionID
	}
	return &res, nil
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns how many requests were started.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Completions returns how many requests have returned.
func (m *MockClient) Completions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completions
}

// MaxConcurrent returns the largest number of overlapping Detect calls seen.
func (m *MockClient) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Close is a no-op for the mock client.
func (m *MockClient) Close() error {
	return nil
}
