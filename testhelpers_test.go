package taiga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// mockProvider is a test Provider returning canned responses in order.
// Responses may carry both content and scripted errors.
type mockProvider struct {
	name      string
	responses []ChatResponse
	errs      []error
	idx       int
	requests  []ChatRequest // every request received, for assertions
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	m.requests = append(m.requests, req)
	i := m.idx
	m.idx++
	if i < len(m.errs) && m.errs[i] != nil {
		return ChatResponse{}, m.errs[i]
	}
	if i >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}, nil
	}
	return m.responses[i], nil
}

// stubTool is a single-definition Tool backed by a function.
type stubTool struct {
	def ToolDefinition
	fn  func(ctx context.Context, args json.RawMessage) (ToolResult, error)
	// calls records the raw arguments of each Execute.
	calls []json.RawMessage
}

func (s *stubTool) Definitions() []ToolDefinition { return []ToolDefinition{s.def} }

func (s *stubTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	s.calls = append(s.calls, args)
	if s.fn == nil {
		return ToolResult{Payload: json.RawMessage(`{"ok":true}`)}, nil
	}
	return s.fn(ctx, args)
}

// memBlobStore is an in-memory BlobStore keyed by partition/key.
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string]Attachment
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string]Attachment)}
}

func (m *memBlobStore) Put(ctx context.Context, partition, key string, att Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[partition+"/"+key] = att
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, partition, key string) (Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.blobs[partition+"/"+key]
	if !ok {
		return Attachment{}, fmt.Errorf("blob %s/%s not found", partition, key)
	}
	return att, nil
}

// memExecLog is an in-memory ExecutionLog keyed by session id.
type memExecLog struct {
	mu      sync.Mutex
	entries map[string][]LogEntry
}

func newMemExecLog() *memExecLog {
	return &memExecLog{entries: make(map[string][]LogEntry)}
}

func (m *memExecLog) Append(ctx context.Context, sessionID string, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return nil
}

func (m *memExecLog) Entry(ctx context.Context, sessionID string, index int) (LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.entries[sessionID]
	if index < 0 || index >= len(log) {
		return LogEntry{}, fmt.Errorf("entry %d not found for session %s", index, sessionID)
	}
	return log[index], nil
}

// echoRegistry builds a registry with one plain tool named name that
// returns its own arguments as the payload.
func echoRegistry(name string) (*Registry, *stubTool) {
	tool := &stubTool{
		def: ToolDefinition{Name: name, Description: "echoes arguments"},
		fn: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
			return ToolResult{Payload: args}, nil
		},
	}
	r := NewRegistry()
	r.Add(tool)
	return r, tool
}

// invocation builds a test invocation with marshaled args.
func invocation(id, name string, args map[string]any) Invocation {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return Invocation{ID: id, Name: name, Args: raw}
}
