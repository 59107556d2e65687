// Package testutil provides test helpers for invoxy (e.g. MockHandler).
package testutil

import (
	"context"
	"encoding/json"

	"github.com/invoxy/invoxy"
)

// MockHandler is a configurable ActionHandler implementation for tests.
type MockHandler struct {
	NameVal    string
	SchemasVal []invoxy.CallSchema
	ExecuteFn  func(ctx context.Context, toolName string, args *invoxy.Args) (json.RawMessage, error)
}

// Name returns the handler name.
func (m *MockHandler) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Schemas returns the configured schemas, or a single schema named after the
// handler.
func (m *MockHandler) Schemas() []invoxy.CallSchema {
	if m.SchemasVal != nil {
		return m.SchemasVal
	}
	return []invoxy.CallSchema{{Name: m.Name()}}
}

// Execute runs ExecuteFn if set, otherwise returns an empty object payload.
func (m *MockHandler) Execute(ctx context.Context, toolName string, args *invoxy.Args) (json.RawMessage, error) {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, toolName, args)
	}
	return json.RawMessage(`{}`), nil
}

// Ensure MockHandler implements ActionHandler.
var _ invoxy.ActionHandler = (*MockHandler)(nil)
