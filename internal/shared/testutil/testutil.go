// Package testutil provides testing utilities and helpers for backend tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
)

// MockGenerator is a mock implementation of genai.Generator for testing.
type MockGenerator struct {
	mock.Mock
}

// Evolve mocks the Evolve method.
func (m *MockGenerator) Evolve(ctx context.Context, code string, in genai.Instruction, s settings.AppSettings) (genai.Result, error) {
	args := m.Called(ctx, code, in, s)
	return args.Get(0).(genai.Result), args.Error(1)
}

// ImproveElement mocks the ImproveElement method.
func (m *MockGenerator) ImproveElement(ctx context.Context, code string, el runtime.ElementSelection, instruction string, s settings.AppSettings) (genai.Result, error) {
	args := m.Called(ctx, code, el, instruction, s)
	return args.Get(0).(genai.Result), args.Error(1)
}

// GenerateReport mocks the GenerateReport method.
func (m *MockGenerator) GenerateReport(ctx context.Context, code string, s settings.AppSettings) (string, error) {
	args := m.Called(ctx, code, s)
	return args.String(0), args.Error(1)
}

// Repair mocks the Repair method.
func (m *MockGenerator) Repair(ctx context.Context, code, errorMessage string) (genai.Result, error) {
	args := m.Called(ctx, code, errorMessage)
	return args.Get(0).(genai.Result), args.Error(1)
}

// NewMockGenerator creates a mock generator with no default behaviors.
// Tests declare every call they expect.
func NewMockGenerator(t *testing.T) *MockGenerator {
	t.Helper()
	m := new(MockGenerator)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// RunnableCode returns a document that passes the runnability gate. The
// marker ends up in the body so tests can tell documents apart.
func RunnableCode(marker string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head><title>%[1]s</title></head><body>
<div id="root" data-marker="%[1]s"></div>
<script type="module">
import React from "react";
import { createRoot } from "react-dom/client";
createRoot(document.getElementById("root")).render(React.createElement("h1", null, "%[1]s"));
</script>
</body></html>`, marker)
}

// GeneratedResult returns a generator result carrying RunnableCode(marker).
func GeneratedResult(marker string) genai.Result {
	return genai.Result{Code: RunnableCode(marker), Summary: "generated " + marker}
}

// NewVersionStore creates a version store on an in-memory KV.
func NewVersionStore(t *testing.T) *version.Store {
	t.Helper()
	s, err := version.NewStore(context.Background(), storage.NewMemory())
	require.NoError(t, err)
	return s
}

// NewSettingsStore creates a settings store on an in-memory KV.
func NewSettingsStore(t *testing.T) *settings.Store {
	t.Helper()
	s, err := settings.NewStore(context.Background(), storage.NewMemory(), nil)
	require.NoError(t, err)
	return s
}
