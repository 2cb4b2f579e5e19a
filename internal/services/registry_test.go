package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-dev/spyglass/internal/config"
	"github.com/spyglass-dev/spyglass/internal/terminal"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(&config.Config{
		ReplayBufferBytes: 64 * 1024,
		AgentCommand:      "cat",
	})
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := testRegistry(t)

	first, err := r.GetOrCreate("workbench", terminal.KindAgent)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "workbench", first.ID)

	second, err := r.GetOrCreate("workbench", terminal.KindAgent)
	require.NoError(t, err)
	assert.Same(t, first, second, "same id must return the same session")

	assert.Equal(t, []string{"workbench"}, r.List())
}

func TestRegistryGet(t *testing.T) {
	r := testRegistry(t)

	assert.Nil(t, r.Get("missing"))

	created, err := r.GetOrCreate("found", terminal.KindAgent)
	require.NoError(t, err)
	assert.Same(t, created, r.Get("found"))
}

func TestRegistryRemove(t *testing.T) {
	r := testRegistry(t)

	_, err := r.GetOrCreate("doomed", terminal.KindAgent)
	require.NoError(t, err)

	r.Remove("doomed")
	assert.Nil(t, r.Get("doomed"))
	assert.Empty(t, r.List())

	r.Remove("doomed") // removing twice is fine
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry(&config.Config{
		ReplayBufferBytes: 1024,
		AgentCommand:      "cat",
	})

	s, err := r.GetOrCreate("s1", terminal.KindAgent)
	require.NoError(t, err)

	r.Shutdown()
	r.Shutdown() // idempotent

	assert.Empty(t, r.List())
	assert.Error(t, s.WriteInput([]byte("x")), "sessions are closed on shutdown")
}

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"../escape", "escape"},
		{"/leading", "leading"},
		{"ctrl\x01chars\x7f", "ctrlchars"},
		{"", "default"},
		{"..", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeSessionID(tt.in))
		})
	}
}
