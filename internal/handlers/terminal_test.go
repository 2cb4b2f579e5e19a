package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-dev/spyglass/internal/config"
	"github.com/spyglass-dev/spyglass/internal/services"
)

func testTerminalHandler(t *testing.T) *TerminalHandler {
	t.Helper()
	registry := services.NewRegistry(&config.Config{
		ReplayBufferBytes: 64 * 1024,
		AgentCommand:      "claude",
	})
	t.Cleanup(registry.Shutdown)
	return NewTerminalHandler(registry, 64*1024)
}

func TestTerminalUpgradeRequired(t *testing.T) {
	app := fiber.New()
	testTerminalHandler(t).RegisterRoutes(app.Group("/v1"))

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/terminal", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestTerminalListSessions(t *testing.T) {
	app := fiber.New()
	testTerminalHandler(t).RegisterRoutes(app.Group("/v1"))

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/terminal/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		Sessions []string `json:"sessions"`
		Count    int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Zero(t, payload.Count)
}

func TestTerminalWriteAccessAssignment(t *testing.T) {
	h := testTerminalHandler(t)

	first := &termConn{connID: "c1"}
	second := &termConn{connID: "c2"}
	third := &termConn{connID: "c3"}

	h.registerConn("sess", first)
	h.registerConn("sess", second)
	h.registerConn("sess", third)

	assert.False(t, first.readOnly.Load(), "first connection holds write access")
	assert.True(t, second.readOnly.Load())
	assert.True(t, third.readOnly.Load())
}

func TestTerminalConnIsolationAcrossSessions(t *testing.T) {
	h := testTerminalHandler(t)

	a := &termConn{connID: "a"}
	b := &termConn{connID: "b"}
	h.registerConn("one", a)
	h.registerConn("two", b)

	assert.False(t, a.readOnly.Load())
	assert.False(t, b.readOnly.Load(), "write access is per session, not global")
}

func TestTerminalPromotionOnWriterLeave(t *testing.T) {
	h := testTerminalHandler(t)

	writer := &termConn{connID: "w", connectedAt: time.Now()}
	older := &termConn{connID: "r1", connectedAt: time.Now().Add(time.Millisecond)}
	newer := &termConn{connID: "r2", connectedAt: time.Now().Add(2 * time.Millisecond)}
	h.registerConn("sess", writer)
	h.registerConn("sess", older)
	h.registerConn("sess", newer)

	promoted := h.dropConn("sess", writer)
	require.Same(t, older, promoted, "the oldest reader is promoted")
	assert.False(t, older.readOnly.Load())
	assert.True(t, newer.readOnly.Load())

	assert.Nil(t, h.dropConn("sess", newer), "a reader leaving promotes nobody")
}

// The input path checks readOnly on every message while promotion flips it
// from another goroutine; both sides must go through the atomic.
func TestTerminalPromotionConcurrentWithInput(t *testing.T) {
	h := testTerminalHandler(t)

	writer := &termConn{connID: "w", connectedAt: time.Now()}
	reader := &termConn{connID: "r", connectedAt: time.Now().Add(time.Millisecond)}
	h.registerConn("sess", writer)
	h.registerConn("sess", reader)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			reader.readOnly.Load()
		}
	}()

	promoted := h.dropConn("sess", writer)
	<-done

	require.Same(t, reader, promoted)
	assert.False(t, reader.readOnly.Load(), "promotion must become visible to the input path")
}
