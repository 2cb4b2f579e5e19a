package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo("panicking", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}
	// The panic must not have escaped; anything after this line still runs.
	assert.True(t, true)
}

func TestSafeGoRunsFunction(t *testing.T) {
	ran := make(chan bool, 1)
	SafeGo("plain", func() { ran <- true })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}
}
