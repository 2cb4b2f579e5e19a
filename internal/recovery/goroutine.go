package recovery

import (
	"runtime/debug"

	"github.com/spyglass-dev/spyglass/internal/logger"
)

// SafeGo runs fn in a goroutine with panic recovery, so a single PTY read
// loop or watcher loop cannot take down the whole server.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Recovered panic in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
