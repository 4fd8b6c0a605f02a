// Package safego launches goroutines that log and re-panic instead of
// crashing the process silently, which matters here because a session or
// keep-alive goroutine dying quietly would leave a subscriber stuck forever.
package safego

import (
	"log"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic inside fn is logged with its stack
// trace via logger before being re-raised, so a background failure is never
// lost.
func Go(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
