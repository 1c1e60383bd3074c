package util

import (
	"runtime/debug"

	"github.com/moltbunker/lockstake/internal/logging"
)

// SafeGoWithName runs fn in a goroutine, logging any panic with the goroutine
// name and stack instead of crashing the process.
//
//	util.SafeGoWithName("reward-poller", func() {
//	    p.loop(ctx)
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
