// Package runtime provides panic containment for background goroutines.
// Long-running loops (the outbox dispatcher, broker consumers, the retention
// sweeper) must never take the whole process down with them.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
)

// PanicPolicy determines what happens after a panic is logged.
type PanicPolicy int

const (
	// KeepRunning recovers and continues execution.
	KeepRunning PanicPolicy = iota
	// CrashProcess re-panics after logging.
	CrashProcess
)

// RecoverAndLog recovers from a panic, logs it with the stack trace, and
// continues execution. Use in defer statements for workers and handlers.
func RecoverAndLog(logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		logPanic(context.Background(), logger, component, name, r, debug.Stack())
	}
}

// RecoverAndLogWithContext is like RecoverAndLog but carries the caller's
// context so trace correlation survives into the panic log entry.
func RecoverAndLogWithContext(ctx context.Context, logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		logPanic(ctx, logger, component, name, r, debug.Stack())
	}
}

// SafeGo runs fn in a goroutine protected by the given panic policy.
func SafeGo(logger log.Logger, name string, policy PanicPolicy, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(context.Background(), logger, "goroutine", name, r, debug.Stack())

				if policy == CrashProcess {
					panic(r)
				}
			}
		}()

		fn()
	}()
}

func logPanic(ctx context.Context, logger log.Logger, component, name string, panicValue any, stack []byte) {
	if logger == nil {
		logger = log.NewNop()
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("source", name),
		log.String("panic", fmt.Sprintf("%v", panicValue)),
		log.String("stack_trace", string(stack)),
	)
}
