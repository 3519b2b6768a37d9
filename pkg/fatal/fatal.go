// Package fatal is the abort facility for unrecoverable runtime conditions:
// reference count corruption, retains of objects that are already being
// freed, and broken intern table invariants.
//
// Abort never returns. It reports the diagnostic to the installed Handler and
// then panics with an *Error, which terminates the process unless a test
// harness recovers it.
package fatal

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Error is the panic value raised by Abort.
type Error struct {
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Msg
}

// Handler observes a fatal diagnostic before the goroutine panics.
type Handler func(err *Error)

var handler atomic.Pointer[Handler]

func init() {
	h := Handler(logHandler)
	handler.Store(&h)
}

// logHandler is the default handler. It logs through the default slog logger.
func logHandler(err *Error) {
	slog.Error("fatal runtime condition", "err", err.Msg)
}

// SetHandler installs h and returns a function restoring the previous handler.
// A nil h installs a handler that ignores diagnostics.
func SetHandler(h Handler) (restore func()) {
	if h == nil {
		h = func(*Error) {}
	}

	prev := handler.Swap(&h)

	return func() {
		handler.Store(prev)
	}
}

// Abort formats a diagnostic, hands it to the installed Handler and panics.
func Abort(format string, args ...any) {
	err := &Error{Msg: fmt.Sprintf(format, args...)}

	(*handler.Load())(err)

	panic(err)
}

// Recover runs fn and returns the *Error it aborted with, or nil if fn
// returned normally. Panics that are not fatal aborts are re-raised.
func Recover(fn func()) (aborted *Error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		err, ok := r.(*Error)
		if !ok {
			panic(r)
		}

		aborted = err
	}()

	fn()

	return nil
}
