package logging

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xtxerr/perfkit/internal/errors"
)

// AbortFunc receives the error of a failed assertion. It must not return
// normally in production; tests install one that records the error.
type AbortFunc func(err error)

var abortFn atomic.Pointer[AbortFunc]

func init() {
	SetAbortFunc(nil)
}

// SetAbortFunc installs the process-control hook called by Assert and Fatal.
// A nil fn restores the default, which panics with the error.
func SetAbortFunc(fn AbortFunc) {
	if fn == nil {
		fn = func(err error) { panic(err) }
	}
	abortFn.Store(&fn)
}

// Fatal logs at fatal level and hands an abort error to the installed hook.
func Fatal(msg string, args ...any) {
	ensure().Log(context.Background(), LevelFatal, msg, args...)
	(*abortFn.Load())(errors.NewAbort(msg, ""))
}

// Assert checks an invariant. When cond is false the expression and the
// formatted message are logged at fatal level and the abort hook runs.
func Assert(cond bool, expr string, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log := ensure()
	log.Log(context.Background(), LevelFatal, "assertion failed", "expression", expr)
	log.Log(context.Background(), LevelFatal, msg)
	(*abortFn.Load())(errors.NewAbort(expr, msg))
}
