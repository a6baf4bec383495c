package dispatch

import (
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nicebartender/edi/plugin"
)

// PanicError is what a recovered unit panic turns into.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Batch runs fn for every unit concurrently and waits for all of them. A
// failure or panic in one unit does not affect the others; the failures are
// returned keyed by unit name. The group has no shared context, so one
// failure never cancels the rest.
func Batch(units []plugin.Plugin, fn func(p plugin.Plugin) error) map[string]error {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		failed = make(map[string]error)
	)
	for _, p := range units {
		g.Go(func() error {
			if err := protect(func() error { return fn(p) }); err != nil {
				mu.Lock()
				failed[p.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
