package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"twitchtmi/pkg/logger"
)

// ErrTimeout is returned by WaitFor when no matching emission arrives
// before the deadline.
var ErrTimeout = errors.New("events: wait timed out")

// Listener receives the emission payload. Synchronous listeners run on
// the emitter's goroutine in registration order.
type Listener func(args ...any)

type registration struct {
	id    int64
	fn    Listener
	once  bool
	async bool
}

// Emitter is a named-event dispatcher. Registration order is preserved
// per event, and a listener registered during an emission does not see
// that emission.
type Emitter struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[string][]registration
	log       logger.Logger
}

func New(log logger.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[string][]registration),
		log:       log,
	}
}

// On registers a synchronous listener and returns its id for Off.
func (e *Emitter) On(event string, fn Listener) int64 {
	return e.add(event, fn, false, false)
}

// OnAsync registers a listener that runs on its own goroutine per
// emission. Ordering across emissions is not guaranteed.
func (e *Emitter) OnAsync(event string, fn Listener) int64 {
	return e.add(event, fn, false, true)
}

// Once registers a listener removed after its first invocation.
func (e *Emitter) Once(event string, fn Listener) int64 {
	return e.add(event, fn, true, false)
}

func (e *Emitter) add(event string, fn Listener, once, async bool) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners[event] = append(e.listeners[event], registration{
		id:    e.nextID,
		fn:    fn,
		once:  once,
		async: async,
	})
	return e.nextID
}

// Off removes the listener with the given id from an event. Removing an
// unknown id is a no-op.
func (e *Emitter) Off(event string, id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[event]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		e.listeners[event] = append(regs[:i:i], regs[i+1:]...)
		if len(e.listeners[event]) == 0 {
			delete(e.listeners, event)
		}
		return
	}
}

// RemoveAll drops every listener for the event, or every listener on
// the emitter when event is "".
func (e *Emitter) RemoveAll(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event == "" {
		e.listeners = make(map[string][]registration)
		return
	}
	delete(e.listeners, event)
}

// ListenerCount reports how many listeners the event currently has.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit invokes the event's listeners with args and reports whether any
// listener was registered. A panicking listener is recovered and logged
// and does not stop the remaining listeners.
func (e *Emitter) Emit(event string, args ...any) bool {
	e.mu.Lock()
	regs := e.listeners[event]
	if len(regs) == 0 {
		e.mu.Unlock()
		return false
	}

	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)

	kept := regs[:0:0]
	for _, reg := range regs {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	e.mu.Unlock()

	for _, reg := range snapshot {
		if reg.async {
			go e.invoke(event, reg.fn, args)
		} else {
			e.invoke(event, reg.fn, args)
		}
	}
	return true
}

func (e *Emitter) invoke(event string, fn Listener, args []any) {
	defer func() {
		if r := recover(); r != nil && e.log != nil {
			e.log.Warn("listener panic", "event", event, "panic", fmt.Sprint(r))
		}
	}()
	fn(args...)
}

// EmitMany emits a batch of events in order. Each event takes the
// payload at its index; when payloads run short the last one is reused,
// and a nil batch emits every event without arguments.
func (e *Emitter) EmitMany(names []string, payloads [][]any) {
	for i, name := range names {
		var args []any
		switch {
		case i < len(payloads):
			args = payloads[i]
		case len(payloads) > 0:
			args = payloads[len(payloads)-1]
		}
		e.Emit(name, args...)
	}
}

// Waiter registers a temporary listener right away and returns a wait
// function plus a cancel, so the listener can be armed before the action
// that triggers the emission. A nil match accepts the first emission.
// Both wait and cancel remove the listener; calling cancel after a
// successful wait is harmless.
func (e *Emitter) Waiter(event string, match func(args []any) bool) (wait func(timeout time.Duration) ([]any, error), cancel func()) {
	done := make(chan []any, 1)

	id := e.On(event, func(args ...any) {
		if match != nil && !match(args) {
			return
		}
		select {
		case done <- args:
		default:
		}
	})

	cancel = func() { e.Off(event, id) }
	wait = func(timeout time.Duration) ([]any, error) {
		defer cancel()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case args := <-done:
			return args, nil
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
	return wait, cancel
}

// WaitFor blocks until an emission of event satisfies match, or until
// timeout. The temporary listener is removed before returning.
func (e *Emitter) WaitFor(event string, match func(args []any) bool, timeout time.Duration) ([]any, error) {
	wait, _ := e.Waiter(event, match)
	return wait(timeout)
}
