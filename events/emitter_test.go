package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) SetLogLevel(string)                {}
func (nopLogger) GetLogLevel() string               { return "info" }
func (nopLogger) Trace(string, ...any)              {}
func (nopLogger) Debug(string, ...any)              {}
func (nopLogger) Info(string, ...any)               {}
func (nopLogger) Warn(string, ...any)               {}
func (nopLogger) Error(string, error, ...any)       {}
func (nopLogger) Fatal(msg string, _ error, _ ...any) {}

func newEmitter() *Emitter {
	return New(nopLogger{})
}

func TestEmit_OrderAndReturn(t *testing.T) {
	e := newEmitter()

	var got []string
	e.On("message", func(args ...any) {
		got = append(got, "first:"+args[0].(string))
	})
	e.On("message", func(args ...any) {
		got = append(got, "second:"+args[0].(string))
	})

	assert.False(t, e.Emit("unknown"))
	assert.True(t, e.Emit("message", "hi"))
	assert.Equal(t, []string{"first:hi", "second:hi"}, got)
}

func TestOnce(t *testing.T) {
	e := newEmitter()

	calls := 0
	e.Once("connected", func(...any) { calls++ })

	assert.True(t, e.Emit("connected"))
	assert.False(t, e.Emit("connected"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.ListenerCount("connected"))
}

func TestOff(t *testing.T) {
	e := newEmitter()

	calls := 0
	id := e.On("join", func(...any) { calls++ })
	e.On("join", func(...any) { calls += 10 })

	e.Off("join", id)
	e.Off("join", 999)
	e.Emit("join")

	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, e.ListenerCount("join"))
}

func TestRemoveAll(t *testing.T) {
	e := newEmitter()
	e.On("a", func(...any) {})
	e.On("a", func(...any) {})
	e.On("b", func(...any) {})

	e.RemoveAll("a")
	assert.Equal(t, 0, e.ListenerCount("a"))
	assert.Equal(t, 1, e.ListenerCount("b"))

	e.RemoveAll("")
	assert.Equal(t, 0, e.ListenerCount("b"))
}

func TestEmit_RegistrationDuringEmitDeferred(t *testing.T) {
	e := newEmitter()

	calls := 0
	e.On("tick", func(...any) {
		e.On("tick", func(...any) { calls += 100 })
		calls++
	})

	e.Emit("tick")
	assert.Equal(t, 1, calls)

	e.Emit("tick")
	assert.Equal(t, 102, calls)
}

func TestEmit_PanicDoesNotStopOthers(t *testing.T) {
	e := newEmitter()

	called := false
	e.On("boom", func(...any) { panic("listener failure") })
	e.On("boom", func(...any) { called = true })

	assert.NotPanics(t, func() { e.Emit("boom") })
	assert.True(t, called)
}

func TestOnAsync(t *testing.T) {
	e := newEmitter()

	var wg sync.WaitGroup
	wg.Add(1)
	e.OnAsync("part", func(args ...any) {
		defer wg.Done()
		assert.Equal(t, "#room", args[0])
	})

	e.Emit("part", "#room")
	wg.Wait()
}

func TestEmitMany(t *testing.T) {
	e := newEmitter()

	var got [][]any
	for _, name := range []string{"timeout", "ban", "clearchat"} {
		name := name
		e.On(name, func(args ...any) {
			got = append(got, append([]any{name}, args...))
		})
	}

	e.EmitMany(
		[]string{"timeout", "ban", "clearchat"},
		[][]any{{"#room", "alice"}, {"#room"}},
	)

	require.Len(t, got, 3)
	assert.Equal(t, []any{"timeout", "#room", "alice"}, got[0])
	assert.Equal(t, []any{"ban", "#room"}, got[1])
	// trailing events reuse the last payload
	assert.Equal(t, []any{"clearchat", "#room"}, got[2])
}

func TestWaitFor(t *testing.T) {
	e := newEmitter()

	go func() {
		time.Sleep(10 * time.Millisecond)
		e.Emit("roomstate", "#other", 0)
		e.Emit("roomstate", "#room", 30)
	}()

	args, err := e.WaitFor("roomstate", func(args []any) bool {
		return args[0] == "#room"
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{"#room", 30}, args)

	_, err = e.WaitFor("never", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// temporary listener is gone after both waits
	assert.Equal(t, 0, e.ListenerCount("roomstate"))
	assert.Equal(t, 0, e.ListenerCount("never"))
}

func TestWaiter_ArmBeforeTrigger(t *testing.T) {
	e := newEmitter()

	wait, _ := e.Waiter("reply", nil)
	e.Emit("reply", "early")

	args, err := wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{"early"}, args)
	assert.Equal(t, 0, e.ListenerCount("reply"))
}

func TestWaiter_Cancel(t *testing.T) {
	e := newEmitter()

	_, cancel := e.Waiter("reply", nil)
	assert.Equal(t, 1, e.ListenerCount("reply"))
	cancel()
	assert.Equal(t, 0, e.ListenerCount("reply"))
}
