package client

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type quietLogger struct{}

func (quietLogger) SetLogLevel(string)          {}
func (quietLogger) GetLogLevel() string         { return "info" }
func (quietLogger) Trace(string, ...any)        {}
func (quietLogger) Debug(string, ...any)        {}
func (quietLogger) Info(string, ...any)         {}
func (quietLogger) Warn(string, ...any)         {}
func (quietLogger) Error(string, error, ...any) {}
func (quietLogger) Fatal(string, error, ...any) {}

// scriptConn is an in-memory transport. Tests feed server lines through
// serve and observe client writes on the writes channel.
type scriptConn struct {
	in     chan string
	writes chan string
	closed chan struct{}
	once   sync.Once
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		in:     make(chan string, 64),
		writes: make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (s *scriptConn) ReadLine() (string, error) {
	select {
	case line := <-s.in:
		return line, nil
	case <-s.closed:
		return "", io.EOF
	}
}

func (s *scriptConn) WriteLine(line string) error {
	select {
	case <-s.closed:
		return io.EOF
	default:
	}
	select {
	case s.writes <- line:
	default:
	}
	return nil
}

func (s *scriptConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptConn) serve(lines ...string) {
	for _, line := range lines {
		s.in <- line
	}
}

func testOptions() Options {
	return Options{
		Identity: Identity{Username: "bot", Password: "oauth:secret"},
		Connection: Connection{
			Server:    "irc.test",
			Port:      1,
			Secure:    Bool(false),
			Reconnect: Bool(false),
			Timeout:   2 * time.Second,
		},
		JoinInterval:    time.Millisecond,
		MessageInterval: time.Millisecond,
		CommandInterval: time.Millisecond,
		CommandTimeout:  500 * time.Millisecond,
		Logger:          quietLogger{},
	}
}

func newTestClient(t *testing.T, mutate func(*Options)) (*Client, *scriptConn) {
	t.Helper()

	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts)
	conn := newScriptConn()
	c.dialFunc = func() (transport, error) { return conn, nil }
	return c, conn
}

// connect drives the handshake against the scripted transport and fails
// the test when it does not settle.
func connect(t *testing.T, c *Client, conn *scriptConn) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	expectWrite(t, conn, "CAP REQ")
	if c.password != "" {
		expectWrite(t, conn, "PASS ")
	}
	expectWrite(t, conn, "NICK ")
	conn.serve(":tmi.twitch.tv 001 " + c.GetUsername() + " :Welcome, GLHF!")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("handshake did not finish")
	}
	t.Cleanup(func() { _ = c.Disconnect() })
}

// expectWrite waits for the next client write and asserts its prefix.
func expectWrite(t *testing.T, conn *scriptConn, prefix string) string {
	t.Helper()

	select {
	case line := <-conn.writes:
		require.Truef(t, strings.HasPrefix(line, prefix), "want write with prefix %q, got %q", prefix, line)
		return line
	case <-time.After(3 * time.Second):
		t.Fatalf("no write with prefix %q", prefix)
		return ""
	}
}

func expectNoWrite(t *testing.T, conn *scriptConn, within time.Duration) {
	t.Helper()

	select {
	case line := <-conn.writes:
		t.Fatalf("unexpected write %q", line)
	case <-time.After(within):
	}
}
