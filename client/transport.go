package client

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// transport frames IRC lines over the underlying connection. ReadLine
// returns one line without its CRLF; WriteLine appends it.
type transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

type tcpTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (t *tcpTransport) ReadLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpTransport) WriteLine(line string) error {
	_, err := t.conn.Write([]byte(line + "\r\n"))
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// wsTransport carries IRC lines as websocket text messages. A single
// frame may hold several lines, so leftovers are buffered.
type wsTransport struct {
	conn    *websocket.Conn
	pending []string
}

func (t *wsTransport) ReadLine() (string, error) {
	for len(t.pending) == 0 {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(payload), "\r\n") {
			line = strings.TrimRight(line, "\r\n")
			if line != "" {
				t.pending = append(t.pending, line)
			}
		}
	}

	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

func (t *wsTransport) WriteLine(line string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// dialTransport opens the configured transport: direct or SOCKS5-proxied
// TCP with optional TLS, or a websocket connection to the IRC gateway.
func (c *Client) dialTransport() (transport, error) {
	o := c.opts
	addr := net.JoinHostPort(o.Connection.Server, strconv.Itoa(o.Connection.Port))

	netDialer := &net.Dialer{Timeout: o.Connection.Timeout}
	dial := netDialer.Dial
	if o.Connection.Proxy != "" {
		socks, err := proxy.SOCKS5("tcp", o.Connection.Proxy, nil, netDialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", o.Connection.Proxy, err)
		}
		dial = socks.Dial
	}

	if o.Connection.Transport == "ws" {
		scheme := "ws"
		if o.secure() {
			scheme = "wss"
		}
		dialer := websocket.Dialer{
			NetDial:          dial,
			HandshakeTimeout: o.Connection.Timeout,
		}
		ws, resp, err := dialer.Dial(fmt.Sprintf("%s://%s", scheme, addr), nil)
		if err != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return nil, fmt.Errorf("websocket dial %s: %w", addr, err)
		}
		return &wsTransport{conn: ws}, nil
	}

	conn, err := dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if o.secure() {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: o.Connection.Server,
			MinVersion: tls.VersionTLS12,
		})
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		conn = tlsConn
	}
	return &tcpTransport{conn: conn, reader: bufio.NewReader(conn)}, nil
}
