package client

import (
	"time"

	"twitchtmi/pkg/logger"
)

const (
	defaultServer   = "irc.chat.twitch.tv"
	defaultWSServer = "irc-ws.chat.twitch.tv"
)

// Identity is the account the client logs in as. Without a password
// token the client logs in anonymously: Username is replaced by a random
// justinfan name unless it already is one.
type Identity struct {
	Username string
	Password string
	ClientID string
}

// Connection tunes the socket and the reconnect supervisor. Secure and
// Reconnect are pointers so that the zero Options value keeps their
// true defaults.
type Connection struct {
	Server    string
	Port      int
	Secure    *bool
	Transport string // "tcp" (default) or "ws"
	Proxy     string // SOCKS5 address, host:port

	Reconnect            *bool
	ReconnectInterval    time.Duration
	ReconnectDecay       float64
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int // <= 0 means unlimited

	Timeout      time.Duration // dial/handshake timeout
	PingInterval time.Duration
}

// Logging selects the client log level and the level chat traffic is
// logged at.
type Logging struct {
	Level         string
	MessagesLevel string
}

type Options struct {
	Identity   Identity
	Connection Connection
	Channels   []string
	Logging    Logging

	JoinInterval    time.Duration
	MessageInterval time.Duration
	CommandInterval time.Duration
	CommandTimeout  time.Duration

	SkipMembership       bool
	GlobalDefaultChannel string

	// Logger overrides the default slog-backed logger.
	Logger logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Connection.Server == "" {
		if o.Connection.Transport == "ws" {
			o.Connection.Server = defaultWSServer
		} else {
			o.Connection.Server = defaultServer
		}
	}
	if o.Connection.Port == 0 {
		switch {
		case o.Connection.Transport == "ws" && o.secure():
			o.Connection.Port = 443
		case o.Connection.Transport == "ws":
			o.Connection.Port = 80
		case o.secure():
			o.Connection.Port = 6697
		default:
			o.Connection.Port = 6667
		}
	}
	if o.Connection.ReconnectInterval == 0 {
		o.Connection.ReconnectInterval = 1200 * time.Millisecond
	}
	if o.Connection.ReconnectDecay == 0 {
		o.Connection.ReconnectDecay = 1.5
	}
	if o.Connection.MaxReconnectInterval == 0 {
		o.Connection.MaxReconnectInterval = 30 * time.Second
	}
	if o.Connection.Timeout == 0 {
		o.Connection.Timeout = 9999 * time.Millisecond
	}
	if o.Connection.PingInterval == 0 {
		o.Connection.PingInterval = 240 * time.Second
	}
	if o.Connection.PingInterval < 30*time.Second {
		o.Connection.PingInterval = 30 * time.Second
	}
	if o.JoinInterval == 0 {
		o.JoinInterval = 2 * time.Second
	}
	if o.MessageInterval == 0 {
		o.MessageInterval = 1500 * time.Millisecond
	}
	if o.CommandInterval == 0 {
		o.CommandInterval = 150 * time.Millisecond
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.MessagesLevel == "" {
		o.Logging.MessagesLevel = "info"
	}
	if o.GlobalDefaultChannel == "" {
		o.GlobalDefaultChannel = "#tmijs"
	}

	channels := make([]string, 0, len(o.Channels))
	for _, ch := range o.Channels {
		channels = append(channels, NormalizeChannel(ch))
	}
	o.Channels = channels

	return o
}

func (o Options) secure() bool {
	return o.Connection.Secure == nil || *o.Connection.Secure
}

func (o Options) reconnectEnabled() bool {
	return o.Connection.Reconnect == nil || *o.Connection.Reconnect
}

// Bool is a convenience for the pointer fields of Connection.
func Bool(v bool) *bool {
	return &v
}
