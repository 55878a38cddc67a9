package client

import (
	"sort"

	"twitchtmi/irc"
)

// ReadyState is the lifecycle state of the connection.
type ReadyState int32

const (
	Closed ReadyState = iota
	Connecting
	Open
	Closing
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	}
	return "CLOSED"
}

// ChannelState holds the per-channel tag snapshots the server broadcasts.
// UserState is the authenticated user's own tags for the channel, RoomState
// carries the room settings (slow, followers-only, subs-only, emote-only,
// r9k). Mods tracks operator grants seen via MODE.
type ChannelState struct {
	UserState irc.Tags
	RoomState irc.Tags
	Mods      map[string]bool

	names []string
}

func newChannelState() *ChannelState {
	return &ChannelState{
		UserState: irc.Tags{},
		RoomState: irc.Tags{},
		Mods:      make(map[string]bool),
	}
}

// recentMessage is the cached payload of a seen PRIVMSG, keyed by its id
// tag so CLEARMSG can recover the deleted text.
type recentMessage struct {
	Channel string
	Login   string
	Text    string
}

// ReadyState reports the connection lifecycle state.
func (c *Client) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetUsername returns the login name the client connected as, including
// the generated justinfan name for anonymous clients.
func (c *Client) GetUsername() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// GetOptions returns the normalized options the client was built with.
func (c *Client) GetOptions() Options {
	return c.opts
}

// GetChannels lists the channels the client is currently joined to,
// sorted for stable output.
func (c *Client) GetChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// GlobalUserState returns the last GLOBALUSERSTATE tag snapshot, or nil
// when none arrived yet.
func (c *Client) GlobalUserState() irc.Tags {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.globalUserState == nil {
		return nil
	}
	return c.globalUserState.Copy()
}

// UserState returns the client's own tags for a channel.
func (c *Client) UserState(channel string) irc.Tags {
	channel = NormalizeChannel(channel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.channels[channel]; ok {
		return st.UserState.Copy()
	}
	return nil
}

// RoomState returns the room settings snapshot for a channel.
func (c *Client) RoomState(channel string) irc.Tags {
	channel = NormalizeChannel(channel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.channels[channel]; ok {
		return st.RoomState.Copy()
	}
	return nil
}

// IsMod reports whether a user is known to moderate the channel, from
// MODE grants and the last cached /mods roster.
func (c *Client) IsMod(channel, username string) bool {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)

	c.mu.Lock()
	if st, ok := c.channels[channel]; ok && st.Mods[username] {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	if roster, ok := c.rosters.Get("mods:" + channel); ok {
		for _, name := range roster {
			if name == username {
				return true
			}
		}
	}
	return false
}

// Latency returns the delay measured by the last PING/PONG exchange.
func (c *Client) Latency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency.Seconds()
}

// channelState returns the state for a channel, creating it on first use.
func (c *Client) channelState(channel string) *ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.channels[channel]
	if !ok {
		st = newChannelState()
		c.channels[channel] = st
	}
	return st
}
