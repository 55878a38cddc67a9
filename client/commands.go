package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"twitchtmi/events"
	"twitchtmi/irc"
	"twitchtmi/metrics"
)

// privmsgLimit is the maximum PRIVMSG body Twitch accepts; longer
// messages are split at this boundary.
const privmsgLimit = 500

// requireOpen rejects commands while the connection is not open.
func (c *Client) requireOpen() error {
	if c.ReadyState() != Open {
		return ErrNotConnected
	}
	return nil
}

// checkSpeak guards commands an anonymous justinfan identity may not
// issue.
func (c *Client) checkSpeak() error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if isJustinfan(c.GetUsername()) {
		return ErrAnonymous
	}
	return nil
}

// enqueueCommand queues one slash command line on the command queue. An
// empty channel sends the line verbatim.
func (c *Client) enqueueCommand(channel, cmd string) {
	_, _, cmdQ := c.queues()
	if cmdQ == nil {
		return
	}
	line := cmd
	if channel != "" {
		line = "PRIVMSG " + channel + " :" + cmd
	}
	queued := time.Now()
	cmdQ.Add(func() {
		metrics.QueueWait.WithLabelValues("command").Observe(time.Since(queued).Seconds())
		_ = c.writeRaw(line)
	})
}

// sendChat paginates a message and queues each chunk on the message
// queue, echoing it back as a self message after the write.
func (c *Client) sendChat(channel, message string, tags irc.Tags) {
	_, msgQ, _ := c.queues()
	if msgQ == nil {
		return
	}
	prefix := ""
	if len(tags) > 0 {
		prefix = irc.FormTags(tags) + " "
	}
	for _, chunk := range paginate(message, privmsgLimit) {
		line := prefix + "PRIVMSG " + channel + " :" + chunk
		queued := time.Now()
		msgQ.Add(func() {
			metrics.QueueWait.WithLabelValues("message").Observe(time.Since(queued).Seconds())
			if err := c.writeRaw(line); err != nil {
				return
			}
			metrics.MessagesSent.WithLabelValues(channel).Inc()
			c.echoMessage(channel, chunk)
		})
	}
}

// echoMessage emits the client's own outgoing chat line the way an
// incoming one would be, flagged as self.
func (c *Client) echoMessage(channel, text string) {
	cleaned, isAction := actionText(text)

	c.mu.Lock()
	username := c.username
	merged := irc.Tags{}
	if st, ok := c.channels[channel]; ok {
		merged = st.UserState.Copy()
	}
	c.mu.Unlock()

	merged["username"] = username
	merged["emotes"] = nil
	kind := "chat"
	if isAction {
		kind = "action"
	}
	merged["message-type"] = kind

	c.logChat(channel, username, cleaned)
	c.emit(kind, channel, merged, cleaned, true)
	c.emit("message", channel, merged, cleaned, true)
}

// waitEvent resolves an armed waiter against the command timeout and
// the caller's context. Cancellation always removes the listener.
func (c *Client) waitEvent(ctx context.Context, name string, wait func(time.Duration) ([]any, error), cancel func()) ([]any, error) {
	type result struct {
		args []any
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		args, err := wait(c.opts.CommandTimeout)
		done <- result{args, err}
	}()

	select {
	case r := <-done:
		metrics.CommandLatency.Observe(time.Since(start).Seconds())
		if errors.Is(r.err, events.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrCommandTimeout, name)
		}
		return r.args, r.err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// await arms the reply waiter, runs send, and interprets the first
// matching emission: args[0] nil means success, a string is the failure
// msg-id.
func (c *Client) await(ctx context.Context, name, channel, event string, match func([]any) bool, send func()) ([]any, error) {
	wait, cancel := c.events.Waiter(event, match)
	send()

	args, err := c.waitEvent(ctx, name, wait, cancel)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 && args[0] != nil {
		reason, _ := args[0].(string)
		return nil, &CommandError{Command: name, Channel: channel, Reason: reason}
	}
	return args, nil
}

// moderate is the common shape of channel moderation commands: send one
// slash command, await its reply event.
func (c *Client) moderate(ctx context.Context, name, channel, cmd, event string) error {
	if err := c.checkSpeak(); err != nil {
		return err
	}
	_, err := c.await(ctx, name, channel, event, nil, func() {
		c.enqueueCommand(channel, cmd)
	})
	return err
}

// Say sends a chat message. Messages starting with "/" or "." are
// routed as slash commands through the command queue; "/me" becomes an
// action. The returned values are the normalized channel and the
// original message.
func (c *Client) Say(channel, message string) (string, string, error) {
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return "", "", err
	}

	if isCommandMessage(message) {
		if body := message[1:]; strings.HasPrefix(body, "me ") {
			return c.Action(channel, strings.TrimPrefix(body, "me "))
		}
		c.enqueueCommand(channel, message)
		return channel, message, nil
	}

	c.sendChat(channel, message, nil)
	return channel, message, nil
}

// Action sends a "/me" style message.
func (c *Client) Action(channel, message string) (string, string, error) {
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return "", "", err
	}
	c.sendChat(channel, "\x01ACTION "+message+"\x01", nil)
	return channel, message, nil
}

// Reply sends a threaded chat message referencing a parent message id.
func (c *Client) Reply(channel, message, parentID string) (string, string, error) {
	if parentID == "" {
		return "", "", fmt.Errorf("%w: reply parent message id is required", ErrClient)
	}
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return "", "", err
	}
	c.sendChat(channel, message, irc.Tags{"reply-parent-msg-id": parentID})
	return channel, message, nil
}

// Announce sends an announcement to the channel.
func (c *Client) Announce(channel, message string) (string, string, error) {
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return "", "", err
	}
	c.enqueueCommand(channel, "/announce "+message)
	return channel, message, nil
}

// Whisper sends a direct message to a user. The server never confirms
// delivery, so only a correlated failure NOTICE fails the call; the
// reply timeout counts as delivered.
func (c *Client) Whisper(ctx context.Context, username, message string) (string, string, error) {
	target := NormalizeUsername(username)
	if err := c.checkSpeak(); err != nil {
		return "", "", err
	}
	if target == c.GetUsername() {
		return "", "", fmt.Errorf("%w: cannot whisper the connected account", ErrClient)
	}

	channel := c.opts.GlobalDefaultChannel
	_, err := c.await(ctx, "whisper", channel, "_promiseWhisper", nil, func() {
		c.enqueueCommand(channel, "/w "+target+" "+message)
	})
	if err != nil && !errors.Is(err, ErrCommandTimeout) {
		return "", "", err
	}

	c.mu.Lock()
	merged := c.globalUserState.Copy()
	username = c.username
	c.mu.Unlock()
	if merged == nil {
		merged = irc.Tags{}
	}
	merged["message-type"] = "whisper"
	merged["username"] = username
	c.emit("whisper", NormalizeChannel(target), merged, message, true)
	c.emit("message", NormalizeChannel(target), merged, message, true)
	return target, message, nil
}

// Ban permanently bans a user from the channel.
func (c *Client) Ban(ctx context.Context, channel, username, reason string) (string, string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	cmd := strings.TrimSpace("/ban " + username + " " + reason)

	if err := c.moderate(ctx, "ban", channel, cmd, "_promiseBan"); err != nil {
		return "", "", "", err
	}
	c.emit("ban", channel, username, reason, irc.Tags(nil))
	return channel, username, reason, nil
}

// Unban lifts a permanent ban.
func (c *Client) Unban(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "unban", channel, "/unban "+username, "_promiseUnban"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Timeout mutes a user for the given number of seconds (default 300).
func (c *Client) Timeout(ctx context.Context, channel, username string, seconds int, reason string) (string, string, int, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if seconds <= 0 {
		seconds = 300
	}
	cmd := strings.TrimSpace(fmt.Sprintf("/timeout %s %d %s", username, seconds, reason))

	if err := c.moderate(ctx, "timeout", channel, cmd, "_promiseTimeout"); err != nil {
		return "", "", 0, "", err
	}
	return channel, username, seconds, reason, nil
}

// Untimeout lifts an active timeout.
func (c *Client) Untimeout(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "untimeout", channel, "/untimeout "+username, "_promiseUnban"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Slow enables slow mode with the given spacing in seconds (default 300).
func (c *Client) Slow(ctx context.Context, channel string, seconds int) (string, int, error) {
	channel = NormalizeChannel(channel)
	if seconds <= 0 {
		seconds = 300
	}
	if err := c.moderate(ctx, "slow", channel, fmt.Sprintf("/slow %d", seconds), "_promiseSlow"); err != nil {
		return "", 0, err
	}
	return channel, seconds, nil
}

// SlowOff disables slow mode.
func (c *Client) SlowOff(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "slowoff", channel, "/slowoff", "_promiseSlowoff"); err != nil {
		return "", err
	}
	return channel, nil
}

// FollowersOnly restricts chat to followers of at least the given age
// in minutes (default 30).
func (c *Client) FollowersOnly(ctx context.Context, channel string, minutes int) (string, int, error) {
	channel = NormalizeChannel(channel)
	if minutes < 0 {
		minutes = 30
	}
	if err := c.moderate(ctx, "followersonly", channel, fmt.Sprintf("/followers %d", minutes), "_promiseFollowers"); err != nil {
		return "", 0, err
	}
	return channel, minutes, nil
}

// FollowersOnlyOff disables followers-only mode.
func (c *Client) FollowersOnlyOff(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "followersonlyoff", channel, "/followersoff", "_promiseFollowersoff"); err != nil {
		return "", err
	}
	return channel, nil
}

// EmoteOnly restricts chat to emote-only messages.
func (c *Client) EmoteOnly(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "emoteonly", channel, "/emoteonly", "_promiseEmoteonly"); err != nil {
		return "", err
	}
	return channel, nil
}

// EmoteOnlyOff disables emote-only mode.
func (c *Client) EmoteOnlyOff(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "emoteonlyoff", channel, "/emoteonlyoff", "_promiseEmoteonlyoff"); err != nil {
		return "", err
	}
	return channel, nil
}

// Subscribers restricts chat to subscribers.
func (c *Client) Subscribers(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "subscribers", channel, "/subscribers", "_promiseSubscribers"); err != nil {
		return "", err
	}
	return channel, nil
}

// SubscribersOff disables subscribers-only mode.
func (c *Client) SubscribersOff(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "subscribersoff", channel, "/subscribersoff", "_promiseSubscribersoff"); err != nil {
		return "", err
	}
	return channel, nil
}

// R9kBeta enables unique-chat (r9k) mode.
func (c *Client) R9kBeta(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "r9kbeta", channel, "/r9kbeta", "_promiseR9kbeta"); err != nil {
		return "", err
	}
	return channel, nil
}

// R9kBetaOff disables unique-chat mode.
func (c *Client) R9kBetaOff(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "r9kbetaoff", channel, "/r9kbetaoff", "_promiseR9kbetaoff"); err != nil {
		return "", err
	}
	return channel, nil
}

// Clear wipes the channel's chat history.
func (c *Client) Clear(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "clear", channel, "/clear", "_promiseClear"); err != nil {
		return "", err
	}
	return channel, nil
}

// DeleteMessage removes a single message by its id tag.
func (c *Client) DeleteMessage(ctx context.Context, channel, messageID string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "deletemessage", channel, "/delete "+messageID, "_promiseDeletemessage"); err != nil {
		return "", err
	}
	return channel, nil
}

// Mod grants moderator status to a user.
func (c *Client) Mod(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "mod", channel, "/mod "+username, "_promiseMod"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Unmod revokes moderator status.
func (c *Client) Unmod(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "unmod", channel, "/unmod "+username, "_promiseUnmod"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Vip grants VIP status to a user.
func (c *Client) Vip(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "vip", channel, "/vip "+username, "_promiseVip"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Unvip revokes VIP status.
func (c *Client) Unvip(ctx context.Context, channel, username string) (string, string, error) {
	channel = NormalizeChannel(channel)
	username = NormalizeUsername(username)
	if err := c.moderate(ctx, "unvip", channel, "/unvip "+username, "_promiseUnvip"); err != nil {
		return "", "", err
	}
	return channel, username, nil
}

// Mods requests the channel's moderator roster. The parsed list is also
// merged into the moderator set consulted by IsMod.
func (c *Client) Mods(ctx context.Context, channel string) ([]string, error) {
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return nil, err
	}
	args, err := c.await(ctx, "mods", channel, "_promiseMods", nil, func() {
		c.enqueueCommand(channel, "/mods")
	})
	if err != nil {
		return nil, err
	}
	if len(args) > 1 {
		if mods, ok := args[1].([]string); ok {
			return mods, nil
		}
	}
	return []string{}, nil
}

// Vips requests the channel's VIP roster.
func (c *Client) Vips(ctx context.Context, channel string) ([]string, error) {
	channel = NormalizeChannel(channel)
	if err := c.checkSpeak(); err != nil {
		return nil, err
	}
	args, err := c.await(ctx, "vips", channel, "_promiseVips", nil, func() {
		c.enqueueCommand(channel, "/vips")
	})
	if err != nil {
		return nil, err
	}
	if len(args) > 1 {
		if vips, ok := args[1].([]string); ok {
			return vips, nil
		}
	}
	return []string{}, nil
}

// Host redirects the channel's viewers to the target. The returned int
// is the number of host commands remaining.
func (c *Client) Host(ctx context.Context, channel, target string) (string, string, int, error) {
	channel = NormalizeChannel(channel)
	target = NormalizeUsername(target)
	if err := c.checkSpeak(); err != nil {
		return "", "", 0, err
	}
	args, err := c.await(ctx, "host", channel, "_promiseHost", nil, func() {
		c.enqueueCommand(channel, "/host "+target)
	})
	if err != nil {
		return "", "", 0, err
	}
	remaining := 0
	if len(args) > 1 {
		remaining, _ = args[1].(int)
	}
	return channel, target, remaining, nil
}

// Unhost stops hosting.
func (c *Client) Unhost(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.moderate(ctx, "unhost", channel, "/unhost", "_promiseUnhost"); err != nil {
		return "", err
	}
	return channel, nil
}

// Commercial runs an ad break of the given length in seconds (default 30).
func (c *Client) Commercial(ctx context.Context, channel string, seconds int) (string, int, error) {
	channel = NormalizeChannel(channel)
	if seconds <= 0 {
		seconds = 30
	}
	if err := c.moderate(ctx, "commercial", channel, fmt.Sprintf("/commercial %d", seconds), "_promiseCommercial"); err != nil {
		return "", 0, err
	}
	return channel, seconds, nil
}

// Color changes the username color of the connected account.
func (c *Client) Color(ctx context.Context, color string) (string, error) {
	if err := c.checkSpeak(); err != nil {
		return "", err
	}
	channel := c.opts.GlobalDefaultChannel
	_, err := c.await(ctx, "color", channel, "_promiseColor", nil, func() {
		c.enqueueCommand(channel, "/color "+color)
	})
	if err != nil {
		return "", err
	}
	return color, nil
}

// Join enters a channel through the JOIN queue and waits for the server
// to confirm. Anonymous identities may join.
func (c *Client) Join(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.requireOpen(); err != nil {
		return "", err
	}

	match := func(args []any) bool {
		return len(args) > 1 && args[1] == channel
	}
	_, err := c.await(ctx, "join", channel, "_promiseJoin", match, func() {
		joinQ, _, _ := c.queues()
		if joinQ == nil {
			return
		}
		queued := time.Now()
		joinQ.Add(func() {
			metrics.QueueWait.WithLabelValues("join").Observe(time.Since(queued).Seconds())
			_ = c.writeRaw("JOIN " + channel)
		})
	})
	if err != nil {
		return "", err
	}
	return channel, nil
}

// Part leaves a channel and waits for the server to confirm.
func (c *Client) Part(ctx context.Context, channel string) (string, error) {
	channel = NormalizeChannel(channel)
	if err := c.requireOpen(); err != nil {
		return "", err
	}

	match := func(args []any) bool {
		return len(args) > 1 && args[1] == channel
	}
	_, err := c.await(ctx, "part", channel, "_promisePart", match, func() {
		c.enqueueCommand("", "PART "+channel)
	})
	if err != nil {
		return "", err
	}
	return channel, nil
}

// Ping measures the round trip to the server and returns the latency
// in seconds.
func (c *Client) Ping(ctx context.Context) (float64, error) {
	if err := c.requireOpen(); err != nil {
		return 0, err
	}

	wait, cancel := c.events.Waiter("_promisePing", nil)
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()

	if err := c.writeRaw("PING :tmi.twitch.tv"); err != nil {
		cancel()
		return 0, err
	}

	args, err := c.waitEvent(ctx, "ping", wait, cancel)
	if err != nil {
		return 0, err
	}
	if len(args) > 0 {
		if latency, ok := args[0].(float64); ok {
			return latency, nil
		}
	}
	return 0, nil
}

// Raw writes one line to the socket as-is, bypassing the queues.
func (c *Client) Raw(line string) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.writeRaw(line)
}

// Aliases kept for parity with the historical command names. They carry
// no wire behavior of their own.

func (c *Client) Followersmode(ctx context.Context, channel string, minutes int) (string, int, error) {
	return c.FollowersOnly(ctx, channel, minutes)
}

func (c *Client) FollowersmodeOff(ctx context.Context, channel string) (string, error) {
	return c.FollowersOnlyOff(ctx, channel)
}

func (c *Client) Slowmode(ctx context.Context, channel string, seconds int) (string, int, error) {
	return c.Slow(ctx, channel, seconds)
}

func (c *Client) SlowmodeOff(ctx context.Context, channel string) (string, error) {
	return c.SlowOff(ctx, channel)
}

func (c *Client) Leave(ctx context.Context, channel string) (string, error) {
	return c.Part(ctx, channel)
}

func (c *Client) R9kMode(ctx context.Context, channel string) (string, error) {
	return c.R9kBeta(ctx, channel)
}

func (c *Client) UniqueChat(ctx context.Context, channel string) (string, error) {
	return c.R9kBeta(ctx, channel)
}

func (c *Client) UniqueChatOff(ctx context.Context, channel string) (string, error) {
	return c.R9kBetaOff(ctx, channel)
}
