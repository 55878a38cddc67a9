package client

import (
	"strconv"
	"strings"
	"time"

	"twitchtmi/irc"
	"twitchtmi/metrics"
)

// SubMethods describes the subscription plan attached to a USERNOTICE.
type SubMethods struct {
	Prime    bool
	Plan     string
	PlanName string
}

// handleLine is the dispatcher entry point for one incoming line. Server
// PINGs are answered here directly; everything else is parsed, its tags
// post-processed and the matching handler invoked.
func (c *Client) handleLine(line string) {
	if strings.HasPrefix(line, "PING") {
		token := "tmi.twitch.tv"
		if idx := strings.Index(line, " :"); idx != -1 {
			token = line[idx+2:]
		}
		_ = c.writeRaw("PONG :" + token)
		return
	}

	metrics.LinesParsed.Inc()
	msg := irc.ParseMessage(line)
	if msg == nil {
		c.log.Warn("dropping unparseable line", "line", line)
		return
	}

	irc.ParseBadges(msg.Tags)
	irc.ParseBadgeInfo(msg.Tags)
	irc.ParseEmotes(msg.Tags)
	irc.Coerce(msg.Tags)

	c.emit("raw_message", msg)

	switch msg.Command {
	case "001":
		c.handleWelcome()
	case "PONG":
		c.handlePong()
	case "JOIN":
		c.handleJoin(msg)
	case "PART":
		c.handlePart(msg)
	case "353":
		c.handleNames(msg)
	case "366":
		c.handleEndOfNames(msg)
	case "MODE":
		c.handleMode(msg)
	case "PRIVMSG":
		c.handlePrivmsg(msg)
	case "WHISPER":
		c.handleWhisper(msg)
	case "NOTICE":
		c.handleNotice(msg)
	case "USERNOTICE":
		c.handleUsernotice(msg)
	case "ROOMSTATE":
		c.handleRoomstate(msg)
	case "USERSTATE":
		c.handleUserstate(msg)
	case "GLOBALUSERSTATE":
		c.handleGlobalUserstate(msg)
	case "CLEARCHAT":
		c.handleClearchat(msg)
	case "CLEARMSG":
		c.handleClearmsg(msg)
	case "HOSTTARGET":
		c.handleHosttarget(msg)
	case "RECONNECT":
		c.log.Info("server requested reconnect")
		c.handleDisconnect("Server requested reconnect")
	case "421":
		c.handleUnknownCommand(msg)
	case "002", "003", "004", "372", "375", "376", "CAP":
		// connection preamble, nothing to dispatch
	default:
		c.log.Debug("unhandled command", "command", msg.Command, "raw", msg.Raw)
	}
}

// handleWelcome finishes the handshake: the connection is open, the
// backoff resets and the recorded channels are replayed through the
// JOIN queue.
func (c *Client) handleWelcome() {
	c.mu.Lock()
	c.state = Open
	wasReconnecting := c.reconnecting
	c.reconnecting = false
	c.reconnectAttempts = 0
	c.reconnectDelay = 0
	targets := c.opts.Channels
	if len(c.rejoin) > 0 {
		targets = c.rejoin
		c.rejoin = nil
	}
	joinQ := c.joinQ
	server, port := c.opts.Connection.Server, c.opts.Connection.Port
	c.mu.Unlock()

	metrics.ConnectionUp.Set(1)
	c.log.Info("connected", "server", server, "port", port)

	c.emit("_connected", nil)
	c.emit("connected", server, port)
	if wasReconnecting {
		c.emit("reconnected", server, port)
	}

	if joinQ == nil {
		return
	}
	for _, ch := range targets {
		line := "JOIN " + ch
		queued := time.Now()
		joinQ.Add(func() {
			metrics.QueueWait.WithLabelValues("join").Observe(time.Since(queued).Seconds())
			_ = c.writeRaw(line)
		})
	}
}

func (c *Client) handlePong() {
	c.mu.Lock()
	c.latency = time.Since(c.lastPing)
	latency := c.latency.Seconds()
	c.mu.Unlock()

	c.emit("pong", latency)
	c.emit("_promisePing", latency)
}

func (c *Client) handleJoin(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	username := NormalizeUsername(msg.Nick())
	self := username == c.GetUsername()

	if self {
		c.channelState(channel)
		c.log.Info("joined channel", "channel", channel)
		c.emit("_promiseJoin", nil, channel)
	}
	c.emit("join", channel, username, self)
}

func (c *Client) handlePart(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	username := NormalizeUsername(msg.Nick())
	self := username == c.GetUsername()

	if self {
		c.mu.Lock()
		delete(c.channels, channel)
		c.mu.Unlock()
		c.log.Info("left channel", "channel", channel)
		c.emit("_promisePart", nil, channel)
	}
	c.emit("part", channel, username, self)
}

// handleNames accumulates one 353 page of the channel roster. Operators
// arrive prefixed with "@" and seed the moderator set.
func (c *Client) handleNames(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(2))
	st := c.channelState(channel)

	users := make([]string, 0, 16)
	c.mu.Lock()
	for _, name := range strings.Fields(msg.Param(3)) {
		clean := NormalizeUsername(strings.TrimPrefix(name, "@"))
		if clean == "" {
			continue
		}
		users = append(users, clean)
		if strings.HasPrefix(name, "@") {
			st.Mods[clean] = true
		}
	}
	st.names = append(st.names, users...)
	c.mu.Unlock()

	c.emit("_names", channel, users)
}

func (c *Client) handleEndOfNames(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(1))
	st := c.channelState(channel)

	c.mu.Lock()
	users := st.names
	st.names = nil
	c.mu.Unlock()

	c.emit("names", channel, users)
}

func (c *Client) handleMode(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	mode := msg.Param(1)
	username := NormalizeUsername(msg.Param(2))
	if username == "" {
		return
	}
	st := c.channelState(channel)

	switch mode {
	case "+o":
		c.mu.Lock()
		st.Mods[username] = true
		c.mu.Unlock()
		c.emit("mod", channel, username)
	case "-o":
		c.mu.Lock()
		delete(st.Mods, username)
		c.mu.Unlock()
		c.emit("unmod", channel, username)
	}
}

func (c *Client) handlePrivmsg(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	text := msg.Param(1)
	login := NormalizeUsername(msg.Nick())

	if login == "jtv" {
		c.handleHosted(channel, text)
		return
	}

	tags := msg.Tags
	tags["username"] = login
	cleaned, isAction := actionText(text)
	if isAction {
		tags["message-type"] = "action"
	} else {
		tags["message-type"] = "chat"
	}

	if id := tags.String("id"); id != "" {
		c.recent.Set(id, recentMessage{Channel: channel, Login: login, Text: cleaned})
	}

	self := login == c.GetUsername()
	c.logChat(channel, login, cleaned)

	switch {
	case isAction:
		c.emit("action", channel, tags, cleaned, self)
	case tags.Has("bits"):
		c.emit("cheer", channel, tags, cleaned)
	case rewardID(tags) != "":
		c.emit("redeem", channel, login, rewardID(tags), tags, cleaned)
	default:
		c.emit("chat", channel, tags, cleaned, self)
	}
	c.emit("message", channel, tags, cleaned, self)
}

func rewardID(tags irc.Tags) string {
	if id := tags.String("custom-reward-id"); id != "" {
		return id
	}
	switch tags.String("msg-id") {
	case "highlighted-message", "skip-subs-mode-message":
		return tags.String("msg-id")
	}
	return ""
}

// handleHosted parses the free-form host announcement the jtv user
// sends ("somestreamer is now auto hosting you for 5 viewers.").
func (c *Client) handleHosted(channel, text string) {
	if !strings.Contains(text, "hosting you") {
		return
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := NormalizeUsername(fields[0])
	autohost := strings.Contains(text, "auto")

	viewers := 0
	if strings.Contains(text, "hosting you for") {
		for _, f := range fields {
			if n, err := strconv.Atoi(strings.TrimRight(f, ".")); err == nil {
				viewers = n
				break
			}
		}
	}
	c.emit("hosted", channel, name, viewers, autohost)
}

func (c *Client) handleWhisper(msg *irc.Message) {
	from := NormalizeUsername(msg.Nick())
	text := msg.Param(1)
	tags := msg.Tags
	tags["username"] = from
	tags["message-type"] = "whisper"

	c.logChat("whisper", from, text)
	c.emit("whisper", from, tags, text, false)
	c.emit("message", from, tags, text, false)
}

func (c *Client) handleUsernotice(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	text := msg.Param(1)
	tags := msg.Tags
	msgid := tags.String("msg-id")
	tags["message-type"] = msgid

	username := tags.String("display-name")
	if username == "" {
		username = tags.String("login")
	}
	plan := tags.String("msg-param-sub-plan")
	methods := SubMethods{
		Prime:    strings.Contains(plan, "Prime"),
		Plan:     plan,
		PlanName: tags.String("msg-param-sub-plan-name"),
	}
	streak := tags.Int("msg-param-streak-months")
	recipient := tags.String("msg-param-recipient-display-name")
	if recipient == "" {
		recipient = tags.String("msg-param-recipient-user-name")
	}

	c.emit("usernotice", msgid, channel, tags, text)

	switch msgid {
	case "sub":
		c.emit("subscription", channel, username, methods, text, tags)
		c.emit("sub", channel, username, methods, text, tags)
	case "resub":
		c.emit("resub", channel, username, streak, text, tags, methods)
		c.emit("subanniversary", channel, username, streak, text, tags, methods)
	case "subgift":
		c.emit("subgift", channel, username, streak, recipient, methods, tags)
	case "anonsubgift":
		c.emit("anonsubgift", channel, streak, recipient, methods, tags)
	case "submysterygift":
		c.emit("submysterygift", channel, username, tags.Int("msg-param-mass-gift-count"), methods, tags)
	case "anonsubmysterygift":
		c.emit("anonsubmysterygift", channel, tags.Int("msg-param-mass-gift-count"), methods, tags)
	case "primepaidupgrade":
		c.emit("primepaidupgrade", channel, username, methods, tags)
	case "giftpaidupgrade":
		sender := tags.String("msg-param-sender-name")
		if sender == "" {
			sender = tags.String("msg-param-sender-login")
		}
		c.emit("giftpaidupgrade", channel, username, sender, tags)
	case "anongiftpaidupgrade":
		c.emit("anongiftpaidupgrade", channel, username, tags)
	case "announcement":
		c.emit("announcement", channel, tags, text, false, tags.String("msg-param-color"))
	case "raid":
		raider := tags.String("msg-param-displayName")
		if raider == "" {
			raider = tags.String("msg-param-login")
		}
		c.emit("raided", channel, raider, tags.Int("msg-param-viewerCount"), tags)
	case "ritual":
		c.emit("ritual", channel, username, tags.String("msg-param-ritual-name"), tags, text)
	}
}

// roomstate settings whose changes surface as their own events.
var roomstateFields = []string{"slow", "followers-only", "subs-only", "emote-only", "r9k"}

// handleRoomstate merges the broadcast settings into the channel state.
// The first snapshot for a channel only seeds the state; later partial
// updates additionally emit one event per changed setting.
func (c *Client) handleRoomstate(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	st := c.channelState(channel)

	c.mu.Lock()
	prev := st.RoomState
	first := len(prev) == 0
	merged := prev.Copy()
	for k, v := range msg.Tags {
		merged[k] = v
	}
	st.RoomState = merged
	c.mu.Unlock()

	snapshot := merged.Copy()
	snapshot["channel"] = channel
	c.emit("roomstate", channel, snapshot)
	if first {
		return
	}

	for _, field := range roomstateFields {
		if !msg.Tags.Has(field) || prev.String(field) == msg.Tags.String(field) {
			continue
		}
		c.emitRoomstateChange(channel, field, msg.Tags)
	}
}

func (c *Client) emitRoomstateChange(channel, field string, tags irc.Tags) {
	switch field {
	case "slow":
		seconds := tags.Int("slow")
		if seconds > 0 {
			c.emit("slow", channel, true, seconds)
			c.emit("slowmode", channel, true, seconds)
			c.emit("_promiseSlow", nil, channel)
		} else {
			c.emit("slow", channel, false, 0)
			c.emit("slowmode", channel, false, 0)
			c.emit("_promiseSlowoff", nil, channel)
		}
	case "followers-only":
		minutes := tags.Int("followers-only")
		if minutes >= 0 {
			c.emit("followersonly", channel, true, minutes)
			c.emit("followersmode", channel, true, minutes)
			c.emit("_promiseFollowers", nil, channel)
		} else {
			c.emit("followersonly", channel, false, 0)
			c.emit("followersmode", channel, false, 0)
			c.emit("_promiseFollowersoff", nil, channel)
		}
	case "subs-only":
		enabled := tags.Bool("subs-only")
		c.emit("subscribers", channel, enabled)
		c.emit("subscriber", channel, enabled)
	case "emote-only":
		c.emit("emoteonly", channel, tags.Bool("emote-only"))
	case "r9k":
		enabled := tags.Bool("r9k")
		c.emit("r9kbeta", channel, enabled)
		c.emit("r9kmode", channel, enabled)
	}
}

func (c *Client) handleUserstate(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	st := c.channelState(channel)

	c.mu.Lock()
	username := c.username
	tags := msg.Tags.Copy()
	tags["username"] = username
	firstJoin := len(st.UserState) == 0 && !isJustinfan(username)
	st.UserState = tags
	if tags.String("user-type") == "mod" {
		st.Mods[username] = true
	}
	c.mu.Unlock()

	if firstJoin {
		c.log.Info("joined channel", "channel", channel)
		c.emit("_promiseJoin", nil, channel)
		c.emit("join", channel, username, true)
	}

	c.trackEmoteSets(tags)
	c.emit("userstate", channel, tags)
}

func (c *Client) handleGlobalUserstate(msg *irc.Message) {
	c.mu.Lock()
	c.globalUserState = msg.Tags.Copy()
	snapshot := c.globalUserState.Copy()
	c.mu.Unlock()

	c.trackEmoteSets(snapshot)
	c.emit("globaluserstate", snapshot)
}

func (c *Client) trackEmoteSets(tags irc.Tags) {
	sets := tags.String("emote-sets")
	if sets == "" {
		return
	}
	c.mu.Lock()
	changed := sets != c.emoteSets
	c.emoteSets = sets
	c.mu.Unlock()
	if changed {
		c.emit("emotesets", sets)
	}
}

func (c *Client) handleClearchat(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	target := NormalizeUsername(msg.Param(1))

	if target == "" {
		c.log.Info("chat cleared", "channel", channel)
		c.emit("clearchat", channel)
		c.emit("_promiseClear", nil, channel)
		return
	}

	reason := msg.Tags.String("ban-reason")
	if msg.Tags.Has("ban-duration") {
		seconds := msg.Tags.Int("ban-duration")
		c.log.Info("user timed out", "channel", channel, "user", target, "seconds", seconds)
		c.emit("timeout", channel, target, reason, seconds, msg.Tags)
	} else {
		c.log.Info("user banned", "channel", channel, "user", target)
		c.emit("ban", channel, target, reason, msg.Tags)
	}
}

func (c *Client) handleClearmsg(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	text := msg.Param(1)
	tags := msg.Tags
	login := tags.String("login")
	tags["message-type"] = "messagedeleted"

	if text == "" {
		if cached, ok := c.recent.Get(tags.String("target-msg-id")); ok {
			text = cached.Text
			if login == "" {
				login = cached.Login
			}
		}
	}

	c.log.Info("message deleted", "channel", channel, "user", login)
	c.emit("messagedeleted", channel, login, text, tags)
}

func (c *Client) handleHosttarget(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	fields := strings.Fields(msg.Param(1))
	if len(fields) == 0 {
		return
	}
	target := fields[0]
	viewers := 0
	if len(fields) > 1 {
		viewers, _ = strconv.Atoi(fields[1])
	}

	if target == "-" {
		c.log.Info("exited host mode", "channel", channel)
		c.emit("unhost", channel, viewers)
		c.emit("_promiseUnhost", nil, channel)
		return
	}
	c.log.Info("hosting", "channel", channel, "target", target, "viewers", viewers)
	c.emit("hosting", channel, target, viewers)
}

// handleUnknownCommand reacts to the 421 numeric. There is no way to
// tell which in-flight command the server rejected, so every pending
// command kind is failed with the reason "unrecognized_cmd"; the
// reported command name is only logged.
func (c *Client) handleUnknownCommand(msg *irc.Message) {
	name := msg.Param(1)
	c.log.Warn("server rejected command", "command", name)
	c.failAllPromises("unrecognized_cmd", "")
}

// logChat logs chat traffic at the configured messages level (trace,
// debug, warn or error); any other value logs at info.
func (c *Client) logChat(channel, login, text string) {
	switch c.opts.Logging.MessagesLevel {
	case "trace":
		c.log.Trace("chat", "channel", channel, "from", login, "text", text)
	case "debug":
		c.log.Debug("chat", "channel", channel, "from", login, "text", text)
	case "warn":
		c.log.Warn("chat", "channel", channel, "from", login, "text", text)
	case "error":
		c.log.Error("chat", nil, "channel", channel, "from", login, "text", text)
	default:
		c.log.Info("chat", "channel", channel, "from", login, "text", text)
	}
}
