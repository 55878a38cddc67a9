package client

import (
	"strconv"
	"strings"

	"twitchtmi/irc"
)

// noticeAction is one entry of the msg-id catalog: the internal reply
// events to resolve and whether the id counts as success for them.
type noticeAction struct {
	ok     bool
	events []string
}

func success(events ...string) noticeAction { return noticeAction{ok: true, events: events} }
func failure(events ...string) noticeAction { return noticeAction{ok: false, events: events} }

// noticeCatalog maps a NOTICE msg-id to the command reply it resolves.
// The catalog is closed: an id not listed here (and not handled as a
// special case) only produces the public notice event.
var noticeCatalog = map[string]noticeAction{
	"ban_success":         success("_promiseBan"),
	"already_banned":      failure("_promiseBan"),
	"bad_ban_admin":       failure("_promiseBan"),
	"bad_ban_anon":        failure("_promiseBan"),
	"bad_ban_broadcaster": failure("_promiseBan"),
	"bad_ban_global_mod":  failure("_promiseBan"),
	"bad_ban_mod":         failure("_promiseBan"),
	"bad_ban_self":        failure("_promiseBan"),
	"bad_ban_staff":       failure("_promiseBan"),
	"usage_ban":           failure("_promiseBan"),

	"timeout_success":         success("_promiseTimeout"),
	"usage_timeout":           failure("_promiseTimeout"),
	"bad_timeout_admin":       failure("_promiseTimeout"),
	"bad_timeout_anon":        failure("_promiseTimeout"),
	"bad_timeout_broadcaster": failure("_promiseTimeout"),
	"bad_timeout_duration":    failure("_promiseTimeout"),
	"bad_timeout_global_mod":  failure("_promiseTimeout"),
	"bad_timeout_mod":         failure("_promiseTimeout"),
	"bad_timeout_self":        failure("_promiseTimeout"),
	"bad_timeout_staff":       failure("_promiseTimeout"),

	"untimeout_success": success("_promiseUnban"),
	"unban_success":     success("_promiseUnban"),
	"usage_unban":       failure("_promiseUnban"),
	"usage_untimeout":   failure("_promiseUnban"),
	"bad_unban_no_ban":  failure("_promiseUnban"),

	"usage_clear": failure("_promiseClear"),

	"delete_message_success":         success("_promiseDeletemessage"),
	"usage_delete":                   failure("_promiseDeletemessage"),
	"bad_delete_message_error":       failure("_promiseDeletemessage"),
	"bad_delete_message_broadcaster": failure("_promiseDeletemessage"),
	"bad_delete_message_mod":         failure("_promiseDeletemessage"),

	"mod_success":    success("_promiseMod"),
	"usage_mod":      failure("_promiseMod"),
	"bad_mod_banned": failure("_promiseMod"),
	"bad_mod_mod":    failure("_promiseMod"),

	"unmod_success": success("_promiseUnmod"),
	"usage_unmod":   failure("_promiseUnmod"),
	"bad_unmod_mod": failure("_promiseUnmod"),

	"vip_success":                    success("_promiseVip"),
	"usage_vip":                      failure("_promiseVip"),
	"bad_vip_grantee_banned":         failure("_promiseVip"),
	"bad_vip_grantee_already_vip":    failure("_promiseVip"),
	"bad_vip_max_vips_reached":       failure("_promiseVip"),
	"bad_vip_achievement_incomplete": failure("_promiseVip"),

	"unvip_success":             success("_promiseUnvip"),
	"usage_unvip":               failure("_promiseUnvip"),
	"bad_unvip_grantee_not_vip": failure("_promiseUnvip"),

	"usage_mods": failure("_promiseMods"),
	"usage_vips": failure("_promiseVips"),

	"color_changed":    success("_promiseColor"),
	"usage_color":      failure("_promiseColor"),
	"turbo_only_color": failure("_promiseColor"),

	"commercial_success":   success("_promiseCommercial"),
	"usage_commercial":     failure("_promiseCommercial"),
	"bad_commercial_error": failure("_promiseCommercial"),

	"usage_host":             failure("_promiseHost"),
	"bad_host_hosting":       failure("_promiseHost"),
	"bad_host_rate_exceeded": failure("_promiseHost"),
	"bad_host_error":         failure("_promiseHost"),

	"usage_unhost": failure("_promiseUnhost"),
	"not_hosting":  failure("_promiseUnhost"),

	"slow_on":        success("_promiseSlow"),
	"usage_slow_on":  failure("_promiseSlow"),
	"slow_off":       success("_promiseSlowoff"),
	"usage_slow_off": failure("_promiseSlowoff"),

	"followers_on":      success("_promiseFollowers"),
	"followers_on_zero": success("_promiseFollowers"),
	"followers_off":     success("_promiseFollowersoff"),

	"subs_on":          success("_promiseSubscribers"),
	"already_subs_on":  failure("_promiseSubscribers"),
	"usage_subs_on":    failure("_promiseSubscribers"),
	"subs_off":         success("_promiseSubscribersoff"),
	"already_subs_off": failure("_promiseSubscribersoff"),
	"usage_subs_off":   failure("_promiseSubscribersoff"),

	"emote_only_on":          success("_promiseEmoteonly"),
	"already_emote_only_on":  failure("_promiseEmoteonly"),
	"usage_emote_only_on":    failure("_promiseEmoteonly"),
	"emote_only_off":         success("_promiseEmoteonlyoff"),
	"already_emote_only_off": failure("_promiseEmoteonlyoff"),
	"usage_emote_only_off":   failure("_promiseEmoteonlyoff"),

	"r9k_on":          success("_promiseR9kbeta"),
	"already_r9k_on":  failure("_promiseR9kbeta"),
	"usage_r9k_on":    failure("_promiseR9kbeta"),
	"r9k_off":         success("_promiseR9kbetaoff"),
	"already_r9k_off": failure("_promiseR9kbetaoff"),
	"usage_r9k_off":   failure("_promiseR9kbetaoff"),

	"whisper_invalid_login":        failure("_promiseWhisper"),
	"whisper_invalid_self":         failure("_promiseWhisper"),
	"whisper_limit_per_min":        failure("_promiseWhisper"),
	"whisper_limit_per_sec":        failure("_promiseWhisper"),
	"whisper_restricted":           failure("_promiseWhisper"),
	"whisper_restricted_recipient": failure("_promiseWhisper"),
}

// broadcastFailureIDs are server rejections that cannot be attributed
// to one command kind; they fail every pending command.
var broadcastFailureIDs = map[string]bool{
	"no_permission":         true,
	"msg_banned":            true,
	"msg_room_not_found":    true,
	"msg_channel_suspended": true,
	"tos_ban":               true,
	"invalid_user":          true,
}

var allPromiseEvents = []string{
	"_promiseBan",
	"_promiseClear",
	"_promiseUnban",
	"_promiseTimeout",
	"_promiseDeletemessage",
	"_promiseMods",
	"_promiseMod",
	"_promiseUnmod",
	"_promiseVips",
	"_promiseVip",
	"_promiseUnvip",
	"_promiseColor",
	"_promiseCommercial",
	"_promiseHost",
	"_promiseUnhost",
	"_promiseJoin",
	"_promisePart",
	"_promiseR9kbeta",
	"_promiseR9kbetaoff",
	"_promiseSlow",
	"_promiseSlowoff",
	"_promiseFollowers",
	"_promiseFollowersoff",
	"_promiseSubscribers",
	"_promiseSubscribersoff",
	"_promiseEmoteonly",
	"_promiseEmoteonlyoff",
	"_promiseWhisper",
}

// handleNotice correlates a server NOTICE with the command that caused
// it. Every recognized id also surfaces as the public notice event;
// roster replies, automod rejections and login failures are special
// cased before the catalog lookup.
func (c *Client) handleNotice(msg *irc.Message) {
	channel := NormalizeChannel(msg.Param(0))
	text := msg.Param(1)
	msgid := msg.Tags.String("msg-id")

	if msgid == "" {
		if reason, ok := loginFailure(text); ok {
			c.failLogin(reason)
			return
		}
		c.log.Warn("unrecognized notice", "raw", msg.Raw)
		c.emit("notice", channel, msgid, text)
		return
	}

	c.emit("notice", channel, msgid, text)

	switch msgid {
	case "room_mods":
		mods := parseNameList(text)
		c.storeModerators(channel, mods)
		c.emit("_promiseMods", nil, mods)
		c.emit("mods", channel, mods)
		return
	case "no_mods":
		c.storeModerators(channel, nil)
		c.emit("_promiseMods", nil, []string{})
		c.emit("mods", channel, []string{})
		return
	case "vips_success":
		vips := parseNameList(text)
		c.rosters.Set("vips:"+channel, vips)
		c.emit("_promiseVips", nil, vips)
		c.emit("vips", channel, vips)
		return
	case "no_vips":
		c.rosters.Set("vips:"+channel, []string{})
		c.emit("_promiseVips", nil, []string{})
		c.emit("vips", channel, []string{})
		return
	case "hosts_remaining":
		c.emit("_promiseHost", nil, firstInt(text))
		return
	case "msg_rejected", "msg_rejected_mandatory":
		c.emit("automod", channel, msgid, text)
		return
	case "host_on", "host_off":
		// redundant with HOSTTARGET
		return
	}

	if broadcastFailureIDs[msgid] {
		c.failAllPromises(msgid, channel)
		return
	}

	act, ok := noticeCatalog[msgid]
	if !ok {
		return
	}
	for _, event := range act.events {
		if act.ok {
			c.emit(event, nil, channel)
		} else {
			c.emit(event, msgid, channel)
		}
	}
}

func (c *Client) failAllPromises(msgid, channel string) {
	for _, event := range allPromiseEvents {
		c.emit(event, msgid, channel)
	}
}

// storeModerators caches the /mods roster and merges it into the
// channel's moderator set.
func (c *Client) storeModerators(channel string, mods []string) {
	if mods == nil {
		mods = []string{}
	}
	c.rosters.Set("mods:"+channel, mods)

	st := c.channelState(channel)
	c.mu.Lock()
	for _, name := range mods {
		st.Mods[name] = true
	}
	c.mu.Unlock()
}

// parseNameList extracts the comma separated names from a roster NOTICE
// ("The moderators of this channel are: a, b, c"). An unrecognized
// reply yields an empty list.
func parseNameList(text string) []string {
	text = strings.TrimSuffix(text, ".")
	_, list, found := strings.Cut(text, ": ")
	if !found {
		return []string{}
	}

	names := make([]string, 0, 8)
	for _, name := range strings.Split(list, ", ") {
		name = NormalizeUsername(strings.TrimSpace(name))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// firstInt returns the first run of digits in text, or 0.
func firstInt(text string) int {
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] >= '0' && text[i] <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			n, _ := strconv.Atoi(text[start:i])
			return n
		}
	}
	return 0
}

// loginFailure recognizes the NOTICE bodies Twitch uses to reject the
// handshake. These arrive without a msg-id tag.
func loginFailure(text string) (string, bool) {
	switch {
	case strings.Contains(text, "Login unsuccessful"),
		strings.Contains(text, "Login authentication failed"),
		strings.Contains(text, "Error logging in"),
		strings.Contains(text, "Improperly formatted auth"):
		return text, true
	case strings.Contains(text, "Invalid NICK"):
		return "Invalid NICK.", true
	}
	return "", false
}

// failLogin aborts the handshake and keeps the supervisor from
// retrying with the same rejected credentials.
func (c *Client) failLogin(reason string) {
	c.mu.Lock()
	c.noReconnect = true
	c.mu.Unlock()

	c.log.Error("login rejected", nil, "reason", reason)
	c.emit("_connected", reason)
	c.handleDisconnect(reason)
}
