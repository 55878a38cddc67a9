package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitchtmi/events"
	"twitchtmi/irc"
)

func TestSay_PlainMessageEchoes(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	echo, _ := c.events.Waiter("message", nil)
	channel, message, err := c.Say("Room", "hello chat")
	require.NoError(t, err)
	assert.Equal(t, "#room", channel)
	assert.Equal(t, "hello chat", message)

	assert.Equal(t, "PRIVMSG #room :hello chat", expectWrite(t, conn, "PRIVMSG"))

	args, err := echo(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "#room", args[0])
	tags := args[1].(irc.Tags)
	assert.Equal(t, "bot", tags.String("username"))
	assert.Equal(t, "hello chat", args[2])
	assert.Equal(t, true, args[3])
}

func TestSay_SlashRoutesAsCommand(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	echo, _ := c.events.Waiter("message", nil)
	_, _, err := c.Say("#room", "/slow 10")
	require.NoError(t, err)

	assert.Equal(t, "PRIVMSG #room :/slow 10", expectWrite(t, conn, "PRIVMSG"))

	// commands are not echoed back as self messages
	_, err = echo(50 * time.Millisecond)
	assert.ErrorIs(t, err, events.ErrTimeout)
}

func TestSay_DoubleDotEscapesCommandPrefix(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	echo, _ := c.events.Waiter("message", nil)
	_, _, err := c.Say("#room", "..hi")
	require.NoError(t, err)

	assert.Equal(t, "PRIVMSG #room :..hi", expectWrite(t, conn, "PRIVMSG"))
	_, err = echo(time.Second)
	require.NoError(t, err)
}

func TestSay_MeBecomesAction(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	action, _ := c.events.Waiter("action", nil)
	_, message, err := c.Say("#room", "/me waves")
	require.NoError(t, err)
	assert.Equal(t, "waves", message)

	assert.Equal(t, "PRIVMSG #room :\x01ACTION waves\x01", expectWrite(t, conn, "PRIVMSG"))

	args, err := action(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "waves", args[2])
	assert.Equal(t, true, args[3])
}

func TestSay_PaginatesLongMessages(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	head := strings.Repeat("a", 490)
	tail := strings.Repeat("b", 60)
	_, _, err := c.Say("#room", head+" "+tail)
	require.NoError(t, err)

	assert.Equal(t, "PRIVMSG #room :"+head, expectWrite(t, conn, "PRIVMSG"))
	assert.Equal(t, "PRIVMSG #room :"+tail, expectWrite(t, conn, "PRIVMSG"))
}

func TestReply_RequiresParentID(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	_, _, err := c.Reply("#room", "hi", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClient)

	_, _, err = c.Reply("#room", "hi", "m1")
	require.NoError(t, err)
	assert.Equal(t, "@reply-parent-msg-id=m1 PRIVMSG #room :hi", expectWrite(t, conn, "@reply-parent-msg-id"))
}

func TestBan_ResolvesOnNotice(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	banEvent, _ := c.events.Waiter("ban", nil)
	notice, _ := c.events.Waiter("notice", nil)

	type result struct {
		channel, username, reason string
		err                       error
	}
	done := make(chan result, 1)
	go func() {
		channel, username, reason, err := c.Ban(context.Background(), "#room", "BadUser", "spam")
		done <- result{channel, username, reason, err}
	}()

	assert.Equal(t, "PRIVMSG #room :/ban baduser spam", expectWrite(t, conn, "PRIVMSG"))
	conn.serve("@msg-id=ban_success :tmi.twitch.tv NOTICE #room :baduser is now banned from this channel.")

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "#room", r.channel)
	assert.Equal(t, "baduser", r.username)
	assert.Equal(t, "spam", r.reason)

	args, err := banEvent(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "#room", args[0])
	assert.Equal(t, "baduser", args[1])
	assert.Equal(t, "spam", args[2])

	args, err = notice(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ban_success", args[1])
}

func TestBan_FailureCarriesMsgID(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, _, _, err := c.Ban(context.Background(), "#room", "bot", "")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #room :/ban bot")
	conn.serve("@msg-id=bad_ban_self :tmi.twitch.tv NOTICE #room :You cannot ban yourself.")

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "ban", cmdErr.Command)
	assert.Equal(t, "#room", cmdErr.Channel)
	assert.Equal(t, "bad_ban_self", cmdErr.Reason)
}

func TestTimeout_DefaultsDuration(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, _, seconds, _, err := c.Timeout(context.Background(), "#room", "alice", 0, "")
		if err == nil && seconds != 300 {
			err = errors.New("default duration not applied")
		}
		done <- err
	}()

	assert.Equal(t, "PRIVMSG #room :/timeout alice 300", expectWrite(t, conn, "PRIVMSG"))
	conn.serve("@msg-id=timeout_success :tmi.twitch.tv NOTICE #room :alice has been timed out.")
	require.NoError(t, <-done)
}

func TestCommandTimeout_RemovesListener(t *testing.T) {
	c, conn := newTestClient(t, func(o *Options) { o.CommandTimeout = 50 * time.Millisecond })
	connect(t, c, conn)

	_, _, err := c.Slow(context.Background(), "#room", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, 0, c.events.ListenerCount("_promiseSlow"))
}

func TestCommandCancel_RemovesListener(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Clear(ctx, "#room")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #room :/clear")
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool {
		return c.events.ListenerCount("_promiseClear") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMods_ParsesRoster(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	type result struct {
		mods []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		mods, err := c.Mods(context.Background(), "#room")
		done <- result{mods, err}
	}()

	expectWrite(t, conn, "PRIVMSG #room :/mods")
	conn.serve("@msg-id=room_mods :tmi.twitch.tv NOTICE #room :The moderators of this channel are: Alice, bob_the_mod")

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []string{"alice", "bob_the_mod"}, r.mods)
	assert.True(t, c.IsMod("#room", "alice"))
}

func TestVips_EmptyRoster(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	type result struct {
		vips []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vips, err := c.Vips(context.Background(), "#room")
		done <- result{vips, err}
	}()

	expectWrite(t, conn, "PRIVMSG #room :/vips")
	conn.serve("@msg-id=no_vips :tmi.twitch.tv NOTICE #room :This channel does not have any VIPs.")

	r := <-done
	require.NoError(t, r.err)
	assert.Empty(t, r.vips)
}

func TestHost_ReturnsRemaining(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	type result struct {
		remaining int
		err       error
	}
	done := make(chan result, 1)
	go func() {
		_, _, remaining, err := c.Host(context.Background(), "#room", "Target")
		done <- result{remaining, err}
	}()

	expectWrite(t, conn, "PRIVMSG #room :/host target")
	conn.serve("@msg-id=hosts_remaining :tmi.twitch.tv NOTICE #room :2 host commands remaining this half hour.")

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.remaining)
}

func TestJoin_ResolvesOnConfirmation(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, err := c.Join(context.Background(), "Room")
		done <- err
	}()

	assert.Equal(t, "JOIN #room", expectWrite(t, conn, "JOIN"))
	conn.serve(":bot!bot@bot.tmi.twitch.tv JOIN #room")
	require.NoError(t, <-done)
	assert.Equal(t, []string{"#room"}, c.GetChannels())
}

func TestJoin_AllowedAnonymously(t *testing.T) {
	c, conn := newTestClient(t, func(o *Options) { o.Identity = Identity{} })
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, err := c.Join(context.Background(), "#room")
		done <- err
	}()

	expectWrite(t, conn, "JOIN #room")
	conn.serve(":" + c.GetUsername() + "!x@x.tmi.twitch.tv JOIN #room")
	require.NoError(t, <-done)
}

func TestPart_ResolvesOnConfirmation(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	conn.serve(":bot!bot@bot.tmi.twitch.tv JOIN #room")
	require.Eventually(t, func() bool {
		return len(c.GetChannels()) == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Part(context.Background(), "#room")
		done <- err
	}()

	assert.Equal(t, "PART #room", expectWrite(t, conn, "PART"))
	conn.serve(":bot!bot@bot.tmi.twitch.tv PART #room")
	require.NoError(t, <-done)
	assert.Empty(t, c.GetChannels())
}

func TestPing_MeasuresLatency(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	type result struct {
		latency float64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		latency, err := c.Ping(context.Background())
		done <- result{latency, err}
	}()

	expectWrite(t, conn, "PING :tmi.twitch.tv")
	conn.serve(":tmi.twitch.tv PONG tmi.twitch.tv :tmi.twitch.tv")

	r := <-done
	require.NoError(t, r.err)
	assert.GreaterOrEqual(t, r.latency, 0.0)
	assert.GreaterOrEqual(t, c.Latency(), 0.0)
}

func TestWhisper_RejectsSelf(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	_, _, err := c.Whisper(context.Background(), "bot", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClient)
}

func TestWhisper_FailureNotice(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Whisper(context.Background(), "alice", "hi")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #tmijs :/w alice hi")
	conn.serve("@msg-id=whisper_restricted :tmi.twitch.tv NOTICE #tmijs :Your settings prevent you from sending this whisper.")

	err := <-done
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "whisper_restricted", cmdErr.Reason)
}

func TestUnknownCommand_FailsPending(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, err := c.EmoteOnly(context.Background(), "#room")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #room :/emoteonly")
	conn.serve(":tmi.twitch.tv 421 bot EMOTEONLY :Unknown command")

	err := <-done
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "unrecognized_cmd", cmdErr.Reason)
}

func TestBroadcastFailure_FailsPending(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Mod(context.Background(), "#room", "alice")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #room :/mod alice")
	conn.serve("@msg-id=no_permission :tmi.twitch.tv NOTICE #room :You don't have permission to perform that action.")

	err := <-done
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "no_permission", cmdErr.Reason)
}

func TestCommands_RequireConnection(t *testing.T) {
	c := New(testOptions())

	_, _, err := c.Say("#room", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, _, _, err = c.Ban(context.Background(), "#room", "alice", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Join(context.Background(), "#room")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, c.Raw("PING"), ErrNotConnected)
}

func TestCommands_RejectAnonymousSpeech(t *testing.T) {
	c, conn := newTestClient(t, func(o *Options) { o.Identity = Identity{} })
	connect(t, c, conn)

	_, _, err := c.Say("#room", "hi")
	assert.ErrorIs(t, err, ErrAnonymous)

	_, _, err = c.Action("#room", "waves")
	assert.ErrorIs(t, err, ErrAnonymous)

	_, _, _, err = c.Ban(context.Background(), "#room", "alice", "")
	assert.ErrorIs(t, err, ErrAnonymous)
}

func TestColor_UsesDefaultChannel(t *testing.T) {
	c, conn := newTestClient(t, nil)
	connect(t, c, conn)

	done := make(chan error, 1)
	go func() {
		_, err := c.Color(context.Background(), "SpringGreen")
		done <- err
	}()

	expectWrite(t, conn, "PRIVMSG #tmijs :/color SpringGreen")
	conn.serve("@msg-id=color_changed :tmi.twitch.tv NOTICE #tmijs :Your color has been changed.")
	require.NoError(t, <-done)
}
