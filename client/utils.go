package client

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"unicode/utf8"
)

var justinfanRe = regexp.MustCompile(`^justinfan\d+$`)

// NormalizeChannel lowercases a channel name and ensures exactly one
// leading "#".
func NormalizeChannel(name string) string {
	return "#" + strings.TrimLeft(strings.ToLower(name), "#")
}

// NormalizeUsername lowercases a username and strips a leading "#".
func NormalizeUsername(name string) string {
	return strings.TrimPrefix(strings.ToLower(name), "#")
}

func justinfan() string {
	return fmt.Sprintf("justinfan%d", 1000+rand.Intn(89000))
}

func isJustinfan(name string) bool {
	return justinfanRe.MatchString(name)
}

// normalizePassword ensures a non-empty token carries the "oauth:"
// prefix exactly once.
func normalizePassword(password string) string {
	if password == "" {
		return ""
	}
	token := password
	if len(token) >= 6 && strings.EqualFold(token[:6], "oauth:") {
		token = token[6:]
	}
	if token == "" {
		return ""
	}
	return "oauth:" + token
}

// actionText strips the CTCP ACTION wrapper and reports whether the
// message carried one.
func actionText(msg string) (string, bool) {
	if strings.HasPrefix(msg, "\x01ACTION ") && strings.HasSuffix(msg, "\x01") && len(msg) > 9 {
		return msg[8 : len(msg)-1], true
	}
	return msg, false
}

// isCommandMessage reports whether a chat message should be sent as a
// slash command instead of plain text. ".." escapes the dot prefix.
func isCommandMessage(msg string) bool {
	if strings.HasPrefix(msg, "/") || strings.HasPrefix(msg, "\\") {
		return true
	}
	return strings.HasPrefix(msg, ".") && !strings.HasPrefix(msg, "..")
}

// paginate splits a message into chunks of at most limit bytes,
// preferring to break at a space and never splitting a rune.
func paginate(msg string, limit int) []string {
	var chunks []string
	for len(msg) > limit {
		cut := strings.LastIndexByte(msg[:limit], ' ')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = strings.TrimLeft(msg[cut:], " ")
	}
	return append(chunks, msg)
}
