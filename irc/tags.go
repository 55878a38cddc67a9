package irc

import (
	"sort"
	"strconv"
	"strings"
)

// Tags is the tag map of a message. The parser fills it with decoded
// string values; Coerce and the Parse* helpers replace known fields with
// structured values (int, bool, map, EmotePositions) while keeping the
// original string under a "-raw" key where the field is composite.
type Tags map[string]any

// EmotePosition is a [start,end] rune index pair inside the message text.
type EmotePosition struct {
	Start int
	End   int
}

func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// String returns the tag as a string, converting coerced values back.
func (t Tags) String(key string) string {
	switch v := t[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	}
	return ""
}

// Int returns the tag as an integer, parsing string values on the fly.
// Missing and unparseable values yield 0.
func (t Tags) Int(key string) int {
	switch v := t[key].(type) {
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func (t Tags) Bool(key string) bool {
	switch v := t[key].(type) {
	case bool:
		return v
	case string:
		return v == "1"
	case int:
		return v != 0
	}
	return false
}

// Badges returns the structured badge map produced by ParseBadges.
func (t Tags) Badges() map[string]string {
	m, _ := t["badges"].(map[string]string)
	return m
}

// Emotes returns the structured emote map produced by ParseEmotes.
func (t Tags) Emotes() map[string][]EmotePosition {
	m, _ := t["emotes"].(map[string][]EmotePosition)
	return m
}

// Copy returns a shallow copy of the tag map.
func (t Tags) Copy() Tags {
	c := make(Tags, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

var tagUnescapes = map[byte]string{
	':':  ";",
	's':  " ",
	'\\': "\\",
	'r':  "\r",
	'n':  "\n",
}

// UnescapeTag decodes an IRCv3 tag value. A backslash followed by an
// unknown character yields the character itself.
func UnescapeTag(value string) string {
	if !strings.ContainsRune(value, '\\') {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i == len(value)-1 {
			b.WriteByte(value[i])
			continue
		}
		i++
		if repl, ok := tagUnescapes[value[i]]; ok {
			b.WriteString(repl)
		} else {
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

var tagEscapes = map[byte]string{
	';':  "\\:",
	' ':  "\\s",
	'\\': "\\\\",
	'\r': "\\r",
	'\n': "\\n",
}

// EscapeTag is the inverse of UnescapeTag.
func EscapeTag(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if repl, ok := tagEscapes[value[i]]; ok {
			b.WriteString(repl)
		} else {
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// FormTags renders a tag map as the "@k=v;..." message prefix. Nil values
// become bare keys, empty strings render as "key=". It returns "" for an
// empty map. Keys are emitted in sorted order so output is deterministic.
func FormTags(tags Tags) string {
	if len(tags) == 0 {
		return ""
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('@')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(EscapeTag(k))
		if tags[k] == nil {
			continue
		}
		b.WriteByte('=')
		b.WriteString(EscapeTag(tags.String(k)))
	}
	return b.String()
}

// ParseBadges splits the "badges" tag ("broadcaster/1,subscriber/12")
// into a map and keeps the original string under "badges-raw".
func ParseBadges(t Tags) {
	parseSlashList(t, "badges")
}

// ParseBadgeInfo does the same for the "badge-info" tag.
func ParseBadgeInfo(t Tags) {
	parseSlashList(t, "badge-info")
}

func parseSlashList(t Tags, key string) {
	raw, ok := t[key].(string)
	if !ok {
		return
	}

	t[key+"-raw"] = raw
	parsed := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		name, version, _ := strings.Cut(part, "/")
		parsed[name] = version
	}
	t[key] = parsed
}

// ParseEmotes decodes the "emotes" tag ("25:0-4,12-16/1902:6-10") into a
// map from emote id to its positions, keeping the original string under
// "emotes-raw".
func ParseEmotes(t Tags) {
	raw, ok := t["emotes"].(string)
	if !ok {
		return
	}

	t["emotes-raw"] = raw
	parsed := make(map[string][]EmotePosition)
	for _, part := range strings.Split(raw, "/") {
		if part == "" {
			continue
		}
		id, ranges, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		for _, r := range strings.Split(ranges, ",") {
			from, to, found := strings.Cut(r, "-")
			if !found {
				continue
			}
			start, err1 := strconv.Atoi(from)
			end, err2 := strconv.Atoi(to)
			if err1 != nil || err2 != nil {
				continue
			}
			parsed[id] = append(parsed[id], EmotePosition{Start: start, End: end})
		}
	}
	t["emotes"] = parsed
}

var numericTags = map[string]bool{
	"bits":                        true,
	"ban-duration":                true,
	"slow":                        true,
	"followers-only":              true,
	"msg-param-months":            true,
	"msg-param-cumulative-months": true,
	"msg-param-streak-months":     true,
	"msg-param-gift-months":       true,
	"msg-param-mass-gift-count":   true,
	"msg-param-viewerCount":       true,
	"msg-param-threshold":         true,
}

var booleanTags = map[string]bool{
	"mod":               true,
	"subscriber":        true,
	"turbo":             true,
	"first-msg":         true,
	"returning-chatter": true,
	"subs-only":         true,
	"emote-only":        true,
	"r9k":               true,
}

// Coerce converts known numeric tags to int and known flag tags to bool,
// leaving everything else as decoded strings.
func Coerce(t Tags) {
	for key, value := range t {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch {
		case numericTags[key]:
			if n, err := strconv.Atoi(s); err == nil {
				t[key] = n
			}
		case booleanTags[key]:
			t[key] = s == "1"
		}
	}
}
