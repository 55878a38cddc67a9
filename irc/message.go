package irc

import "strings"

// Message is a single IRC line split into its wire components. Raw keeps
// the line as received, without the trailing CRLF.
type Message struct {
	Raw     string
	Tags    Tags
	Prefix  string
	Command string
	Params  []string
}

// Param returns the parameter at index i or "" when the message carries
// fewer parameters.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Nick extracts the nickname part of the prefix (everything before "!").
func (m *Message) Nick() string {
	if m.Prefix == "" {
		return ""
	}
	if idx := strings.IndexByte(m.Prefix, '!'); idx != -1 {
		return m.Prefix[:idx]
	}
	return m.Prefix
}
