package postman

import (
	"strings"
	"unicode/utf8"
)

// Quoting conventions for replies.
const (
	ReplyPrefix = "Re: "
	QuoteIndent = "> "
	WrapWidth   = 55
)

// FormatSubject prefixes subject with "Re: " unless it already starts with
// it, ignoring case.
func FormatSubject(subject string) string {
	if len(subject) >= len(ReplyPrefix) && strings.EqualFold(subject[:len(ReplyPrefix)], ReplyPrefix) &&
		!strings.ContainsAny(subject, "\r\n") {
		return subject
	}
	return ReplyPrefix + subject
}

// FormatBody quotes body as written by sender: every line is wrapped to
// WrapWidth columns, indent included, and prefixed with "> ".
func FormatBody(sender, body string) string {
	lines := splitLines(body)
	quoted := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			quoted = append(quoted, QuoteIndent)
			continue
		}
		quoted = append(quoted, wrapLine(line, QuoteIndent, WrapWidth)...)
	}
	return "\n\n" + sender + " wrote:\n" + strings.Join(quoted, "\n") + "\n"
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// wrapLine fills words into lines of at most width runes, each starting
// with indent. Words longer than a line are split.
func wrapLine(line, indent string, width int) []string {
	room := width - utf8.RuneCountInString(indent)
	if room < 1 {
		room = 1
	}
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{indent}
	}

	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		out = append(out, indent+cur.String())
		cur.Reset()
		n = 0
	}
	for _, w := range words {
		for utf8.RuneCountInString(w) > room {
			if n > 0 {
				flush()
			}
			r := []rune(w)
			cur.WriteString(string(r[:room]))
			n = room
			flush()
			w = string(r[room:])
		}
		wl := utf8.RuneCountInString(w)
		if wl == 0 {
			continue
		}
		if n > 0 && n+1+wl > room {
			flush()
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(w)
		n += wl
	}
	if n > 0 {
		flush()
	}
	return out
}

// obfuscateEmail hides most of the local part of a visitor address.
func obfuscateEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}

// Quote is a prefilled reply form.
type Quote struct {
	Subject string
	Body    string
}
