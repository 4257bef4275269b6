package telegram

import (
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLen is the Bot API limit on message length, counted in UTF-16
// code units.
const MaxMessageLen = 4096

// markdownV2Special lists the characters MarkdownV2 requires to be escaped.
const markdownV2Special = "\\_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes text for parse_mode MarkdownV2 so it renders
// literally.
func EscapeMarkdownV2(text string) string {
	// The library escaper does not handle backslashes; they go first.
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, strings.ReplaceAll(text, `\`, `\\`))
}

// escapedRuneLen is the UTF-16 length of r after escaping. Runes outside the
// Basic Multilingual Plane (most emoji) take two units.
func escapedRuneLen(r rune) int {
	if strings.ContainsRune(markdownV2Special, r) {
		return 2
	}
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

func escapedLen(s string) int {
	n := 0
	for _, r := range s {
		n += escapedRuneLen(r)
	}
	return n
}

// SplitMessage splits text into chunks whose escaped form fits in limit
// UTF-16 code units. It prefers newline boundaries and cuts inside a line only
// when the line alone is too long.
func SplitMessage(text string, limit int) []string {
	if limit < 2 {
		limit = 2
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.Trim(cur.String(), "\n"); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := escapedLen(line)
		if curLen+n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		flush()
		for n > limit {
			cut, used := 0, 0
			for i, r := range line {
				c := escapedRuneLen(r)
				if used+c > limit {
					cut = i
					break
				}
				used += c
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
			n = escapedLen(line)
		}
		cur.WriteString(line)
		curLen = n
	}
	flush()
	return chunks
}
