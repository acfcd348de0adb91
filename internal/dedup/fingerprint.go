package dedup

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	reTags   = regexp.MustCompile(`<[^>]*>`)
	reSpaces = regexp.MustCompile(`\s+`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
)

// Normalize strips markup, unifies typographic quotes and collapses
// whitespace so that re-rendered copies of an utterance compare equal.
func Normalize(text string) string {
	s := reTags.ReplaceAllString(text, "")
	s = quoteReplacer.Replace(s)
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ContentHash is a 16 hex character xxhash of the normalized text.
func ContentHash(text string) string {
	h := xxhash.Sum64String(Normalize(text))
	s := strconv.FormatUint(h, 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

// Fingerprint identifies a message for dedup. With an authoritative id it is
// "id:hash", so a reused id carrying new text is a different message; without
// one it is the content hash alone.
func Fingerprint(id, text string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id + ":" + ContentHash(text)
	}
	return ContentHash(text)
}
