package chat

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
)

// Message is one decoded user chat line.
type Message struct {
	// Author is the display name from the tag prefix, falling back to the
	// login nick from the line prefix.
	Author string
	Body   string
	// ID is the platform message identifier, empty when the line carried
	// no id tag.
	ID     string
	Emotes []dispatch.EmoteSpan
}

// bareMessagePattern matches an untagged chat line:
// :nick!user@host PRIVMSG #channel :body
var bareMessagePattern = regexp.MustCompile(`^:(\w+)!\S+ PRIVMSG #\S+ :(.*)$`)

// ParseLine decodes one raw protocol line into a Message, or nil if the line
// is not a user chat line (keep-alives, join/part notices, lines with no
// identity or no body).
func ParseLine(line string) *Message {
	if strings.HasPrefix(line, "@") {
		return parseTagged(line)
	}
	if m := bareMessagePattern.FindStringSubmatch(line); m != nil {
		if m[1] == "" || m[2] == "" {
			return nil
		}
		return &Message{Author: m[1], Body: m[2]}
	}
	return nil
}

// parseTagged handles lines carrying the metadata-tag prefix:
// @k=v;k=v :nick!user@host PRIVMSG #channel :body
func parseTagged(line string) *Message {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil
	}
	tags := parseTags(strings.TrimPrefix(parts[0], "@"))

	author := tags["display-name"]
	if author == "" {
		// Fall back to the login nick from the prefix.
		author = strings.TrimPrefix(strings.SplitN(parts[1], "!", 2)[0], ":")
	}

	// Body starts after the first " :" following the tags and prefix.
	var body string
	off := len(parts[0]) + len(parts[1])
	if idx := strings.Index(line[off:], " :"); idx >= 0 {
		body = line[off+idx+2:]
	}
	if author == "" || body == "" {
		return nil
	}

	return &Message{
		Author: author,
		Body:   body,
		ID:     tags["id"],
		Emotes: parseEmotes(tags["emotes"], body),
	}
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, t := range strings.Split(raw, ";") {
		if k, v, ok := strings.Cut(t, "="); ok {
			tags[k] = v
		}
	}
	return tags
}

// parseEmotes decodes the emote-position descriptor into spans ordered by
// first occurrence of the literal text in the body.
//
// Descriptor format: entries separated by "/", each "resourceId:range[,range...]".
// Only the first range per entry is used. Ranges are inclusive start-end
// offsets in UTF-16 code units; anything outside the body is skipped.
// Duplicate literal text collapses with the last-parsed resource id winning.
func parseEmotes(descriptor, body string) []dispatch.EmoteSpan {
	if descriptor == "" {
		return nil
	}
	units := utf16.Encode([]rune(body))

	byText := make(map[string]string)
	for _, entry := range strings.Split(descriptor, "/") {
		id, ranges, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		first := strings.Split(ranges, ",")[0]
		startStr, endStr, ok := strings.Cut(first, "-")
		if !ok {
			continue
		}
		start, err := strconv.Atoi(startStr)
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(endStr)
		if err != nil {
			continue
		}
		end++ // inclusive to exclusive
		if start < 0 || end > len(units) || start >= end {
			continue
		}
		byText[string(utf16.Decode(units[start:end]))] = id
	}
	if len(byText) == 0 {
		return nil
	}

	spans := make([]dispatch.EmoteSpan, 0, len(byText))
	for text, id := range byText {
		spans = append(spans, dispatch.EmoteSpan{Text: text, ResourceID: id})
	}
	sort.Slice(spans, func(i, j int) bool {
		return strings.Index(body, spans[i].Text) < strings.Index(body, spans[j].Text)
	})
	return spans
}
