package chat

import (
	"reflect"
	"testing"

	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
)

func TestParseLine_TaggedMessage(t *testing.T) {
	line := `@badge-info=;display-name=Alice;emotes=25:6-10;id=abc-123 :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :Hello Kappa world`

	msg := ParseLine(line)
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Author != "Alice" {
		t.Errorf("author: got %q, want Alice", msg.Author)
	}
	if msg.Body != "Hello Kappa world" {
		t.Errorf("body: got %q", msg.Body)
	}
	if msg.ID != "abc-123" {
		t.Errorf("id: got %q", msg.ID)
	}
	want := []dispatch.EmoteSpan{{Text: "Kappa", ResourceID: "25"}}
	if !reflect.DeepEqual(msg.Emotes, want) {
		t.Errorf("emotes: got %v, want %v", msg.Emotes, want)
	}
}

func TestParseLine_BareMessage(t *testing.T) {
	msg := ParseLine(":bob!bob@bob.tmi.twitch.tv PRIVMSG #somechannel :hi there")
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Author != "bob" || msg.Body != "hi there" {
		t.Errorf("got author=%q body=%q", msg.Author, msg.Body)
	}
	if msg.ID != "" || msg.Emotes != nil {
		t.Errorf("bare message should have no id or emotes, got id=%q emotes=%v", msg.ID, msg.Emotes)
	}
}

func TestParseLine_DisplayNameFallsBackToNick(t *testing.T) {
	line := `@badge-info=;emotes=;id=xyz :carol!carol@carol.tmi.twitch.tv PRIVMSG #somechannel :no display name`
	msg := ParseLine(line)
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Author != "carol" {
		t.Errorf("author: got %q, want carol", msg.Author)
	}
}

func TestParseLine_ControlLinesIgnored(t *testing.T) {
	lines := []string{
		"PING :tmi.twitch.tv",
		":tmi.twitch.tv 001 somebot :Welcome, GLHF!",
		":alice!alice@alice.tmi.twitch.tv JOIN #somechannel",
		":alice!alice@alice.tmi.twitch.tv PART #somechannel",
		"",
		"garbage without structure",
	}
	for _, line := range lines {
		if msg := ParseLine(line); msg != nil {
			t.Errorf("line %q: expected nil, got %+v", line, msg)
		}
	}
}

func TestParseEmotes_MultipleRangesFirstOnly(t *testing.T) {
	// Two occurrences of the same emote: only the first range is decoded,
	// but the span covers every occurrence by literal text.
	body := "Kappa and Kappa"
	spans := parseEmotes("25:0-4,10-14", body)
	want := []dispatch.EmoteSpan{{Text: "Kappa", ResourceID: "25"}}
	if !reflect.DeepEqual(spans, want) {
		t.Errorf("got %v, want %v", spans, want)
	}
}

func TestParseEmotes_OrderedByFirstOccurrence(t *testing.T) {
	body := "PogChamp then Kappa"
	spans := parseEmotes("25:14-18/305954156:0-7", body)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Text != "PogChamp" || spans[1].Text != "Kappa" {
		t.Errorf("order: got %v", spans)
	}
}

func TestParseEmotes_OutOfRangeSkipped(t *testing.T) {
	spans := parseEmotes("25:6-100", "short")
	if spans != nil {
		t.Errorf("got %v, want nil", spans)
	}
	spans = parseEmotes("25:-3-2", "short")
	if spans != nil {
		t.Errorf("negative start: got %v, want nil", spans)
	}

	// A bogus descriptor never damages the message itself.
	line := `@display-name=Alice;emotes=25:6-100;id=abc :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :short`
	msg := ParseLine(line)
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Body != "short" || msg.Emotes != nil {
		t.Errorf("got body=%q emotes=%v", msg.Body, msg.Emotes)
	}
}

func TestParseEmotes_MalformedEntriesSkipped(t *testing.T) {
	body := "Hello Kappa world"
	spans := parseEmotes("garbage/25:6-10/55:nope", body)
	want := []dispatch.EmoteSpan{{Text: "Kappa", ResourceID: "25"}}
	if !reflect.DeepEqual(spans, want) {
		t.Errorf("got %v, want %v", spans, want)
	}
}

func TestParseEmotes_SurrogatePairOffsets(t *testing.T) {
	// The leading astral-plane rune occupies two UTF-16 code units, so the
	// emote's offsets are shifted relative to rune counts.
	body := "\U0001F600 Kappa"
	spans := parseEmotes("25:3-7", body)
	want := []dispatch.EmoteSpan{{Text: "Kappa", ResourceID: "25"}}
	if !reflect.DeepEqual(spans, want) {
		t.Errorf("got %v, want %v", spans, want)
	}
}

func TestParseTagged_DuplicateLiteralLastWins(t *testing.T) {
	// Two descriptor entries decode to the same literal text; the later
	// entry's resource id replaces the earlier one.
	body := "Kappa"
	spans := parseEmotes("111:0-4/222:0-4", body)
	want := []dispatch.EmoteSpan{{Text: "Kappa", ResourceID: "222"}}
	if !reflect.DeepEqual(spans, want) {
		t.Errorf("got %v, want %v", spans, want)
	}
}

func TestParseTagged_EmptyBodyIgnored(t *testing.T) {
	line := `@display-name=Alice;id=abc :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :`
	if msg := ParseLine(line); msg != nil {
		t.Errorf("expected nil for empty body, got %+v", msg)
	}
}

func TestParseTagged_BodyContainsColons(t *testing.T) {
	line := `@display-name=Alice;id=abc :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :see https://example.com :)`
	msg := ParseLine(line)
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Body != "see https://example.com :)" {
		t.Errorf("body: got %q", msg.Body)
	}
}
