package classifier

import "strings"

// TagKind is the meaning of one line tag once parsed
type TagKind int

const (
	TagUnknown  TagKind = iota // no meaning to the bridge
	TagSkip                    // log*, no_*
	TagSuppress                // away_info, notify_none
	TagPrivmsg
	TagNotice
	TagAction
	TagNotify // Payload holds the suffix (join, quit, back, away, still_away)
	TagJoin
	TagLeave
	TagQuit
	TagNick // Payload holds the nickname
)

var tagKindNames = [...]string{
	TagUnknown:  "unknown",
	TagSkip:     "skip",
	TagSuppress: "suppress",
	TagPrivmsg:  "privmsg",
	TagNotice:   "notice",
	TagAction:   "action",
	TagNotify:   "notify",
	TagJoin:     "join",
	TagLeave:    "leave",
	TagQuit:     "quit",
	TagNick:     "nick",
}

func (k TagKind) String() string {
	if k >= 0 && int(k) < len(tagKindNames) {
		return tagKindNames[k]
	}
	return "invalid"
}

// Tag is a parsed line tag
type Tag struct {
	Kind    TagKind
	Payload string
	Raw     string
}

// ParseTag interprets a single tag. prefix is the protocol tag prefix
// including its separator, e.g. "irc_".
func ParseTag(raw, prefix string) Tag {
	t := Tag{Raw: raw}

	switch {
	case strings.HasPrefix(raw, "log"), strings.HasPrefix(raw, "no_"):
		t.Kind = TagSkip
	case raw == "away_info", raw == "notify_none":
		t.Kind = TagSuppress
	case strings.HasPrefix(raw, "nick_"):
		t.Kind = TagNick
		t.Payload = raw[len("nick_"):]
	case prefix != "" && strings.HasPrefix(raw, prefix):
		parseProtocolTag(&t, raw[len(prefix):])
	}
	return t
}

func parseProtocolTag(t *Tag, cmd string) {
	switch cmd {
	case "privmsg":
		t.Kind = TagPrivmsg
	case "notice":
		t.Kind = TagNotice
	case "action":
		t.Kind = TagAction
	case "join":
		t.Kind = TagJoin
	case "leave":
		t.Kind = TagLeave
	case "quit":
		t.Kind = TagQuit
	default:
		if suffix, ok := strings.CutPrefix(cmd, "notify_"); ok {
			t.Kind = TagNotify
			t.Payload = suffix
		}
	}
}

// ParseTags parses every tag of a line, keeping their order
func ParseTags(raw []string, prefix string) []Tag {
	tags := make([]Tag, len(raw))
	for i, r := range raw {
		tags[i] = ParseTag(r, prefix)
	}
	return tags
}
