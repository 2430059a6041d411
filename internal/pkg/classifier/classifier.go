// Package classifier turns one line of chat activity into a notification or
// a decision to drop it.
//
// Classification never fails: malformed or uninteresting input is dropped
// with a Reason. Tags are parsed once into a Tag and then scanned in order;
// suppressing tags end the scan immediately and a filter that rejects the
// current tag stops it, keeping whatever name an earlier tag settled on.
package classifier

import (
	"strings"

	"github.com/endorses/notibridge/internal/pkg/filtering"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/types"
)

// DefaultProtocol is the chat protocol served when none is configured
const DefaultProtocol = "irc"

// Notification categories
const (
	CategoryChat     = "chat"
	CategoryIM       = "im"
	CategoryPresence = "presence"
)

// Notification names
const (
	NameReceived  = "received"
	NameHighlight = "highlight"
	NameJoin      = "join"
	NameLeave     = "leave"
	NameSignedOn  = "signed-on"
	NameSignedOff = "signed-off"
	NameBack      = "back"
	NameAway      = "away"
	NameMessage   = "message"
)

// Reason explains a drop. The set is small and fixed so it can label metrics.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNotDisplayed   Reason = "not_displayed"
	ReasonNoBuffer       Reason = "no_buffer"
	ReasonForeignBuffer  Reason = "foreign_buffer"
	ReasonFocusedBuffer  Reason = "focused_buffer"
	ReasonNotConnected   Reason = "not_connected"
	ReasonBufferKind     Reason = "buffer_kind"
	ReasonSuppressed     Reason = "suppressed"
	ReasonFiltered       Reason = "filtered"
	ReasonUnclassified   Reason = "unclassified"
	ReasonNickRestricted Reason = "nick_restricted"
)

// Reasons lists every drop reason
var Reasons = []Reason{
	ReasonNotDisplayed, ReasonNoBuffer, ReasonForeignBuffer, ReasonFocusedBuffer,
	ReasonNotConnected, ReasonBufferKind, ReasonSuppressed, ReasonFiltered,
	ReasonUnclassified, ReasonNickRestricted,
}

// Result is the outcome of classifying one record. Exactly one of Drop and
// Notification is meaningful.
type Result struct {
	Drop         bool
	Reason       Reason
	Notification *types.Notification
}

func drop(r Reason) Result {
	return Result{Drop: true, Reason: r}
}

// FilterSource supplies the live filter set
type FilterSource interface {
	Filters() *filtering.FilterSet
}

// ConnectionStatus reports whether notifications can currently be delivered
type ConnectionStatus interface {
	IsConnected() bool
}

// StaticFilters serves a fixed filter set
type StaticFilters struct {
	Set *filtering.FilterSet
}

// Filters implements FilterSource
func (s StaticFilters) Filters() *filtering.FilterSet {
	if s.Set == nil {
		return filtering.NewFilterSet()
	}
	return s.Set
}

// Classifier holds the collaborators classification reads from
type Classifier struct {
	protocol  string
	tagPrefix string
	filters   FilterSource
	status    ConnectionStatus
}

// New creates a classifier for protocol ("" means DefaultProtocol)
func New(protocol string, filters FilterSource, status ConnectionStatus) *Classifier {
	if protocol == "" {
		protocol = DefaultProtocol
	}
	return &Classifier{
		protocol:  protocol,
		tagPrefix: protocol + "_",
		filters:   filters,
		status:    status,
	}
}

// Protocol returns the served protocol
func (c *Classifier) Protocol() string {
	return c.protocol
}

// Classify decides what to do with rec
func (c *Classifier) Classify(rec *types.ActivityRecord) Result {
	if rec == nil {
		return drop(ReasonNotDisplayed)
	}
	res := c.classify(rec)
	if res.Drop {
		logger.Debug("Dropping activity", "reason", res.Reason, "tags", rec.Tags)
	} else {
		logger.Debug("Classified activity", "notification", res.Notification.String())
	}
	return res
}

func (c *Classifier) classify(rec *types.ActivityRecord) Result {
	if !rec.Displayed {
		return drop(ReasonNotDisplayed)
	}
	buf := rec.Buffer
	if buf == nil {
		return drop(ReasonNoBuffer)
	}
	if buf.Plugin != c.protocol {
		return drop(ReasonForeignBuffer)
	}

	set := c.filters.Filters()
	if set.IgnoreCurrentBuffer() && rec.FocusedBuffer != "" && rec.FocusedBuffer == buf.Name {
		return drop(ReasonFocusedBuffer)
	}
	if !c.status.IsConnected() {
		return drop(ReasonNotConnected)
	}

	var category string
	switch buf.Kind {
	case types.BufferChannel:
		category = CategoryChat
	case types.BufferPrivate:
		category = CategoryIM
	default:
		return drop(ReasonBufferKind)
	}

	var (
		name    string
		nick    string
		stopped bool
		message = rec.Message
		target  = buf.Channel
	)

	// highlighted reports whether the line goes out as a highlight; it
	// does not end the scan so a later nick_ tag is still picked up
	highlighted := func() bool {
		return rec.Highlight && set.Get(filtering.KindHighlight).Allows(target)
	}

scan:
	for _, tag := range ParseTags(rec.Tags, c.tagPrefix) {
		switch tag.Kind {
		case TagSuppress:
			return drop(ReasonSuppressed)

		case TagNick:
			nick = tag.Payload

		case TagPrivmsg:
			if highlighted() {
				name = NameHighlight
				continue
			}
			kind := filtering.KindChat
			if category == CategoryIM {
				kind = filtering.KindIM
			}
			if !set.Get(kind).Allows(target) {
				stopped = true
				break scan
			}
			name = NameReceived

		case TagNotice:
			category = CategoryIM
			if highlighted() {
				name = NameHighlight
				continue
			}
			if !set.Get(filtering.KindNotice).Allows(target) {
				stopped = true
				break scan
			}
			name = NameReceived

		case TagAction:
			if !set.Get(filtering.KindAction).Allows(target) {
				stopped = true
				break scan
			}
			if name == "" {
				name = NameReceived
			}

		case TagNotify:
			category = CategoryPresence
			if !set.Get(filtering.KindNotify).Allows(target) {
				stopped = true
				break scan
			}
			switch tag.Payload {
			case "join":
				name = NameSignedOn
			case "quit":
				name = NameSignedOff
			case "back":
				name = NameBack
			case "away":
				name = NameAway
				message = ExtractQuoted(rec.Message)
			case "still_away":
				name = NameMessage
				message = ExtractQuoted(rec.Message)
			}

		case TagJoin:
			if !set.Get(filtering.KindJoin).Allows(target) {
				stopped = true
				break scan
			}
			name = NameJoin

		case TagLeave:
			if !set.Get(filtering.KindLeave).Allows(target) {
				stopped = true
				break scan
			}
			name = NameLeave

		case TagQuit:
			if !set.Get(filtering.KindQuit).Allows(target) {
				stopped = true
				break scan
			}
			name = NameSignedOff
		}
	}

	if category == "" || name == "" {
		if stopped {
			return drop(ReasonFiltered)
		}
		return drop(ReasonUnclassified)
	}

	nickFilter := set.Get(filtering.KindNick)
	if nick != "" {
		if !nickFilter.Allows(nick) {
			return drop(ReasonNickRestricted)
		}
	} else if nickFilter.RequiresMatch() {
		return drop(ReasonNickRestricted)
	}

	n := &types.Notification{Category: category, Name: name}
	n.Fields = append(n.Fields, types.Field{Key: types.FieldMessage, Value: message})
	if nick != "" {
		n.Fields = append(n.Fields, types.Field{Key: types.FieldBuddyName, Value: nick})
	}
	if buf.Kind == types.BufferChannel {
		n.Fields = append(n.Fields, types.Field{Key: types.FieldChannel, Value: buf.Channel})
	}
	return Result{Notification: n}
}

// ExtractQuoted returns the text between the first two double quotes of s,
// or s itself when it has fewer than two.
func ExtractQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return s
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return s
	}
	return s[start+1 : start+1+end]
}
