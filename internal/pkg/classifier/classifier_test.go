package classifier

import (
	"testing"

	"github.com/endorses/notibridge/internal/pkg/filtering"
	"github.com/endorses/notibridge/internal/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

func newClassifier(t *testing.T, specs map[filtering.Kind]string) *Classifier {
	t.Helper()
	set, err := filtering.ParseSet(specs, false)
	require.NoError(t, err)
	return New("", StaticFilters{Set: set}, connected(true))
}

func channelRecord(tags ...string) *types.ActivityRecord {
	return &types.ActivityRecord{
		Displayed: true,
		Buffer: &types.BufferInfo{
			Plugin:  "irc",
			Kind:    types.BufferChannel,
			Name:    "libera.#go",
			Channel: "#go",
		},
		Tags:    tags,
		Message: "hello there",
	}
}

func privateRecord(tags ...string) *types.ActivityRecord {
	return &types.ActivityRecord{
		Displayed: true,
		Buffer: &types.BufferInfo{
			Plugin:  "irc",
			Kind:    types.BufferPrivate,
			Name:    "libera.alice",
			Channel: "alice",
		},
		Tags:    tags,
		Message: "psst",
	}
}

func TestClassify_PrivmsgWithNick(t *testing.T) {
	c := newClassifier(t, nil)

	res := c.Classify(channelRecord("irc_privmsg", "nick_alice"))
	require.False(t, res.Drop, "reason: %s", res.Reason)
	assert.Equal(t, &types.Notification{
		Category: "chat",
		Name:     "received",
		Fields: []types.Field{
			{Key: types.FieldMessage, Value: "hello there"},
			{Key: types.FieldBuddyName, Value: "alice"},
			{Key: types.FieldChannel, Value: "#go"},
		},
	}, res.Notification)
}

func TestClassify_PrivateMessage(t *testing.T) {
	c := newClassifier(t, nil)

	res := c.Classify(privateRecord("irc_privmsg", "notify_private", "nick_alice", "log1"))
	require.False(t, res.Drop)
	assert.Equal(t, "im", res.Notification.Category)
	assert.Equal(t, "received", res.Notification.Name)
	assert.Equal(t, []string{types.FieldMessage, types.FieldBuddyName}, res.Notification.Keys(),
		"private buffers carry no channel field")
}

func TestClassify_SuppressingTagAlwaysDrops(t *testing.T) {
	c := newClassifier(t, nil)

	for _, tags := range [][]string{
		{"away_info"},
		{"irc_privmsg", "away_info"},
		{"away_info", "irc_privmsg", "nick_alice"},
		{"irc_notify_away", "nick_bob", "away_info"},
		{"irc_privmsg", "notify_none", "nick_alice"},
	} {
		res := c.Classify(channelRecord(tags...))
		assert.True(t, res.Drop, "tags %v", tags)
		assert.Equal(t, ReasonSuppressed, res.Reason, "tags %v", tags)
	}

	rec := channelRecord("irc_privmsg", "away_info")
	rec.Highlight = true
	assert.True(t, c.Classify(rec).Drop)
}

func TestClassify_NotifyAwayExtractsQuotedMessage(t *testing.T) {
	c := newClassifier(t, nil)

	rec := privateRecord("irc_notify_away", "nick_alice")
	rec.Message = `Alice is away: "gone fishing"`

	res := c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "presence", res.Notification.Category)
	assert.Equal(t, "away", res.Notification.Name)
	msg, ok := res.Notification.Get(types.FieldMessage)
	require.True(t, ok)
	assert.Equal(t, "gone fishing", msg)
}

func TestClassify_NotifySuffixes(t *testing.T) {
	c := newClassifier(t, nil)

	tests := []struct {
		tag     string
		name    string
		message string
	}{
		{"irc_notify_join", "signed-on", `alice "is here"`},
		{"irc_notify_quit", "signed-off", `alice "is here"`},
		{"irc_notify_back", "back", `alice "is here"`},
		{"irc_notify_away", "away", "is here"},
		{"irc_notify_still_away", "message", "is here"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			rec := privateRecord(tt.tag, "nick_alice")
			rec.Message = `alice "is here"`

			res := c.Classify(rec)
			require.False(t, res.Drop)
			assert.Equal(t, "presence", res.Notification.Category)
			assert.Equal(t, tt.name, res.Notification.Name)
			msg, _ := res.Notification.Get(types.FieldMessage)
			assert.Equal(t, tt.message, msg)
		})
	}

	res := c.Classify(privateRecord("irc_notify_unknown"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonUnclassified, res.Reason)

	c = newClassifier(t, map[filtering.Kind]string{filtering.KindNotify: "+"})
	res = c.Classify(privateRecord("irc_notify_join", "nick_alice"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonFiltered, res.Reason)
}

func TestClassify_BlacklistedNickDrops(t *testing.T) {
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindNick: "spambot"})

	res := c.Classify(channelRecord("irc_privmsg", "nick_spambot"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonNickRestricted, res.Reason)

	assert.False(t, c.Classify(channelRecord("irc_privmsg", "nick_alice")).Drop)
	assert.False(t, c.Classify(channelRecord("irc_privmsg")).Drop, "absent nick passes a blacklist")
}

func TestClassify_WhitelistedNick(t *testing.T) {
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindNick: "+alice"})

	assert.False(t, c.Classify(channelRecord("irc_privmsg", "nick_alice")).Drop)
	assert.True(t, c.Classify(channelRecord("irc_privmsg", "nick_bob")).Drop)

	res := c.Classify(channelRecord("irc_privmsg"))
	assert.True(t, res.Drop, "absent nick fails a whitelist")
	assert.Equal(t, ReasonNickRestricted, res.Reason)
}

func TestClassify_LastNickWins(t *testing.T) {
	c := newClassifier(t, nil)

	res := c.Classify(channelRecord("nick_alice", "irc_privmsg", "nick_bob"))
	require.False(t, res.Drop)
	nick, _ := res.Notification.Get(types.FieldBuddyName)
	assert.Equal(t, "bob", nick)
}

func TestClassify_Highlight(t *testing.T) {
	c := newClassifier(t, nil)

	rec := channelRecord("irc_privmsg", "nick_alice")
	rec.Highlight = true
	res := c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "highlight", res.Notification.Name)
	nick, ok := res.Notification.Get(types.FieldBuddyName)
	assert.True(t, ok, "scan continues past a highlight to pick up the nick")
	assert.Equal(t, "alice", nick)
}

func TestClassify_HighlightSurvivesDisallowedChannel(t *testing.T) {
	// highlights are allowed in #go, ordinary chat is not
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindChat: "#go"})

	rec := channelRecord("irc_privmsg", "nick_alice")
	rec.Highlight = true
	res := c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "highlight", res.Notification.Name)

	rec.Highlight = false
	res = c.Classify(rec)
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonFiltered, res.Reason)
}

func TestClassify_FilteredHighlightFallsBackToCategory(t *testing.T) {
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindHighlight: "+"})

	rec := channelRecord("irc_privmsg")
	rec.Highlight = true
	res := c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "received", res.Notification.Name)
}

func TestClassify_DisallowStopsScan(t *testing.T) {
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindJoin: "#go"})

	// the join filter stops the scan before nick_alice is seen
	res := c.Classify(channelRecord("irc_join", "nick_alice"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonFiltered, res.Reason)

	// a name settled earlier survives the stop
	res = c.Classify(channelRecord("irc_privmsg", "irc_join", "nick_alice"))
	require.False(t, res.Drop)
	assert.Equal(t, "received", res.Notification.Name)
	_, hasNick := res.Notification.Get(types.FieldBuddyName)
	assert.False(t, hasNick, "tags after the stop are not examined")
}

func TestClassify_NoticeForcesIM(t *testing.T) {
	c := newClassifier(t, nil)

	res := c.Classify(channelRecord("irc_notice", "nick_chanserv"))
	require.False(t, res.Drop)
	assert.Equal(t, "im", res.Notification.Category)
	assert.Equal(t, "received", res.Notification.Name)

	c = newClassifier(t, map[filtering.Kind]string{filtering.KindNotice: "+"})
	assert.True(t, c.Classify(channelRecord("irc_notice")).Drop)
}

func TestClassify_MembershipEvents(t *testing.T) {
	c := newClassifier(t, nil)

	tests := []struct {
		tag  string
		name string
	}{
		{"irc_join", "join"},
		{"irc_leave", "leave"},
		{"irc_quit", "signed-off"},
	}
	for _, tt := range tests {
		res := c.Classify(channelRecord(tt.tag, "nick_alice"))
		require.False(t, res.Drop, tt.tag)
		assert.Equal(t, "chat", res.Notification.Category)
		assert.Equal(t, tt.name, res.Notification.Name)
	}
}

func TestClassify_Action(t *testing.T) {
	c := newClassifier(t, nil)
	res := c.Classify(channelRecord("irc_privmsg", "irc_action", "nick_alice"))
	require.False(t, res.Drop)
	assert.Equal(t, "received", res.Notification.Name)

	c = newClassifier(t, map[filtering.Kind]string{filtering.KindAction: "#go"})
	res = c.Classify(channelRecord("irc_action", "nick_alice"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonFiltered, res.Reason)

	// a disallowed action stops the scan but keeps the name settled before it
	rec := channelRecord("irc_privmsg", "irc_action", "nick_alice")
	rec.Highlight = true
	res = c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "highlight", res.Notification.Name)
	_, hasNick := res.Notification.Get(types.FieldBuddyName)
	assert.False(t, hasNick, "tags after the stop are not examined")

	res = c.Classify(channelRecord("irc_privmsg", "irc_action", "nick_alice"))
	require.False(t, res.Drop)
	assert.Equal(t, "received", res.Notification.Name)
}

func TestClassify_ChatFilterModes(t *testing.T) {
	c := newClassifier(t, map[filtering.Kind]string{filtering.KindChat: "+#go #rust"})
	assert.False(t, c.Classify(channelRecord("irc_privmsg")).Drop)

	rec := channelRecord("irc_privmsg")
	rec.Buffer.Channel = "#python"
	assert.True(t, c.Classify(rec).Drop)

	c = newClassifier(t, map[filtering.Kind]string{filtering.KindIM: "alice"})
	assert.True(t, c.Classify(privateRecord("irc_privmsg")).Drop)
	assert.False(t, c.Classify(channelRecord("irc_privmsg")).Drop, "im filter does not apply to channels")
}

func TestClassify_PreconditionDrops(t *testing.T) {
	set, err := filtering.ParseSet(nil, true)
	require.NoError(t, err)
	c := New("irc", StaticFilters{Set: set}, connected(true))

	tests := []struct {
		name   string
		mutate func(*types.ActivityRecord)
		reason Reason
	}{
		{"not displayed", func(r *types.ActivityRecord) { r.Displayed = false }, ReasonNotDisplayed},
		{"no buffer", func(r *types.ActivityRecord) { r.Buffer = nil }, ReasonNoBuffer},
		{"other protocol", func(r *types.ActivityRecord) { r.Buffer.Plugin = "xmpp" }, ReasonForeignBuffer},
		{"focused buffer", func(r *types.ActivityRecord) { r.FocusedBuffer = "libera.#go" }, ReasonFocusedBuffer},
		{"server buffer", func(r *types.ActivityRecord) { r.Buffer.Kind = types.BufferServer }, ReasonBufferKind},
		{"no tags", func(r *types.ActivityRecord) { r.Tags = nil }, ReasonUnclassified},
		{"unknown tags", func(r *types.ActivityRecord) { r.Tags = []string{"irc_mode", "self_msg"} }, ReasonUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := channelRecord("irc_privmsg", "nick_alice")
			tt.mutate(rec)
			res := c.Classify(rec)
			assert.True(t, res.Drop)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Nil(t, res.Notification)
		})
	}

	assert.Equal(t, ReasonNotDisplayed, c.Classify(nil).Reason)
}

func TestClassify_FocusedBufferAllowedWhenNotIgnored(t *testing.T) {
	c := newClassifier(t, nil)
	rec := channelRecord("irc_privmsg")
	rec.FocusedBuffer = rec.Buffer.Name
	assert.False(t, c.Classify(rec).Drop)
}

func TestClassify_NotConnected(t *testing.T) {
	c := New("irc", StaticFilters{}, connected(false))
	res := c.Classify(channelRecord("irc_privmsg"))
	assert.True(t, res.Drop)
	assert.Equal(t, ReasonNotConnected, res.Reason)
}

func TestClassify_ConfiguredProtocol(t *testing.T) {
	c := New("matrix", StaticFilters{}, connected(true))
	assert.Equal(t, "matrix", c.Protocol())

	rec := channelRecord("matrix_privmsg", "nick_alice")
	rec.Buffer.Plugin = "matrix"
	res := c.Classify(rec)
	require.False(t, res.Drop)
	assert.Equal(t, "received", res.Notification.Name)

	rec.Tags = []string{"irc_privmsg"}
	assert.Equal(t, ReasonUnclassified, c.Classify(rec).Reason)
}

func TestClassify_MissingChannelFailsFilter(t *testing.T) {
	c := newClassifier(t, nil)
	rec := channelRecord("irc_privmsg")
	rec.Buffer.Channel = ""
	res := c.Classify(rec)
	assert.True(t, res.Drop, "an absent channel never matches")
	assert.Equal(t, ReasonFiltered, res.Reason)
}

func TestExtractQuoted(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`Alice is away: "gone fishing"`, "gone fishing"},
		{`"a" and "b"`, "a"},
		{`""`, ""},
		{`no quotes`, "no quotes"},
		{`one "quote`, `one "quote`},
		{``, ``},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractQuoted(tt.in), tt.in)
	}
}
