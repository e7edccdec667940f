package tagsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	raw := map[string]any{
		"t":  "m",
		"bt": "Foo#1111",
		"cs": []any{
			map[string]any{"n": "Pip", "r": "Stormrage", "a": int64(5)},
		},
		"battleTag": "already-verbose",
		"x-future":  "unknown keys pass through",
	}

	m := NormalizeKeys(raw)

	assert.Equal(t, "m", m["type"])
	assert.Equal(t, "unknown keys pass through", m["x-future"])
	assert.Equal(t, "already-verbose", m["battleTag"], "verbose keys are left alone; short keys never clobber them silently")

	chars, ok := m["characters"].([]any)
	require.True(t, ok, "normalization must recurse into nested lists")
	first := chars[0].(map[string]any)
	assert.Equal(t, "Pip", first["name"])
	assert.Equal(t, "Stormrage", first["realm"])
	assert.EqualValues(t, 5, first["addedAt"])
}

func TestManifestFromUnknownPeer(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")

	handle(t, n, "Ashka", map[string]any{
		"t": "m", "bt": "A#1111", "an": "Foo", "at": int64(100), "ct": int64(100),
	}, false)

	// The alias is adopted...
	p := n.Store.Get("A#1111")
	require.NotNil(t, p)
	assert.Equal(t, "Foo", p.Alias)
	assert.EqualValues(t, 100, p.AliasUpdatedAt)

	// ...and a full character request (cutoff 0) goes out to the sender.
	reqs := tr.ofType("rc")
	require.Len(t, reqs, 1)
	assert.EqualValues(t, "Ashka", reqs[0].Target)
	assert.Equal(t, "A#1111", fieldString(reqs[0].Msg, "target"))
	assert.EqualValues(t, 0, fieldInt64(reqs[0].Msg, "since"))
}

func TestManifestPropagatesClearedAlias(t *testing.T) {
	n, _, _ := newTestNode(t, "B#2222")
	n.Store.MergeAlias("A#1111", "OldName", 100)

	// The owner cleared their alias: empty value, fresher timestamp.
	handle(t, n, "Ashka", map[string]any{
		"t": "m", "bt": "A#1111", "an": "", "at": int64(200), "ct": int64(0),
	}, false)

	p := n.Store.Get("A#1111")
	require.NotNil(t, p)
	assert.Equal(t, "", p.Alias)
	assert.EqualValues(t, 200, p.AliasUpdatedAt)
}

func TestManifestFromKnownPeerRequestsDelta(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	n.Store.MergeCharacters("A#1111", []Character{{Name: "Ashka", Realm: "R", AddedAt: 100}})

	handle(t, n, "Ashka", map[string]any{
		"t": "m", "bt": "A#1111", "ct": int64(250),
	}, false)

	reqs := tr.ofType("rc")
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 100, fieldInt64(reqs[0].Msg, "since"), "delta request uses our local cutoff")
}

func TestManifestWithNothingNewRequestsNothing(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	n.Store.MergeCharacters("A#1111", []Character{{Name: "Ashka", Realm: "R", AddedAt: 100}})

	handle(t, n, "Ashka", map[string]any{
		"t": "m", "bt": "A#1111", "ct": int64(100),
	}, false)

	assert.Empty(t, tr.ofType("rc"))
}

func TestRequestCharsRespondsWithDelta(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	n.Store.AddOwnCharacter("Old", "R", 50)
	n.Store.AddOwnCharacter("New", "R", 150)
	n.Roster.Observe("A#1111", "Ashka", 0)

	handle(t, n, "Ashka", map[string]any{
		"t": "rc", "bt": "A#1111", "tg": "B#2222", "sc": int64(100),
	}, true)

	ups := tr.ofType("cu")
	require.Len(t, ups, 1)
	chars := fieldChars(ups[0].Msg, "characters")
	require.Len(t, chars, 1)
	assert.Equal(t, "New", chars[0].Name)
}

func TestRequestCharsForSomeoneElseIsIgnored(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	n.Store.AddOwnCharacter("Mine", "R", 50)
	n.Roster.Observe("A#1111", "Ashka", 0)

	handle(t, n, "Ashka", map[string]any{
		"t": "rc", "bt": "A#1111", "tg": "Other#9999", "sc": int64(0),
	}, true)

	assert.Empty(t, tr.sent)
}

func TestAliasUpdateMergesNewerOnly(t *testing.T) {
	n, _, _ := newTestNode(t, "B#2222")
	n.Store.MergeAlias("Y#3333", "current", 200)

	handle(t, n, "Ashka", map[string]any{
		"t": "au", "bt": "A#1111", "tg": "Y#3333", "an": "stale", "at": int64(100),
	}, true)
	assert.Equal(t, "current", n.Store.Get("Y#3333").Alias)

	handle(t, n, "Ashka", map[string]any{
		"t": "au", "bt": "A#1111", "tg": "Y#3333", "an": "fresher", "at": int64(300),
	}, true)
	assert.Equal(t, "fresher", n.Store.Get("Y#3333").Alias)
}

func TestCharsUpdateIsIdempotentThroughTheWire(t *testing.T) {
	n, _, _ := newTestNode(t, "B#2222")
	msg := map[string]any{
		"t": "cu", "bt": "A#1111", "tg": "Y#3333",
		"cs": []any{
			map[string]any{"n": "Pip", "r": "Stormrage", "a": int64(10)},
		},
	}

	handle(t, n, "Ashka", msg, true)
	handle(t, n, "Ashka", msg, true)

	assert.Equal(t, 1, n.Store.Get("Y#3333").CharCount())
}

func TestCharsUpdateInvalidatesReverseIndex(t *testing.T) {
	n, _, _ := newTestNode(t, "B#2222")

	_, ok := n.Index.Resolve("Pip")
	assert.False(t, ok)

	handle(t, n, "Ashka", map[string]any{
		"t": "cu", "bt": "A#1111", "tg": "Y#3333",
		"cs": []any{map[string]any{"n": "Pip", "r": "Stormrage", "a": int64(10)}},
	}, true)

	tag, ok := n.Index.Resolve("Pip")
	require.True(t, ok)
	assert.EqualValues(t, "Y#3333", tag)
}

func TestUnknownTypeAndBadWireAreDroppedSilently(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")

	handle(t, n, "Ashka", map[string]any{"t": "zz", "bt": "A#1111"}, false)
	n.HandleWire(Inbound{Prefix: testPrefix, Sender: "Ashka", Wire: "garbage"})
	n.HandleWire(Inbound{Prefix: testPrefix, Sender: "Ashka", Wire: ""})

	assert.Empty(t, tr.sent)
	assert.Empty(t, n.Store.Cached)
}

func TestWrongPrefixRejectedBeforeDecode(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	wire, err := Encode(map[string]any{"t": "m", "bt": "A#1111", "an": "Foo", "at": int64(1)})
	require.NoError(t, err)

	n.HandleWire(Inbound{Prefix: "otherguild", Sender: "Ashka", Wire: wire})

	assert.Empty(t, tr.sent)
	assert.False(t, n.Store.Knows("A#1111"))
}

func TestOwnBroadcastLoopbackIgnored(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")

	handle(t, n, "Beka", map[string]any{"t": "m", "bt": "B#2222", "an": "Self", "at": int64(9)}, false)

	assert.Empty(t, tr.sent)
	assert.Equal(t, "", n.Store.Mine.Alias)
}

func TestGoodbyeRemovesPeerAndPrunesLedger(t *testing.T) {
	n, _, _ := newTestNode(t, "B#2222")
	n.Roster.Observe("A#1111", "Ashka", 0)
	n.Store.LedgerRecord("A#1111", "Y#3333", LedgerEntry{CharCount: 1})

	handle(t, n, "Ashka", map[string]any{"t": "by", "bt": "A#1111"}, false)

	assert.False(t, n.Roster.Online("A#1111"))
	_, ok := n.Store.LedgerGet("A#1111", "Y#3333")
	assert.False(t, ok)
}

func TestRateLimitedTransportIsQuietNoOp(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	tr.refuse = true

	ok := n.Announce()
	assert.False(t, ok)
	assert.Empty(t, tr.sent)
}

func TestSendCharactersChunksUnderCeiling(t *testing.T) {
	n, tr, _ := newTestNode(t, "B#2222")
	n.Roster.Observe("A#1111", "Ashka", 0)

	var chars []Character
	for i := 0; i < 40; i++ {
		chars = append(chars, Character{Name: "Character" + string(rune('A'+i%26)) + "longname", Realm: "Proudmoore", AddedAt: int64(1000 + i)})
	}

	n.sendCharacters("A#1111", "Y#3333", chars)

	ups := tr.ofType("cu")
	require.NotEmpty(t, ups)
	assert.Greater(t, len(ups), 1, "40 characters cannot fit one message")
	total := 0
	for _, m := range ups {
		assert.LessOrEqual(t, len(m.Wire), MaxMessageLen)
		total += len(fieldChars(m.Msg, "characters"))
	}
	assert.Equal(t, 40, total, "chunking must not lose characters")
}
