package tagsync

import (
	"github.com/guildsy/tagsync/types"
)

// Message type tags carried in the "t" field of every wire map.
const (
	MsgManifest      = "m"
	MsgRequestChars  = "rc"
	MsgAliasUpdate   = "au"
	MsgCharsUpdate   = "cu"
	MsgGossipDigest  = "gd"
	MsgGossipRequest = "gr"
	MsgGoodbye       = "by"
)

// shortKeys maps the bandwidth-optimized wire keys to their canonical
// verbose names. The enumeration is closed: anything not listed here
// passes through normalization untouched, so unknown fields from newer
// senders never break dispatch.
var shortKeys = map[string]string{
	"t":  "type",
	"bt": "battleTag",
	"tg": "target",
	"an": "alias",
	"at": "aliasUpdatedAt",
	"ct": "charsUpdatedAt",
	"cc": "charCount",
	"cs": "characters",
	"sc": "since",
	"e":  "entries",
	"n":  "name",
	"r":  "realm",
	"a":  "addedAt",
}

// NormalizeKeys rewrites every known short key in a decoded wire map to
// its verbose form, recursing into nested maps and lists uniformly.
// Verbose keys and unknown keys are kept as they arrive; when a sender
// carries both forms of the same key, the verbose one wins.
func NormalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := k
		if long, ok := shortKeys[k]; ok {
			if _, clash := m[long]; clash {
				continue
			}
			key = long
		}
		out[key] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return NormalizeKeys(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// --- typed extraction from normalized maps ---

func fieldString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// fieldInt64 tolerates the integer representations CBOR decoding can
// produce for the same wire value.
func fieldInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func fieldTag(m map[string]any, key string) types.BattleTag {
	return types.BattleTag(fieldString(m, key))
}

func fieldChars(m map[string]any, key string) []Character {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	chars := make([]Character, 0, len(list))
	for _, e := range list {
		cm, ok := e.(map[string]any)
		if !ok {
			continue
		}
		chars = append(chars, Character{
			Name:    fieldString(cm, "name"),
			Realm:   fieldString(cm, "realm"),
			AddedAt: fieldInt64(cm, "addedAt"),
		})
	}
	return chars
}

// DigestEntry is one line of a gossip digest: a summary of what the
// sender holds for one third-party identity.
type DigestEntry struct {
	Tag            types.BattleTag
	AliasUpdatedAt int64
	CharsUpdatedAt int64
	CharCount      int
}

func fieldDigestEntries(m map[string]any, key string) []DigestEntry {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	entries := make([]DigestEntry, 0, len(list))
	for _, e := range list {
		em, ok := e.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, DigestEntry{
			Tag:            fieldTag(em, "battleTag"),
			AliasUpdatedAt: fieldInt64(em, "aliasUpdatedAt"),
			CharsUpdatedAt: fieldInt64(em, "charsUpdatedAt"),
			CharCount:      int(fieldInt64(em, "charCount")),
		})
	}
	return entries
}

// --- outbound construction (always short keys) ---

func wireChars(chars []Character) []any {
	out := make([]any, len(chars))
	for i, c := range chars {
		out[i] = map[string]any{"n": c.Name, "r": c.Realm, "a": c.AddedAt}
	}
	return out
}

func manifestMessage(p *Profile) map[string]any {
	return map[string]any{
		"t":  MsgManifest,
		"bt": p.BattleTag.String(),
		"an": p.Alias,
		"at": p.AliasUpdatedAt,
		"ct": p.CharsUpdatedAt,
	}
}

func requestCharsMessage(from, target types.BattleTag, since int64) map[string]any {
	return map[string]any{
		"t":  MsgRequestChars,
		"bt": from.String(),
		"tg": target.String(),
		"sc": since,
	}
}

func aliasUpdateMessage(from, target types.BattleTag, alias string, updatedAt int64) map[string]any {
	return map[string]any{
		"t":  MsgAliasUpdate,
		"bt": from.String(),
		"tg": target.String(),
		"an": alias,
		"at": updatedAt,
	}
}

func charsUpdateMessage(from, target types.BattleTag, chars []Character) map[string]any {
	return map[string]any{
		"t":  MsgCharsUpdate,
		"bt": from.String(),
		"tg": target.String(),
		"cs": wireChars(chars),
	}
}

func gossipRequestMessage(from, target types.BattleTag, since int64) map[string]any {
	return map[string]any{
		"t":  MsgGossipRequest,
		"bt": from.String(),
		"tg": target.String(),
		"sc": since,
	}
}

func gossipDigestMessage(from types.BattleTag, entries []DigestEntry) map[string]any {
	wireEntries := make([]any, len(entries))
	for i, e := range entries {
		wireEntries[i] = map[string]any{
			"bt": e.Tag.String(),
			"at": e.AliasUpdatedAt,
			"ct": e.CharsUpdatedAt,
			"cc": e.CharCount,
		}
	}
	return map[string]any{
		"t":  MsgGossipDigest,
		"bt": from.String(),
		"e":  wireEntries,
	}
}

func goodbyeMessage(from types.BattleTag) map[string]any {
	return map[string]any{
		"t":  MsgGoodbye,
		"bt": from.String(),
	}
}
