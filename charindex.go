package tagsync

import (
	"strings"

	"github.com/guildsy/tagsync/types"
)

// CharIndex resolves a transport-visible character name (bare or
// realm-qualified) to the BattleTag that owns it. It is a derived cache
// over the Store, rebuilt lazily after invalidation.
//
// Trust boundary: resolution is by claimed ownership only. Nothing stops
// a peer from listing someone else's character; the protocol accepts the
// mapping anyway. Local characters win on collision so at least the own
// identity cannot be shadowed.
type CharIndex struct {
	store *Store
	byKey map[types.CharName]types.BattleTag
	dirty bool
}

// NewCharIndex builds an index bound to store and hooks invalidation
// into the store's change notifications.
func NewCharIndex(store *Store) *CharIndex {
	idx := &CharIndex{store: store, dirty: true}
	store.OnChange(func(types.BattleTag) { idx.Invalidate() })
	return idx
}

// Invalidate marks the whole index stale. Cheap; the rebuild happens on
// the next lookup.
func (idx *CharIndex) Invalidate() {
	idx.dirty = true
	idx.byKey = nil
}

// Resolve maps a character token to its owning BattleTag. Accepts both
// "Name" and "Name-Realm" forms. Returns false when nobody claims it.
func (idx *CharIndex) Resolve(token types.CharName) (types.BattleTag, bool) {
	if token == "" {
		return "", false
	}
	if idx.dirty {
		idx.rebuild()
	}
	if tag, ok := idx.byKey[token]; ok {
		return tag, true
	}
	// A realm-qualified token can still match a bare registration.
	if i := strings.IndexByte(string(token), '-'); i > 0 {
		if tag, ok := idx.byKey[token[:i]]; ok {
			return tag, true
		}
	}
	return "", false
}

func (idx *CharIndex) rebuild() {
	idx.byKey = make(map[types.CharName]types.BattleTag)
	for tag, p := range idx.store.Cached {
		idx.indexProfile(tag, p)
	}
	// Indexed last so the local profile overrides third-party claims.
	idx.indexProfile(idx.store.Mine.BattleTag, idx.store.Mine)
	idx.dirty = false
}

func (idx *CharIndex) indexProfile(tag types.BattleTag, p *Profile) {
	for _, c := range p.Characters {
		idx.byKey[types.CharName(c.Name)] = tag
		if c.Realm != "" {
			idx.byKey[types.CharName(c.Key())] = tag
		}
	}
}
