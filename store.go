package tagsync

import (
	"fmt"
	"sort"

	"github.com/guildsy/tagsync/types"
)

// Character is one in-game character owned by a profile.
type Character struct {
	Name    string `json:"name"`
	Realm   string `json:"realm"`
	AddedAt int64  `json:"addedAt"`
}

// Key returns the realm-qualified identity of the character, unique
// within a profile's character set.
func (c Character) Key() string {
	return c.Name + "-" + c.Realm
}

// Profile is the replicated record owned by one BattleTag. Every mutable
// field carries its own timestamp; merges are per-field last-writer-wins.
type Profile struct {
	BattleTag      types.BattleTag `json:"battleTag"`
	Alias          string          `json:"alias"`
	AliasUpdatedAt int64           `json:"aliasUpdatedAt"`
	Characters     []Character     `json:"characters"`
	CharsUpdatedAt int64           `json:"charsUpdatedAt"`
}

// CharCount returns the number of characters on the profile.
func (p *Profile) CharCount() int {
	return len(p.Characters)
}

// HasCharacter reports whether the profile already owns name on realm.
func (p *Profile) HasCharacter(name, realm string) bool {
	for _, c := range p.Characters {
		if c.Name == name && c.Realm == realm {
			return true
		}
	}
	return false
}

// CharactersSince returns the characters added strictly after cutoff.
// A cutoff of 0 returns everything.
func (p *Profile) CharactersSince(cutoff int64) []Character {
	if cutoff <= 0 {
		out := make([]Character, len(p.Characters))
		copy(out, p.Characters)
		return out
	}
	var out []Character
	for _, c := range p.Characters {
		if c.AddedAt > cutoff {
			out = append(out, c)
		}
	}
	return out
}

// LedgerEntry records the most recent profile state this node has
// communicated to one target about one subject. Used to suppress
// redundant gossip in both directions.
type LedgerEntry struct {
	AliasUpdatedAt int64 `json:"aliasUpdatedAt"`
	CharsUpdatedAt int64 `json:"charsUpdatedAt"`
	CharCount      int   `json:"charCount"`
}

// Matches reports whether the entry already covers the profile exactly.
func (e LedgerEntry) Matches(p *Profile) bool {
	return e.AliasUpdatedAt == p.AliasUpdatedAt &&
		e.CharsUpdatedAt == p.CharsUpdatedAt &&
		e.CharCount == p.CharCount()
}

// Store holds the locally-authoritative profile, the cached third-party
// profiles, and the gossip ledger. Everything runs on the node's single
// event goroutine, so the store takes no locks; mutations must stay pure
// merges to survive message reordering and duplication.
type Store struct {
	Mine   *Profile
	Cached map[types.BattleTag]*Profile
	Ledger map[string]LedgerEntry

	onChange func(tag types.BattleTag)
}

// NewStore creates a store around the local identity.
func NewStore(me types.BattleTag) *Store {
	return &Store{
		Mine:   &Profile{BattleTag: me},
		Cached: make(map[types.BattleTag]*Profile),
		Ledger: make(map[string]LedgerEntry),
	}
}

// OnChange registers a hook invoked whenever a profile mutates.
// The reverse index uses it to invalidate itself.
func (s *Store) OnChange(fn func(tag types.BattleTag)) {
	s.onChange = fn
}

func (s *Store) changed(tag types.BattleTag) {
	if s.onChange != nil {
		s.onChange(tag)
	}
}

// Get returns the profile for tag, whether local or cached, or nil.
func (s *Store) Get(tag types.BattleTag) *Profile {
	if tag == s.Mine.BattleTag {
		return s.Mine
	}
	return s.Cached[tag]
}

// Knows reports whether any profile exists for tag.
func (s *Store) Knows(tag types.BattleTag) bool {
	return s.Get(tag) != nil
}

// ensureCached returns the cached profile for tag, creating an empty one
// on first contact. The local profile is never handed out for merging.
func (s *Store) ensureCached(tag types.BattleTag) *Profile {
	p, ok := s.Cached[tag]
	if !ok {
		p = &Profile{BattleTag: tag}
		s.Cached[tag] = p
	}
	return p
}

// MergeAlias applies a replicated alias update to tag's cached profile.
// The write lands only if it is not older than what we hold; equal
// timestamps resolve last-applied-wins, which is order-dependent and
// deliberately left that way (see DESIGN.md). The local profile is
// authoritative and never merged into.
func (s *Store) MergeAlias(tag types.BattleTag, alias string, updatedAt int64) bool {
	if tag == s.Mine.BattleTag {
		return false
	}
	p := s.ensureCached(tag)
	if updatedAt < p.AliasUpdatedAt {
		return false
	}
	if alias == p.Alias && updatedAt == p.AliasUpdatedAt {
		return false
	}
	p.Alias = alias
	p.AliasUpdatedAt = updatedAt
	s.changed(tag)
	return true
}

// MergeCharacters unions incoming characters into tag's cached profile.
// The union is idempotent and commutative: duplicates (by name+realm)
// are skipped, nothing is ever removed, and CharsUpdatedAt advances to
// the newest AddedAt seen. Returns the number of characters added.
func (s *Store) MergeCharacters(tag types.BattleTag, chars []Character) int {
	if tag == s.Mine.BattleTag {
		return 0
	}
	p := s.ensureCached(tag)
	added := 0
	for _, c := range chars {
		if c.Name == "" {
			continue
		}
		if !p.HasCharacter(c.Name, c.Realm) {
			p.Characters = append(p.Characters, c)
			added++
		}
		if c.AddedAt > p.CharsUpdatedAt {
			p.CharsUpdatedAt = c.AddedAt
		}
	}
	if added > 0 {
		s.changed(tag)
	}
	return added
}

// SetAlias mutates the local profile's alias. Owner-only by construction.
func (s *Store) SetAlias(alias string, now int64) {
	if now < s.Mine.AliasUpdatedAt {
		now = s.Mine.AliasUpdatedAt
	}
	s.Mine.Alias = alias
	s.Mine.AliasUpdatedAt = now
	s.changed(s.Mine.BattleTag)
}

// AddOwnCharacter appends a character to the local profile if absent.
func (s *Store) AddOwnCharacter(name, realm string, now int64) bool {
	if name == "" || s.Mine.HasCharacter(name, realm) {
		return false
	}
	s.Mine.Characters = append(s.Mine.Characters, Character{Name: name, Realm: realm, AddedAt: now})
	if now > s.Mine.CharsUpdatedAt {
		s.Mine.CharsUpdatedAt = now
	}
	s.changed(s.Mine.BattleTag)
	return true
}

// Tags returns every known BattleTag, local first, rest sorted.
func (s *Store) Tags() []types.BattleTag {
	tags := make([]types.BattleTag, 0, len(s.Cached)+1)
	tags = append(tags, s.Mine.BattleTag)
	for tag := range s.Cached {
		tags = append(tags, tag)
	}
	sort.Slice(tags[1:], func(i, j int) bool { return tags[i+1] < tags[j+1] })
	return tags
}

// Purge drops a cached profile. Operator action, never automatic.
func (s *Store) Purge(tag types.BattleTag) {
	if tag == s.Mine.BattleTag {
		return
	}
	delete(s.Cached, tag)
	s.changed(tag)
}

// --- Gossip ledger ---

func ledgerKey(target, subject types.BattleTag) string {
	return fmt.Sprintf("%s|%s", target, subject)
}

// LedgerGet returns the ledger entry for (target, subject), if any.
func (s *Store) LedgerGet(target, subject types.BattleTag) (LedgerEntry, bool) {
	e, ok := s.Ledger[ledgerKey(target, subject)]
	return e, ok
}

// LedgerRecord records what target now knows about subject. Values never
// regress: a stale in-flight digest must not erase proof of fresher
// knowledge already on file.
func (s *Store) LedgerRecord(target, subject types.BattleTag, e LedgerEntry) {
	key := ledgerKey(target, subject)
	old, ok := s.Ledger[key]
	if ok {
		if e.AliasUpdatedAt < old.AliasUpdatedAt {
			e.AliasUpdatedAt = old.AliasUpdatedAt
		}
		if e.CharsUpdatedAt < old.CharsUpdatedAt {
			e.CharsUpdatedAt = old.CharsUpdatedAt
			e.CharCount = old.CharCount
		} else if e.CharsUpdatedAt == old.CharsUpdatedAt && e.CharCount < old.CharCount {
			e.CharCount = old.CharCount
		}
	}
	s.Ledger[key] = e
}

// LedgerPrune drops every ledger entry addressed to target. Called when
// the roster no longer observes target as a peer.
func (s *Store) LedgerPrune(target types.BattleTag) {
	prefix := string(target) + "|"
	for key := range s.Ledger {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.Ledger, key)
		}
	}
}
