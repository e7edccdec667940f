package tagsync

import (
	"github.com/sirupsen/logrus"

	"github.com/guildsy/tagsync/types"
)

// HandleWire is the inbound entry point: prefix check, decode, key
// normalization, sender attribution, then dispatch by type tag. Every
// failure along the way is expected background noise on a lossy
// broadcast medium, so it logs at debug and drops.
func (n *Node) HandleWire(in Inbound) {
	if in.Prefix != n.prefix {
		droppedCounter.WithLabelValues("prefix").Inc()
		return
	}

	decoded, err := Decode(in.Wire)
	if err != nil {
		logrus.Debugf("🗑  undecodable message from %s: %v", in.Sender, err)
		droppedCounter.WithLabelValues("codec").Inc()
		return
	}
	raw, ok := decoded.(map[string]any)
	if !ok {
		logrus.Debugf("🗑  non-map payload from %s", in.Sender)
		droppedCounter.WithLabelValues("shape").Inc()
		return
	}

	msg := NormalizeKeys(raw)
	typ := fieldString(msg, "type")

	sender := fieldTag(msg, "battleTag")
	if sender == "" {
		// Legacy senders omit their tag; fall back to the reverse index.
		sender, _ = n.Index.Resolve(in.Sender)
	}
	if sender == n.Me {
		return // our own broadcast looping back
	}

	switch typ {
	case MsgManifest:
		n.handleManifest(sender, in.Sender, msg)
	case MsgRequestChars:
		n.handleRequestChars(sender, msg)
	case MsgAliasUpdate:
		n.handleAliasUpdate(msg)
	case MsgCharsUpdate:
		n.handleCharsUpdate(msg)
	case MsgGossipDigest:
		n.handleGossipDigest(sender, msg)
	case MsgGossipRequest:
		n.handleGossipRequest(sender, msg)
	case MsgGoodbye:
		n.handleGoodbye(sender)
	default:
		logrus.Debugf("🗑  unknown message type %q from %s", typ, in.Sender)
		droppedCounter.WithLabelValues("unknown_type").Inc()
		return
	}
	receivedCounter.WithLabelValues(typ).Inc()
}

// handleManifest processes a peer's profile announcement: adopt the
// alias if newer, chase missing characters, and always try to gossip
// back what the peer may not know about third parties.
func (n *Node) handleManifest(sender types.BattleTag, token types.CharName, msg map[string]any) {
	if sender == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}

	known := n.Store.Knows(sender)
	if n.Roster.Observe(sender, token, n.now()) {
		logrus.Infof("👋 %s announced themselves", sender)
		n.rosterChanged()
	}

	// Keyed on the field's presence, not its value: a cleared alias is
	// an empty string with a fresh timestamp and must replicate too.
	if _, ok := msg["alias"]; ok {
		n.Store.MergeAlias(sender, fieldString(msg, "alias"), fieldInt64(msg, "aliasUpdatedAt"))
	}

	charsAt := fieldInt64(msg, "charsUpdatedAt")
	if !known {
		n.whisperTag(sender, requestCharsMessage(n.Me, sender, 0))
	} else if local := n.Store.Get(sender); local != nil && charsAt > local.CharsUpdatedAt {
		n.whisperTag(sender, requestCharsMessage(n.Me, sender, local.CharsUpdatedAt))
	}

	n.SendDigest(sender)
}

// handleRequestChars answers a peer asking for our own characters added
// strictly after the requested cutoff (0 = everything).
func (n *Node) handleRequestChars(sender types.BattleTag, msg map[string]any) {
	if sender == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}
	if fieldTag(msg, "target") != n.Me {
		return
	}
	since := fieldInt64(msg, "since")
	chars := n.Store.Mine.CharactersSince(since)
	if len(chars) == 0 {
		return
	}
	n.sendCharacters(sender, n.Me, chars)
}

// handleAliasUpdate merges a replicated alias for any third profile.
func (n *Node) handleAliasUpdate(msg map[string]any) {
	target := fieldTag(msg, "target")
	if target == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}
	alias := fieldString(msg, "alias")
	at := fieldInt64(msg, "aliasUpdatedAt")
	if n.Store.MergeAlias(target, alias, at) {
		logrus.Debugf("✏️  alias for %s is now %q (t=%d)", target, alias, at)
	}
}

// handleCharsUpdate unions replicated characters into a third profile.
// The store change hook invalidates the reverse index.
func (n *Node) handleCharsUpdate(msg map[string]any) {
	target := fieldTag(msg, "target")
	if target == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}
	chars := fieldChars(msg, "characters")
	if added := n.Store.MergeCharacters(target, chars); added > 0 {
		logrus.Debugf("🧩 learned %d character(s) for %s", added, target)
	}
}

// handleGossipRequest serves profile data we hold, our own or cached,
// to the asking peer, delta-aware, and records what they now know.
func (n *Node) handleGossipRequest(sender types.BattleTag, msg map[string]any) {
	if sender == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}
	target := fieldTag(msg, "target")
	since := fieldInt64(msg, "since")

	if target == n.Me {
		if chars := n.Store.Mine.CharactersSince(since); len(chars) > 0 {
			n.sendCharacters(sender, n.Me, chars)
		}
		if n.Store.Mine.AliasUpdatedAt > 0 {
			n.whisperTag(sender, aliasUpdateMessage(n.Me, n.Me, n.Store.Mine.Alias, n.Store.Mine.AliasUpdatedAt))
		}
		return
	}

	p := n.Store.Cached[target]
	if p == nil {
		return // nothing to serve, requester will converge elsewhere
	}
	if chars := p.CharactersSince(since); len(chars) > 0 {
		n.sendCharacters(sender, target, chars)
	}
	if p.AliasUpdatedAt > 0 {
		n.whisperTag(sender, aliasUpdateMessage(n.Me, target, p.Alias, p.AliasUpdatedAt))
	}
	n.Store.LedgerRecord(sender, target, LedgerEntry{
		AliasUpdatedAt: p.AliasUpdatedAt,
		CharsUpdatedAt: p.CharsUpdatedAt,
		CharCount:      p.CharCount(),
	})
}

// handleGoodbye removes a departing peer from the roster.
func (n *Node) handleGoodbye(sender types.BattleTag) {
	if sender == "" {
		return
	}
	logrus.Infof("👋 %s logged out", sender)
	n.Roster.Leave(sender)
}

// sendCharacters whispers a character payload about subject to target,
// chunked so every message clears the transport ceiling. Receivers
// reassemble by set union, so chunk loss only costs completeness, which
// the digest charCount check later repairs.
func (n *Node) sendCharacters(target, subject types.BattleTag, chars []Character) {
	for len(chars) > 0 {
		take := len(chars)
		for take > 0 {
			size, err := EstimateSize(charsUpdateMessage(n.Me, subject, chars[:take]))
			if err == nil && size <= MaxMessageLen {
				break
			}
			take--
		}
		if take == 0 {
			logrus.Warnf("character record for %s too large for a single message, skipping", subject)
			return
		}
		if !n.whisperTag(target, charsUpdateMessage(n.Me, subject, chars[:take])) {
			return
		}
		chars = chars[take:]
	}
}
