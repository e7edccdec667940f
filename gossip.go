package tagsync

import (
	"github.com/sirupsen/logrus"

	"github.com/guildsy/tagsync/types"
)

// digestEntryCap is the starting number of entries per digest; the build
// walks it down until the encoded message fits the transport ceiling.
const digestEntryCap = 8

// BuildDigest assembles the gossip digest for target: every cached
// third-party profile the ledger says target has not seen in its current
// state. Never includes target itself or the local identity. Returns nil
// when nothing qualifies, which suppresses the send entirely.
func (n *Node) BuildDigest(target types.BattleTag) []DigestEntry {
	var entries []DigestEntry
	for _, tag := range n.Store.Tags() {
		if tag == n.Me || tag == target {
			continue
		}
		p := n.Store.Cached[tag]
		if p == nil {
			continue
		}
		known, ok := n.Store.LedgerGet(target, tag)
		if ok && !staleAt(known, p) {
			continue
		}
		entries = append(entries, DigestEntry{
			Tag:            tag,
			AliasUpdatedAt: p.AliasUpdatedAt,
			CharsUpdatedAt: p.CharsUpdatedAt,
			CharCount:      p.CharCount(),
		})
	}
	return entries
}

// staleAt reports whether the profile has moved past what the ledger
// entry says the target knows: strictly newer in either timestamp, or a
// character count mismatch (the signature of a lost chunk on their side).
func staleAt(known LedgerEntry, p *Profile) bool {
	return p.AliasUpdatedAt > known.AliasUpdatedAt ||
		p.CharsUpdatedAt > known.CharsUpdatedAt ||
		p.CharCount() != known.CharCount
}

// SendDigest builds, fits and broadcasts a digest for target, then
// records in the ledger what each included entry just told them.
// Redundant digests never leave the node.
func (n *Node) SendDigest(target types.BattleTag) bool {
	entries := n.BuildDigest(target)
	if len(entries) == 0 {
		suppressedCounter.Inc()
		return false
	}

	limit := digestEntryCap
	if limit > len(entries) {
		limit = len(entries)
	}
	for ; limit > 0; limit-- {
		size, err := EstimateSize(gossipDigestMessage(n.Me, entries[:limit]))
		if err != nil {
			logrus.Warnf("failed to size digest for %s: %v", target, err)
			return false
		}
		if size <= MaxMessageLen {
			break
		}
	}
	if limit == 0 {
		logrus.Debugf("📪 digest for %s cannot fit a single entry, not sent", target)
		return false
	}

	sent := entries[:limit]
	if !n.broadcastMessage(gossipDigestMessage(n.Me, sent)) {
		return false
	}
	for _, e := range sent {
		n.Store.LedgerRecord(target, e.Tag, LedgerEntry{
			AliasUpdatedAt: e.AliasUpdatedAt,
			CharsUpdatedAt: e.CharsUpdatedAt,
			CharCount:      e.CharCount,
		})
	}
	logrus.Debugf("📰 gossiped %d profile(s) towards %s", len(sent), target)
	return true
}

// handleGossipDigest reconciles a digest from sender: per entry, decide
// between requesting fresher data, pushing a correction for their stale
// data, or doing nothing. Either way the ledger learns what the sender
// has proven to know.
func (n *Node) handleGossipDigest(sender types.BattleTag, msg map[string]any) {
	if sender == "" {
		droppedCounter.WithLabelValues("attribution").Inc()
		return
	}
	entries := fieldDigestEntries(msg, "entries")
	if len(entries) == 0 {
		return // empty digests are background noise
	}
	for _, e := range entries {
		n.reconcileEntry(sender, e)
	}
}

func (n *Node) reconcileEntry(sender types.BattleTag, e DigestEntry) {
	if e.Tag == "" || e.Tag == n.Me {
		return // a peer is never taught about itself
	}

	local := n.Store.Get(e.Tag)
	switch {
	case local == nil:
		n.whisperTag(sender, gossipRequestMessage(n.Me, e.Tag, 0))

	case e.CharsUpdatedAt > local.CharsUpdatedAt:
		n.whisperTag(sender, gossipRequestMessage(n.Me, e.Tag, local.CharsUpdatedAt))

	case e.AliasUpdatedAt > local.AliasUpdatedAt:
		n.whisperTag(sender, gossipRequestMessage(n.Me, e.Tag, 0))

	case e.CharsUpdatedAt == local.CharsUpdatedAt && e.CharCount > local.CharCount():
		// They hold characters we never got (lost chunk on our side).
		n.whisperTag(sender, gossipRequestMessage(n.Me, e.Tag, 0))

	case e.CharsUpdatedAt == local.CharsUpdatedAt && e.CharCount < local.CharCount():
		if n.markCorrection(sender, e.Tag) {
			n.sendCharacters(sender, e.Tag, local.CharactersSince(0))
			n.recordCharsSent(sender, local)
			correctionCounter.WithLabelValues("chars_full").Inc()
		}

	case local.AliasUpdatedAt > e.AliasUpdatedAt:
		if n.markCorrection(sender, e.Tag) {
			n.whisperTag(sender, aliasUpdateMessage(n.Me, e.Tag, local.Alias, local.AliasUpdatedAt))
			n.recordAliasSent(sender, local)
			correctionCounter.WithLabelValues("alias").Inc()
		}

	case local.CharsUpdatedAt > e.CharsUpdatedAt:
		if n.markCorrection(sender, e.Tag) {
			n.sendCharacters(sender, e.Tag, local.CharactersSince(e.CharsUpdatedAt))
			n.recordCharsSent(sender, local)
			correctionCounter.WithLabelValues("chars_delta").Inc()
		}
	}

	// The digest is proof of what the sender knows right now; fold it
	// into the ledger (monotone) to collapse future redundant gossip.
	n.Store.LedgerRecord(sender, e.Tag, LedgerEntry{
		AliasUpdatedAt: e.AliasUpdatedAt,
		CharsUpdatedAt: e.CharsUpdatedAt,
		CharCount:      e.CharCount,
	})
}

// recordAliasSent advances only the alias column of the ledger entry
// after an alias correction. The character columns stay at whatever the
// target last proved they hold; a correction must never claim more than
// it actually carried, or the next digest suppresses data the target
// still misses.
func (n *Node) recordAliasSent(target types.BattleTag, p *Profile) {
	n.Store.LedgerRecord(target, p.BattleTag, LedgerEntry{
		AliasUpdatedAt: p.AliasUpdatedAt,
	})
}

// recordCharsSent advances only the character columns of the ledger
// entry after a character correction.
func (n *Node) recordCharsSent(target types.BattleTag, p *Profile) {
	n.Store.LedgerRecord(target, p.BattleTag, LedgerEntry{
		CharsUpdatedAt: p.CharsUpdatedAt,
		CharCount:      p.CharCount(),
	})
}

// markCorrection claims the send-once marker for (target, subject) this
// session. Returns false when a correction already went out.
func (n *Node) markCorrection(target, subject types.BattleTag) bool {
	key := markerKey(target, subject)
	if n.sentOnce.Contains(key) {
		return false
	}
	n.sentOnce.Add(key, struct{}{})
	return true
}
