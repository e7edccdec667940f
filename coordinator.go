package tagsync

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Broadcast scheduling: one manifest at login, one after roster churn
// settles, and a periodic re-announce with jitter so a guild logging in
// together does not synchronize into a burst.

// Announce broadcasts the local profile manifest on the guild channel.
func (n *Node) Announce() bool {
	logrus.Debugf("📣 announcing %s (alias %q, %d chars)", n.Me, n.Store.Mine.Alias, n.Store.Mine.CharCount())
	return n.broadcastMessage(manifestMessage(n.Store.Mine))
}

// Goodbye tells the guild channel we are logging out so peers prune
// their ledgers promptly instead of waiting on timeouts.
func (n *Node) Goodbye() {
	n.broadcastMessage(goodbyeMessage(n.Me))
}

// Start performs the login announce (with a little jitter so a mass
// login does not storm the channel) and schedules the periodic one.
func (n *Node) Start() {
	logrus.Debugf("🔑 session %s for %s", n.sessionID, n.Me)
	delay := time.Duration(1+rand.Intn(3)) * time.Second
	n.clock.AfterFunc(delay, func() {
		n.enqueue(func() { n.Announce() })
	})
	n.scheduleAnnounce()
}

func (n *Node) scheduleAnnounce() {
	jitter := rand.Intn(n.announceEvery / 5)
	delay := time.Duration(n.announceEvery+jitter) * time.Second
	n.clock.AfterFunc(delay, func() {
		n.enqueue(func() {
			n.Announce()
			n.scheduleAnnounce()
		})
	})
}

// rosterChanged debounces the reaction to roster churn: each new trigger
// replaces the pending timer, so a login wave costs one announce once
// the wave settles.
func (n *Node) rosterChanged() {
	if n.pendingRefresh != nil {
		n.pendingRefresh.Stop()
	}
	n.pendingRefresh = n.clock.AfterFunc(time.Duration(n.debounceDelay)*time.Second, func() {
		n.enqueue(func() {
			n.pendingRefresh = nil
			n.Announce()
		})
	})
}
