package tagsync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/guildsy/tagsync/types"
)

// sentOnceSize bounds the per-session correction markers. Old markers
// falling out just means a correction may be repeated, which the ledger
// already collapses.
const sentOnceSize = 1024

// Node ties the store, reverse index, roster and transport together.
// All protocol work runs on the single events goroutine (see Run), so
// none of the core data structures take locks.
type Node struct {
	Me     types.BattleTag
	Store  *Store
	Index  *CharIndex
	Roster *Roster

	transport Transport
	clock     clockwork.Clock
	prefix    string
	sessionID string

	// send-once markers for corrections, keyed (target, subject).
	// Independent of the ledger so correction ping-pong cannot start
	// even when ledger updates race in-flight messages.
	sentOnce *lru.Cache[string, struct{}]

	events chan func()

	announceEvery  int // seconds between periodic manifests
	debounceDelay  int // seconds to settle after roster churn
	pendingRefresh clockwork.Timer
}

// NewNode creates a node around the local identity. The transport may be
// nil for tests that drive handlers directly.
func NewNode(me types.BattleTag, transport Transport, clock clockwork.Clock, prefix string) *Node {
	store := NewStore(me)
	sentOnce, err := lru.New[string, struct{}](sentOnceSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	n := &Node{
		Me:            me,
		Store:         store,
		Index:         NewCharIndex(store),
		Roster:        NewRoster(),
		transport:     transport,
		clock:         clock,
		prefix:        prefix,
		sessionID:     uuid.NewString(),
		sentOnce:      sentOnce,
		events:        make(chan func(), 64),
		announceEvery: 300,
		debounceDelay: 3,
	}
	n.Roster.OnLost(n.peerLost)
	if transport != nil {
		transport.SetHandler(n.enqueueInbound)
	}
	return n
}

// Run pumps the event queue until ctx is done. Inbound messages and
// timer callbacks all funnel through here, which is what keeps the core
// single-threaded.
func (n *Node) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-n.events:
			fn()
		}
	}
}

// enqueueInbound hops from the transport's goroutine onto the event
// queue. Dropping on overflow is fine; the protocol tolerates loss.
func (n *Node) enqueueInbound(in Inbound) {
	select {
	case n.events <- func() { n.HandleWire(in) }:
	default:
		droppedCounter.WithLabelValues("inbox_full").Inc()
	}
}

// enqueue schedules fn on the event goroutine.
func (n *Node) enqueue(fn func()) {
	select {
	case n.events <- fn:
	default:
		droppedCounter.WithLabelValues("inbox_full").Inc()
	}
}

// Stop runs the logout sequence on the event goroutine and blocks until
// it has executed. The caller can then cancel Run, join it, and read
// the store without racing an in-flight handler.
func (n *Node) Stop() {
	done := make(chan struct{})
	n.events <- func() {
		n.Goodbye()
		close(done)
	}
	<-done
}

func (n *Node) now() int64 {
	return n.clock.Now().Unix()
}

// --- outbound plumbing ---

// broadcastMessage encodes and publishes on the guild channel. Transport
// refusal and oversize are quiet non-events; convergence retries.
func (n *Node) broadcastMessage(msg map[string]any) bool {
	return n.sendMessage("", msg)
}

// whisperTag sends to the peer currently fronting for tag. Silently a
// no-op when no whisper token is known; the next manifest retries.
func (n *Node) whisperTag(tag types.BattleTag, msg map[string]any) bool {
	token, ok := n.Roster.TokenFor(tag)
	if !ok {
		logrus.Debugf("📭 no whisper token for %s, dropping %s", tag, msgType(msg))
		droppedCounter.WithLabelValues("no_token").Inc()
		return false
	}
	return n.sendMessage(token, msg)
}

func (n *Node) sendMessage(target types.CharName, msg map[string]any) bool {
	if n.transport == nil {
		return false
	}
	wire, err := Encode(msg)
	if err != nil {
		logrus.Warnf("failed to encode %s message: %v", msgType(msg), err)
		droppedCounter.WithLabelValues("encode").Inc()
		return false
	}
	if len(wire) > MaxMessageLen {
		logrus.Debugf("📏 %s message oversize (%d bytes), not sent", msgType(msg), len(wire))
		droppedCounter.WithLabelValues("oversize").Inc()
		return false
	}

	if target == "" {
		err = n.transport.Broadcast(wire)
	} else {
		err = n.transport.Whisper(target, wire)
	}
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			logrus.Debugf("🚦 transport refused %s send, will retry next round", msgType(msg))
			droppedCounter.WithLabelValues("rate_limited").Inc()
		} else {
			logrus.Warnf("transport send failed: %v", err)
			droppedCounter.WithLabelValues("transport").Inc()
		}
		return false
	}
	sentCounter.WithLabelValues(msgType(msg)).Inc()
	return true
}

func msgType(msg map[string]any) string {
	if t, ok := msg["t"].(string); ok {
		return t
	}
	return "?"
}

// --- roster hooks ---

func (n *Node) peerLost(tag types.BattleTag) {
	logrus.Debugf("👋 %s left, pruning gossip ledger", tag)
	n.Store.LedgerPrune(tag)
	for _, key := range n.sentOnce.Keys() {
		if subjectOfMarker(key, tag) {
			n.sentOnce.Remove(key)
		}
	}
}

func markerKey(target, subject types.BattleTag) string {
	return target.String() + "|" + subject.String()
}

func subjectOfMarker(key string, target types.BattleTag) bool {
	prefix := target.String() + "|"
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}
