package tagsync

import (
	"errors"

	"github.com/guildsy/tagsync/types"
)

// Transport failures the core treats as retryable non-events: the
// periodic re-announce and gossip rounds pick up whatever a refused send
// would have carried.
var (
	ErrRateLimited = errors.New("transport: channel refused send (rate limited)")
	ErrOversize    = errors.New("transport: message exceeds size ceiling")
)

// Inbound is one message as delivered by a transport channel.
type Inbound struct {
	Prefix string         // protocol prefix the sender addressed
	Sender types.CharName // transport-visible sender token
	Wire   string         // codec wire string
	Direct bool           // true when received on the directed channel
}

// Transport is the message channel the protocol runs over: a guild-wide
// broadcast channel plus a directed channel per peer. Delivery is best
// effort; any message may be silently dropped.
type Transport interface {
	// Broadcast publishes on the guild-wide channel.
	Broadcast(wire string) error
	// Whisper publishes on the directed channel of one peer.
	Whisper(target types.CharName, wire string) error
	// SetHandler registers the inbound sink. Must be called before any
	// message can arrive.
	SetHandler(fn func(Inbound))
	// Close tears the channels down.
	Close()
}
