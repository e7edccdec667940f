package tagsync

import (
	"os"
	"sort"
	"time"

	"github.com/kataras/tablewriter"
	"github.com/lensesio/tableprinter"

	"github.com/guildsy/tagsync/types"
)

// Peer is one currently-observed guild member.
type Peer struct {
	Tag      types.BattleTag
	Token    types.CharName // last transport token seen for this peer
	LastSeen int64
}

// Roster tracks which peers are observed online and remembers the
// transport token to whisper them at. Presence is fed by manifests and
// goodbyes; it is an observation, not a guarantee.
type Roster struct {
	peers  map[types.BattleTag]*Peer
	onLost func(tag types.BattleTag)
}

func NewRoster() *Roster {
	return &Roster{peers: make(map[types.BattleTag]*Peer)}
}

// OnLost registers a hook fired when a peer leaves the roster. The
// coordinator uses it to prune the gossip ledger for that peer.
func (r *Roster) OnLost(fn func(tag types.BattleTag)) {
	r.onLost = fn
}

// Observe records that tag was just seen under token. Returns true when
// the peer is new to the roster.
func (r *Roster) Observe(tag types.BattleTag, token types.CharName, now int64) bool {
	p, ok := r.peers[tag]
	if !ok {
		r.peers[tag] = &Peer{Tag: tag, Token: token, LastSeen: now}
		return true
	}
	if token != "" {
		p.Token = token
	}
	p.LastSeen = now
	return false
}

// Leave drops tag from the roster and fires the loss hook.
func (r *Roster) Leave(tag types.BattleTag) {
	if _, ok := r.peers[tag]; !ok {
		return
	}
	delete(r.peers, tag)
	if r.onLost != nil {
		r.onLost(tag)
	}
}

// TokenFor returns the whisper token for tag, if the peer is observed.
func (r *Roster) TokenFor(tag types.BattleTag) (types.CharName, bool) {
	p, ok := r.peers[tag]
	if !ok || p.Token == "" {
		return "", false
	}
	return p.Token, true
}

// Online reports whether tag is currently observed.
func (r *Roster) Online(tag types.BattleTag) bool {
	_, ok := r.peers[tag]
	return ok
}

// Tags returns the observed peers, sorted.
func (r *Roster) Tags() []types.BattleTag {
	tags := make([]types.BattleTag, 0, len(r.peers))
	for tag := range r.peers {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Len returns the number of observed peers.
func (r *Roster) Len() int {
	return len(r.peers)
}

type rosterRow struct {
	Tag      string `header:"battletag"`
	Alias    string `header:"alias"`
	Token    string `header:"character"`
	Chars    int    `header:"chars"`
	LastSeen string `header:"last seen"`
}

// PrintTable renders the roster with profile data. The render runs on
// the event goroutine, where reading the store is safe.
func (n *Node) PrintTable() {
	n.enqueue(n.printTable)
}

func (n *Node) printTable() {
	now := time.Now().Unix()

	printer := tableprinter.New(os.Stdout)
	rows := make([]rosterRow, 0, n.Roster.Len()+1)

	rows = append(rows, rosterRow{
		Tag:      n.Me.String(),
		Alias:    n.Store.Mine.Alias,
		Token:    "-",
		Chars:    n.Store.Mine.CharCount(),
		LastSeen: "-",
	})
	for _, tag := range n.Roster.Tags() {
		p := n.Roster.peers[tag]
		row := rosterRow{Tag: tag.String(), Token: p.Token.String()}
		row.LastSeen = (time.Duration(now-p.LastSeen) * time.Second).String() + " ago"
		if prof := n.Store.Get(tag); prof != nil {
			row.Alias = prof.Alias
			row.Chars = prof.CharCount()
		}
		rows = append(rows, row)
	}

	printer.BorderTop, printer.BorderBottom, printer.BorderLeft, printer.BorderRight = true, true, true, true
	printer.CenterSeparator = "│"
	printer.ColumnSeparator = "│"
	printer.RowSeparator = "─"
	printer.HeaderBgColor = tablewriter.BgBlackColor
	printer.HeaderFgColor = tablewriter.FgGreenColor
	printer.Print(rows)
}
