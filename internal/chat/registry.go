package chat

import (
	"github.com/rs/zerolog"

	"github.com/omochice/wirechat/internal/observability"
)

// State tracks a connection through its lifecycle. Transitions only move
// forward: Connecting -> Open -> Closing -> Closed.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Peer is the registry's non-owning handle to one connection: the id and
// the sender end of its outbound queue. The connection task owns the socket
// and the receive end of the queue.
type Peer struct {
	ID       string
	Outgoing chan []byte
}

// PeerInfo is a point-in-time snapshot of one registry entry.
type PeerInfo struct {
	ID    string
	Name  string
	State State
}

type entry struct {
	peer  *Peer
	name  string
	state State
}

type broadcastReq struct {
	senderID string
	payload  []byte
}

type claimReq struct {
	id    string
	name  string
	reply chan bool
}

// Registry tracks live connections and fans messages out to them. A single
// goroutine owns the table; all mutations and broadcasts arrive over
// channels, so there is no lock and no shared mutable state.
type Registry struct {
	register   chan *Peer
	claim      chan claimReq
	open       chan string
	closing    chan string
	unregister chan string
	broadcast  chan broadcastReq
	snapshot   chan chan []PeerInfo
	quit       chan struct{}
	done       chan struct{}

	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a Registry and starts its owner goroutine.
func NewRegistry(log zerolog.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{
		register:   make(chan *Peer),
		claim:      make(chan claimReq),
		open:       make(chan string),
		closing:    make(chan string),
		unregister: make(chan string),
		broadcast:  make(chan broadcastReq),
		snapshot:   make(chan chan []PeerInfo),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		metrics:    metrics,
	}
	go r.run()
	return r
}

// Register adds a peer in state Connecting.
func (r *Registry) Register(p *Peer) {
	select {
	case r.register <- p:
	case <-r.quit:
	}
}

// ClaimName records the display name a Connecting peer announced. It fails
// when another connection already holds the name: names are unique per
// server, so a Disconnect carrying a name is unambiguous. Empty names are
// exempt from the uniqueness rule.
func (r *Registry) ClaimName(id, name string) bool {
	reply := make(chan bool, 1)
	select {
	case r.claim <- claimReq{id: id, name: name, reply: reply}:
	case <-r.quit:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-r.done:
		return false
	}
}

// MarkOpen moves a peer to Open after its handshake is accepted. Only Open
// peers receive broadcasts.
func (r *Registry) MarkOpen(id string) {
	select {
	case r.open <- id:
	case <-r.quit:
	}
}

// BeginClose moves a peer to Closing. Broadcast stops delivering to it; its
// writer may still drain frames already queued.
func (r *Registry) BeginClose(id string) {
	select {
	case r.closing <- id:
	case <-r.quit:
	}
}

// Unregister removes a peer once its connection is fully torn down.
func (r *Registry) Unregister(id string) {
	select {
	case r.unregister <- id:
	case <-r.quit:
	}
}

// Broadcast enqueues payload to every Open peer except the sender. Delivery
// per peer is independent: a full queue means that one peer misses the
// message (logged and counted), the rest are unaffected. The sender never
// sees an error.
func (r *Registry) Broadcast(senderID string, payload []byte) {
	select {
	case r.broadcast <- broadcastReq{senderID: senderID, payload: payload}:
	case <-r.quit:
	}
}

// Peers returns a snapshot of the current table.
func (r *Registry) Peers() []PeerInfo {
	reply := make(chan []PeerInfo, 1)
	select {
	case r.snapshot <- reply:
	case <-r.quit:
		return nil
	}
	select {
	case infos := <-reply:
		return infos
	case <-r.done:
		return nil
	}
}

// Contains reports whether id is present in the table.
func (r *Registry) Contains(id string) bool {
	for _, p := range r.Peers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	return len(r.Peers())
}

// Close stops the owner goroutine. Pending method calls return without
// effect.
func (r *Registry) Close() {
	close(r.quit)
	<-r.done
}

func (r *Registry) run() {
	defer close(r.done)

	peers := make(map[string]*entry)
	for {
		select {
		case p := <-r.register:
			peers[p.ID] = &entry{peer: p, state: StateConnecting}
			r.metrics.ActiveConnections.Inc()

		case req := <-r.claim:
			req.reply <- claimName(peers, req.id, req.name)

		case id := <-r.open:
			if e, ok := peers[id]; ok {
				e.state = StateOpen
			}

		case id := <-r.closing:
			if e, ok := peers[id]; ok {
				e.state = StateClosing
			}

		case id := <-r.unregister:
			if _, ok := peers[id]; !ok {
				// Double-unregister is reachable during racy teardown;
				// tolerated rather than treated as fatal.
				r.log.Warn().Str("conn_id", id).Msg("unregister of unknown connection")
				continue
			}
			delete(peers, id)
			r.metrics.ActiveConnections.Dec()

		case req := <-r.broadcast:
			r.metrics.BroadcastsTotal.Inc()
			for id, e := range peers {
				if id == req.senderID || e.state != StateOpen {
					continue
				}
				select {
				case e.peer.Outgoing <- req.payload:
					r.metrics.DeliveriesTotal.Inc()
				default:
					r.metrics.DroppedTotal.Inc()
					r.log.Warn().
						Str("conn_id", id).
						Str("peer", e.name).
						Msg("outbound queue full, dropping broadcast")
				}
			}

		case reply := <-r.snapshot:
			infos := make([]PeerInfo, 0, len(peers))
			for id, e := range peers {
				infos = append(infos, PeerInfo{ID: id, Name: e.name, State: e.state})
			}
			reply <- infos

		case <-r.quit:
			return
		}
	}
}

func claimName(peers map[string]*entry, id, name string) bool {
	e, ok := peers[id]
	if !ok {
		return false
	}
	if name != "" {
		for otherID, other := range peers {
			if otherID != id && other.name == name {
				return false
			}
		}
	}
	e.name = name
	return true
}
