package core

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// PeerManager owns transport links, the address map and fallback bookkeeping
type PeerManager struct {
	// Addresses holds the last known listening address of every node seen, it is never pruned
	Addresses map[state.NodeId]state.Addr
	// Connections maps a peer to the link its handshake completed on
	Connections map[state.NodeId]state.Link
	// Fallback is the backup peer this node elected, nil until the first acknowledged peer
	Fallback *state.Location
	// Fallbacks holds the fallback each peer advertised, as host:port:name
	Fallbacks map[state.NodeId]string
	Dial      func(ctx context.Context, addr state.Addr) (state.Link, error)

	links       map[uuid.UUID]*trackedLink
	listener    net.Listener
	local       *state.LocalNet
	unreachable *ttlcache.Cache[string, struct{}]
	joined      bool
	isolated    bool
	searching   bool
}

// trackedLink is an open link and the node known to be on the other end, empty until a message
// names its sender
type trackedLink struct {
	state.Link
	node state.NodeId
}

func (p *PeerManager) setup(s *state.State) {
	p.Addresses = make(map[state.NodeId]state.Addr)
	p.Connections = make(map[state.NodeId]state.Link)
	p.Fallbacks = make(map[state.NodeId]string)
	p.links = make(map[uuid.UUID]*trackedLink)
	p.local = state.NewLocalNet(s.LocalPrefixes)
	p.unreachable = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](state.DialBackoff),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go p.unreachable.Start()
	p.isolated = true
	if p.Dial == nil {
		p.Dial = DialTCP
	}
}

func (p *PeerManager) Init(s *state.State) error {
	s.Log.Debug("init peer manager")
	p.setup(s)

	addr := net.JoinHostPort("", strconv.Itoa(int(s.Port)))
	listener, err := ListenTCP(s.Context, addr)
	if err != nil {
		p.unreachable.Stop()
		return err
	}
	p.listener = listener
	s.Log.Info("listening on", "addr", listener.Addr())
	go p.listen(s.Env, listener)

	s.Log.Info("looking for other nodes")
	p.Search(s)
	return nil
}

func (p *PeerManager) Cleanup(s *state.State) error {
	var err error
	if p.listener != nil {
		err = p.listener.Close()
	}
	for _, link := range p.links {
		link.Close()
	}
	for _, link := range p.Connections {
		link.Close()
	}
	p.unreachable.Stop()
	return err
}

func (p *PeerManager) listen(e *state.Env, listener net.Listener) {
	for e.Context.Err() == nil {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.Log.Warn("failed to accept connection", "err", err)
			continue
		}
		p.adopt(e, NewTCPLink(conn, true), "")
	}
}

// adopt tracks a new link on the dispatch loop and starts reading from it. A link that has not
// become a peer connection by HandshakeTimeLimit is closed.
func (p *PeerManager) adopt(e *state.Env, link state.Link, node state.NodeId) {
	_, err := e.DispatchWait(func(s *state.State) (any, error) {
		p.links[link.Id()] = &trackedLink{Link: link, node: node}
		s.ScheduleTask(func(s *state.State) error {
			p.expireLink(s, link.Id())
			return nil
		}, state.HandshakeTimeLimit)
		return nil, nil
	})
	if err != nil {
		link.Close()
		return
	}
	go p.serve(e, link)
}

func (p *PeerManager) serve(e *state.Env, link state.Link) {
	e.Log.Debug("link up", "id", link.Id().String(), "remote", link.RemoteAddr())
	for e.Context.Err() == nil {
		msg, err := link.ReadMsg()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				perf.DroppedMsgPerSecond.Add(1)
				e.Log.Debug("dropped message", "remote", link.RemoteAddr(), "err", err)
				continue
			}
			break
		}
		e.Dispatch(func(s *state.State) error {
			Get[*Forwarder](s).HandleMessage(s, msg, link)
			return nil
		})
	}
	link.Close()
	e.Dispatch(func(s *state.State) error {
		p.connectionLost(s, link)
		return nil
	})
}

// Observed is the address a node is reachable at, as seen from the link it talked to us on
func (p *PeerManager) Observed(link state.Link, port uint16) state.Addr {
	return state.Addr{
		Host: link.RemoteAddr().Addr().String(),
		Port: port,
	}
}

// AddAddress records where node listens, unless an address is already known
func (p *PeerManager) AddAddress(s *state.State, node state.NodeId, addr state.Addr) {
	if node == s.Id || !addr.IsValid() {
		return
	}
	if _, ok := p.Addresses[node]; !ok {
		s.Log.Debug("new address", "node", node, "addr", addr)
		p.Addresses[node] = addr
	}
}

// AddressOf returns the listening address of node, including this node's own
func (p *PeerManager) AddressOf(s *state.State, node state.NodeId) (state.Addr, bool) {
	if node == s.Id {
		return s.SelfAddr(), true
	}
	addr, ok := p.Addresses[node]
	return addr, ok
}

func (p *PeerManager) RegisterConnection(s *state.State, node state.NodeId, link state.Link) {
	p.Connections[node] = link
	p.joined = true
}

// Send delivers msg to node over its live connection. Without one, a fresh connection is dialed
// in the background that never becomes a peer relationship. Transport failures are only logged.
func (p *PeerManager) Send(s *state.State, node state.NodeId, msg *protocol.Message) {
	if link, ok := p.Connections[node]; ok {
		p.SendLink(s, link, msg)
		return
	}
	addr, ok := p.Addresses[node]
	if !ok {
		s.Log.Warn("no connection or address known", "node", node, "type", msg.Type())
		return
	}
	if p.unreachable.Get(addr.String()) != nil {
		s.Log.Warn("skipping unreachable address", "node", node, "addr", addr, "type", msg.Type())
		return
	}
	s.Log.Debug("no connection, dialing", "node", node, "addr", addr, "type", msg.Type())
	go p.sendOpportunistic(s.Env, node, addr, msg)
}

func (p *PeerManager) SendLink(s *state.State, link state.Link, msg *protocol.Message) {
	err := link.WriteMsg(msg)
	if err != nil {
		s.Log.Warn("failed to send", "remote", link.RemoteAddr(), "type", msg.Type(), "err", err)
		link.Close()
	}
}

func (p *PeerManager) sendOpportunistic(e *state.Env, node state.NodeId, addr state.Addr, msg *protocol.Message) {
	link, err := p.Dial(e.Context, addr)
	if err != nil {
		perf.DialFailures.Add(1)
		p.unreachable.Set(addr.String(), struct{}{}, ttlcache.DefaultTTL)
		e.Log.Warn("could not connect", "node", node, "addr", addr, "err", err)
		return
	}
	err = link.WriteMsg(msg)
	if err != nil {
		e.Log.Warn("failed to send", "node", node, "addr", addr, "err", err)
		link.Close()
		return
	}
	p.adopt(e, link, node)
}

// Seen records that node sent a message over link
func (p *PeerManager) Seen(link state.Link, node state.NodeId) {
	if link == nil || node == "" {
		return
	}
	if tl, ok := p.links[link.Id()]; ok {
		tl.node = node
	}
}

func (p *PeerManager) registered(id uuid.UUID) bool {
	for _, l := range p.Connections {
		if l.Id() == id {
			return true
		}
	}
	return false
}

// expireLink closes a link that never became a peer connection, unless it leads to a current peer
func (p *PeerManager) expireLink(s *state.State, id uuid.UUID) {
	tl, ok := p.links[id]
	if !ok || p.registered(id) {
		return
	}
	if tl.node != "" && s.IsPeer(tl.node) {
		return
	}
	s.Log.Debug("closing unused link", "node", tl.node, "remote", tl.RemoteAddr())
	delete(p.links, id)
	tl.Close()
}

// RemovePeer drops every link to node and its membership in the peer set
func (p *PeerManager) RemovePeer(s *state.State, node state.NodeId) {
	if link, ok := p.Connections[node]; ok {
		delete(p.Connections, node)
		s.Log.Debug("disconnecting", "node", node)
		link.Close()
	}
	for id, tl := range p.links {
		if tl.node == node {
			delete(p.links, id)
			tl.Close()
		}
	}
	if s.IsPeer(node) {
		s.Log.Info("removed peer", "node", node)
	}
	s.RemovePeer(node)
}

// VerifyPeer drops node if it is known by address but never completed a handshake
func (p *PeerManager) VerifyPeer(s *state.State, node state.NodeId) {
	if _, ok := p.Addresses[node]; ok && !s.IsPeer(node) {
		s.Log.Debug("handshake did not complete", "node", node)
		p.RemovePeer(s, node)
	}
}

func (p *PeerManager) ScheduleVerify(s *state.State, node state.NodeId) {
	s.ScheduleTask(func(s *state.State) error {
		p.VerifyPeer(s, node)
		return nil
	}, state.HandshakeTimeLimit)
}

// AcceptAnnounce updates the join state on an incoming announce. A node that has not joined the
// network yet is still searching, so the connection is refused.
func (p *PeerManager) AcceptAnnounce(s *state.State, link state.Link) bool {
	p.isolated = false
	if !p.joined {
		s.Log.Debug("not part of a network yet, refusing announce", "remote", link.RemoteAddr())
		link.Close()
		return false
	}
	return true
}

func (p *PeerManager) connectionLost(s *state.State, link state.Link) {
	delete(p.links, link.Id())
	node, ok := p.nodeOfLink(link)
	if !ok {
		return
	}
	s.Log.Debug("connection lost", "node", node, "remote", link.RemoteAddr())
	p.RemovePeer(s, node)
	p.fallbackDisconnect(s, node)
}

// nodeOfLink finds the peer a closed link belonged to, first by identity, then by listening
// address among nodes that have no live connection
func (p *PeerManager) nodeOfLink(link state.Link) (state.NodeId, bool) {
	for node, l := range p.Connections {
		if l.Id() == link.Id() {
			return node, true
		}
	}
	remote := link.RemoteAddr()
	for node, addr := range p.Addresses {
		if _, live := p.Connections[node]; live {
			continue
		}
		if addr.Port == remote.Port() && p.sameHost(addr.Host, remote.Addr()) {
			return node, true
		}
	}
	return "", false
}

func (p *PeerManager) sameHost(host string, addr netip.Addr) bool {
	if parsed, err := netip.ParseAddr(host); err == nil {
		return parsed.Unmap() == addr.Unmap()
	}
	return p.local.IsLocal(host) && p.local.IsLocal(addr.String())
}

// ElectFallback adopts node as this node's fallback if it has none yet, and tells every other
// peer about it
func (p *PeerManager) ElectFallback(s *state.State, node state.NodeId, link state.Link, port uint16) bool {
	if p.Fallback != nil {
		return false
	}
	p.Fallback = &state.Location{
		Addr: p.Observed(link, port),
		Node: node,
	}
	s.Log.Info("elected fallback", "fallback", p.Fallback.String())
	for _, peer := range s.Peers {
		if peer == node {
			continue
		}
		p.SendFallback(s, peer)
	}
	return true
}

func (p *PeerManager) FallbackString() string {
	if p.Fallback == nil {
		return ""
	}
	return p.Fallback.String()
}

// SendFallback sends a one hop acknowledge carrying this node's fallback
func (p *PeerManager) SendFallback(s *state.State, node state.NodeId) {
	p.Send(s, node, p.acknowledge(s, 1))
}

func (p *PeerManager) acknowledge(s *state.State, hops uint32) *protocol.Message {
	return &protocol.Message{
		Sender: string(s.Id),
		Hops:   hops,
		Content: &protocol.Acknowledge{
			Port:     s.Port,
			Fallback: p.FallbackString(),
		},
	}
}

func (p *PeerManager) announce(s *state.State) *protocol.Message {
	return &protocol.Message{
		Sender:  string(s.Id),
		Hops:    state.AnnounceHops,
		Content: &protocol.Announce{Port: s.Port},
	}
}

// fallbackDisconnect clears this node's fallback if node was it, and re-announces to the
// fallback node advertised, so the topology can close around the loss
func (p *PeerManager) fallbackDisconnect(s *state.State, node state.NodeId) {
	if p.Fallback != nil && p.Fallback.Node == node {
		s.Log.Info("fallback disconnected", "fallback", p.Fallback.String())
		p.Fallback = nil
	}
	fb, ok := p.Fallbacks[node]
	if !ok {
		return
	}
	delete(p.Fallbacks, node)
	s.Log.Debug("found learned fallback", "node", node, "fallback", fb)
	loc, err := state.ParseLocation(fb)
	if err != nil {
		s.Log.Debug("ignoring fallback", "node", node, "err", err)
		return
	}
	if loc.Node == s.Id {
		return
	}
	p.AddAddress(s, loc.Node, loc.Addr)
	s.Log.Info("reconnecting through fallback", "lost", node, "fallback", loc.String())
	p.Send(s, loc.Node, p.announce(s))
}
