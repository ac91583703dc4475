package core

import (
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

// Forwarder is the content retrieval state machine. It answers interests from local data and the
// cache, forwards them using the PIT and location hints, and unwinds DATA and FAIL back along the
// PIT chain.
type Forwarder struct {
	store  *LocalStore
	peers  *PeerManager
	tracer *Tracer
}

func (f *Forwarder) Init(s *state.State) error {
	s.Log.Debug("init forwarder")
	f.store = Get[*LocalStore](s)
	f.peers = Get[*PeerManager](s)
	f.tracer = Get[*Tracer](s)
	return nil
}

func (f *Forwarder) Cleanup(s *state.State) error {
	return nil
}

// HandleMessage runs the handler for one message that arrived on link
func (f *Forwarder) HandleMessage(s *state.State, msg *protocol.Message, link state.Link) {
	s.Log.Debug("received", "msg", msg)
	if f.tracer != nil {
		f.tracer.Trace(s, msg, link)
	}
	from := state.NodeId(msg.Sender)
	f.peers.Seen(link, from)
	switch c := msg.Content.(type) {
	case *protocol.Announce:
		f.handleAnnounce(s, from, c, msg.Hops, link)
	case *protocol.Acknowledge:
		f.handleAcknowledge(s, from, c, msg.Hops, link)
	case *protocol.Request:
		s.Log.Info("request received", "from", from, "name", c.DataName, "hops", msg.Hops)
		f.handleRequest(s, from, c, msg.Hops)
	case *protocol.DirectRequest:
		f.handleDirectRequest(s, from, c, link)
	case *protocol.Fail:
		f.handleFail(s, from, c.DataName)
	case *protocol.Data:
		s.Log.Info("data received", "from", from, "name", c.DataName)
		f.deliver(s, from, c, true)
	}
}

func (f *Forwarder) send(s *state.State, node state.NodeId, hops uint32, content protocol.Content) {
	s.Log.Debug("sending", "to", node, "type", content.Type(), "hops", hops)
	f.peers.Send(s, node, &protocol.Message{
		Sender:  string(s.Id),
		Hops:    hops,
		Content: content,
	})
}

func (f *Forwarder) handleAnnounce(s *state.State, from state.NodeId, c *protocol.Announce, hops uint32, link state.Link) {
	if from == s.Id {
		s.Log.Info("connection to self, disconnecting")
		link.Close()
		return
	}
	if !f.peers.AcceptAnnounce(s, link) {
		return
	}
	s.Log.Info("announcement received", "from", from)
	f.peers.AddAddress(s, from, f.peers.Observed(link, c.Port))
	f.peers.ScheduleVerify(s, from)
	f.send(s, from, hops, &protocol.Acknowledge{
		Port:     s.Port,
		Fallback: f.peers.FallbackString(),
	})
}

func (f *Forwarder) handleAcknowledge(s *state.State, from state.NodeId, c *protocol.Acknowledge, hops uint32, link state.Link) {
	if from == s.Id {
		return
	}
	if c.Fallback != "" {
		s.Log.Debug("updating fallback", "node", from, "fallback", c.Fallback)
		f.peers.Fallbacks[from] = c.Fallback
	}
	if s.IsPeer(from) || link == nil {
		return
	}
	s.Log.Info("acknowledgement received", "from", from)
	elected := f.peers.ElectFallback(s, from, link, c.Port)
	f.peers.AddAddress(s, from, f.peers.Observed(link, c.Port))
	f.peers.RegisterConnection(s, from, link)
	s.AddPeer(from)
	if elected {
		f.peers.SendFallback(s, from)
	} else if hops > 1 {
		f.peers.Send(s, from, f.peers.acknowledge(s, hops-1))
	}
}

func (f *Forwarder) handleRequest(s *state.State, from state.NodeId, c *protocol.Request, hops uint32) {
	if hops > 0 {
		hops--
	}
	name := c.DataName
	if f.serveLocal(s, from, name, state.NoAddress) {
		return
	}
	if token, ttu, ok := s.Cache.Get(name); ok {
		perf.CacheHits.Add(1)
		s.Log.Debug("serving from cache", "name", name, "to", from)
		f.send(s, from, 1, &protocol.Data{
			DataName:  name,
			Value:     token,
			TimeToUse: ttu,
			Location:  state.NoAddress,
		})
		return
	}
	if hops == 0 {
		f.send(s, from, 1, &protocol.Fail{DataName: name})
		return
	}
	if s.PIT.Contains(name) {
		s.Log.Debug("interest already pending", "name", name, "from", from)
		return
	}
	if !c.TimeToWait.After(s.Clock.Now()) {
		s.Log.Debug("interest already expired", "name", name, "from", from)
		return
	}

	req := &protocol.Request{DataName: name, TimeToWait: c.TimeToWait}
	if loc, _, ok := s.Locations.Get(name); ok && s.IsPeer(loc) {
		s.PIT.Add(name, from, c.TimeToWait, 1)
		f.send(s, loc, hops, req)
		return
	}
	count := f.flood(s, from, req, hops)
	if count == 0 {
		f.send(s, from, 1, &protocol.Fail{DataName: name})
		return
	}
	s.PIT.Add(name, from, c.TimeToWait, count)
}

// flood sends req to every peer except the requester, returning how many peers were contacted
func (f *Forwarder) flood(s *state.State, requester state.NodeId, req *protocol.Request, hops uint32) int {
	count := 0
	for _, peer := range s.Peers {
		if peer == requester || peer == s.Id {
			continue
		}
		count++
		f.send(s, peer, hops, req)
	}
	if count > 0 {
		perf.Floods.Add(1)
	}
	return count
}

// serveLocal answers name from this node's own data, sealing the value
func (f *Forwarder) serveLocal(s *state.State, to state.NodeId, name string, location string) bool {
	value, ttu, ok := f.store.GetLocalData(name)
	if !ok {
		return false
	}
	token, err := state.Seal(value, s.Key)
	if err != nil {
		s.Log.Error("failed to seal data", "name", name, "err", err)
		f.send(s, to, 1, &protocol.Fail{DataName: name})
		return true
	}
	f.send(s, to, 1, &protocol.Data{
		DataName:  name,
		Value:     token,
		TimeToUse: ttu,
		Location:  location,
	})
	return true
}

func (f *Forwarder) handleDirectRequest(s *state.State, from state.NodeId, c *protocol.DirectRequest, link state.Link) {
	s.Log.Info("direct request received", "from", from, "name", c.DataName)
	f.peers.AddAddress(s, from, f.peers.Observed(link, c.Port))
	if !f.serveLocal(s, from, c.DataName, "") {
		f.send(s, from, 1, &protocol.Fail{DataName: c.DataName})
	}
	if !s.IsPeer(from) {
		s.ScheduleTask(func(s *state.State) error {
			if !s.IsPeer(from) {
				f.peers.RemovePeer(s, from)
			}
			return nil
		}, state.HandshakeTimeLimit)
	}
}

func (f *Forwarder) handleFail(s *state.State, from state.NodeId, name string) {
	dest, remaining, ok := s.PIT.RemoveCount(name)
	if !ok {
		return
	}
	s.Log.Info("fail received", "from", from, "name", name, "remaining", remaining)
	if remaining > 0 {
		return
	}
	if dest != s.Id {
		f.send(s, dest, 1, &protocol.Fail{DataName: name})
		return
	}
	s.Log.Warn("data could not be found on network", "name", name)
	s.Locations.Remove(name)
	s.Consumer.DataNotFound(name)
}

// deliver satisfies the PIT entry for data. Data for this node is recorded as a location hint and
// handed to the consumer, data for another node is forwarded and cached on the way. sealed is false
// only for this node's own data, which never went through Seal.
func (f *Forwarder) deliver(s *state.State, from state.NodeId, data *protocol.Data, sealed bool) {
	name := data.DataName
	dest, ok := s.PIT.Remove(name)
	if !ok {
		s.Log.Debug("no pending interest", "name", name, "from", from)
		return
	}
	loc, hasLoc := f.rewriteLocation(s, from, data.Location)
	if dest == s.Id {
		if hasLoc {
			s.Locations.Add(name, loc.Node, state.Never, 1)
			f.peers.AddAddress(s, loc.Node, loc.Addr)
		}
		value := data.Value
		if sealed {
			var err error
			value, err = state.Open(data.Value, s.Key)
			if err != nil {
				s.Log.Error("failed to open data", "name", name, "from", from, "err", err)
				s.Consumer.DataError(name, err)
				f.dropNonPeer(s, from)
				return
			}
		}
		s.Consumer.UseData(name, value)
	} else {
		location := ""
		if hasLoc {
			location = loc.String()
		}
		f.send(s, dest, 1, &protocol.Data{
			DataName:  name,
			Value:     data.Value,
			TimeToUse: data.TimeToUse,
			Location:  location,
		})
		s.Cache.Add(name, data.Value, data.TimeToUse, 1)
	}
	f.dropNonPeer(s, from)
}

// dropNonPeer tears down the connection to a node that served data without being a peer
func (f *Forwarder) dropNonPeer(s *state.State, node state.NodeId) {
	if node != s.Id && !s.IsPeer(node) {
		f.peers.RemovePeer(s, node)
	}
}

// rewriteLocation annotates a location with the address of the node that relayed it. Hosts inside
// the local prefixes never replace a recorded host.
func (f *Forwarder) rewriteLocation(s *state.State, relay state.NodeId, location string) (state.Location, bool) {
	if location == "" {
		return state.Location{}, false
	}
	addr, ok := f.peers.AddressOf(s, relay)
	if !ok {
		return state.Location{}, false
	}
	if location == state.NoAddress {
		return state.Location{Addr: addr, Node: relay}, true
	}
	loc, err := state.ParseLocation(location)
	if err != nil {
		s.Log.Debug("could not decode location", "location", location, "err", err)
		return state.Location{}, false
	}
	if !f.peers.local.IsLocal(addr.Host) {
		loc.Host = addr.Host
	}
	return loc, true
}

// RequestData asks the network for name on behalf of this node. The outcome is reported to the
// consumer. A request for a name with an interest already pending is suppressed, so the pending
// requester keeps its answer.
func (f *Forwarder) RequestData(s *state.State, name string, timeToWait time.Time, hops uint32) {
	if dest, _, ok := s.PIT.Get(name); ok {
		s.Log.Warn("request already pending, suppressing", "name", name, "for", dest)
		return
	}
	s.Log.Info("requesting data", "name", name)
	s.PIT.Add(name, s.Id, timeToWait, 1)

	if value, ttu, ok := f.store.GetLocalData(name); ok {
		f.deliver(s, s.Id, &protocol.Data{
			DataName:  name,
			Value:     value,
			TimeToUse: ttu,
		}, false)
		return
	}
	if loc, _, ok := s.Locations.Get(name); ok && loc != s.Id {
		if s.IsPeer(loc) {
			f.send(s, loc, 1, &protocol.Request{DataName: name, TimeToWait: timeToWait})
		} else {
			f.send(s, loc, hops, &protocol.DirectRequest{DataName: name, TimeToWait: timeToWait, Port: s.Port})
		}
		return
	}
	if len(s.Peers) == 0 {
		s.Log.Warn("no peers for data request", "name", name)
		f.handleFail(s, s.Id, name)
		f.peers.Search(s)
		return
	}
	count := f.flood(s, s.Id, &protocol.Request{DataName: name, TimeToWait: timeToWait}, hops)
	s.PIT.Add(name, s.Id, timeToWait, count)
}
