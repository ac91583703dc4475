package core

import (
	"net/netip"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

// TraceEvent is published for every message a node handles
type TraceEvent struct {
	Node   state.NodeId
	Remote netip.AddrPort
	Msg    *protocol.Message
}

// Tracer fans handled messages out to any registered listener. Slow listeners miss events.
type Tracer struct {
	broadcast.Broadcaster
}

func (t *Tracer) Init(s *state.State) error {
	t.Broadcaster = broadcast.NewBroadcaster(1024)
	return nil
}

func (t *Tracer) Cleanup(s *state.State) error {
	return t.Broadcaster.Close()
}

func (t *Tracer) Trace(s *state.State, msg *protocol.Message, link state.Link) {
	ev := TraceEvent{
		Node: s.Id,
		Msg:  msg,
	}
	if link != nil {
		ev.Remote = link.RemoteAddr()
	}
	t.TrySubmit(ev)
}
