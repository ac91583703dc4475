package state

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

type NodeId string

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// Consumer receives the outcome of requests this node originated.
type Consumer interface {
	UseData(name string, value string)
	DataNotFound(name string)
	DataError(name string, err error)
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]Module
	// Peers is the set of nodes that completed the handshake, in the order they joined
	Peers []NodeId
	// PIT maps a data name to the node that asked for it
	PIT *Table[NodeId]
	// Cache holds sealed values that passed through this node
	Cache *Table[string]
	// Locations maps a data name to the node that last served it
	Locations *Table[NodeId]
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	NodeCfg
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Clock    clock.Clock
	Consumer Consumer
	Started  atomic.Bool
	Stopping atomic.Bool
}

func (s *State) IsPeer(node NodeId) bool {
	return slices.Contains(s.Peers, node)
}

func (s *State) AddPeer(node NodeId) {
	if !s.IsPeer(node) {
		s.Peers = append(s.Peers, node)
	}
}

func (s *State) RemovePeer(node NodeId) {
	s.Peers = slices.DeleteFunc(s.Peers, func(n NodeId) bool {
		return n == node
	})
}
