package state

import (
	"net/netip"

	"github.com/encodeous/weft/protocol"
	"github.com/google/uuid"
)

// Link is a bidirectional message transport to another node
type Link interface {
	Id() uuid.UUID
	ReadMsg() (*protocol.Message, error)
	WriteMsg(m *protocol.Message) error
	// RemoteAddr is the address of the other end of the connection as observed by this node
	RemoteAddr() netip.AddrPort
	// IsRemote is true if the other node initiated the connection
	IsRemote() bool
	Close() error
}
