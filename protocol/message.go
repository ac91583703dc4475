package protocol

import (
	"fmt"
	"time"
)

type MsgType uint8

const (
	TypeAnnounce MsgType = iota + 1
	TypeAcknowledge
	TypeRequest
	TypeDirectRequest
	TypeFail
	TypeData
)

func (t MsgType) String() string {
	switch t {
	case TypeAnnounce:
		return "ANNOUNCE"
	case TypeAcknowledge:
		return "ACKNOWLEDGE"
	case TypeRequest:
		return "REQUEST"
	case TypeDirectRequest:
		return "DIRECT_REQUEST"
	case TypeFail:
		return "FAIL"
	case TypeData:
		return "DATA"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Message is one framed unit on the wire
type Message struct {
	Sender string
	// Hops bounds how many more times the message may be forwarded
	Hops    uint32
	Content Content
}

func (m *Message) Type() MsgType {
	if m.Content == nil {
		return 0
	}
	return m.Content.Type()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s from %s (hops %d) %+v", m.Type(), m.Sender, m.Hops, m.Content)
}

// Content is one of *Announce, *Acknowledge, *Request, *DirectRequest, *Fail or *Data
type Content interface {
	Type() MsgType
	isContent()
}

type Announce struct {
	Port uint16
}

type Acknowledge struct {
	Port uint16
	// Fallback is the sender's fallback address as host:port:name, empty if it has none
	Fallback string
}

type Request struct {
	DataName   string
	TimeToWait time.Time
}

// DirectRequest asks a specific node for data it produces itself, without flooding
type DirectRequest struct {
	DataName   string
	TimeToWait time.Time
	Port       uint16
}

type Fail struct {
	DataName string
}

type Data struct {
	DataName string
	// Value is sealed with the shared key
	Value     string
	TimeToUse time.Time
	// Location is empty, NO_ADDRESS, or host:port:name of the node the data came from
	Location string
}

func (*Announce) Type() MsgType      { return TypeAnnounce }
func (*Acknowledge) Type() MsgType   { return TypeAcknowledge }
func (*Request) Type() MsgType       { return TypeRequest }
func (*DirectRequest) Type() MsgType { return TypeDirectRequest }
func (*Fail) Type() MsgType          { return TypeFail }
func (*Data) Type() MsgType          { return TypeData }

func (*Announce) isContent()      {}
func (*Acknowledge) isContent()   {}
func (*Request) isContent()       {}
func (*DirectRequest) isContent() {}
func (*Fail) isContent()          {}
func (*Data) isContent()          {}
