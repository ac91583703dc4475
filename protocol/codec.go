package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed wraps every decoding failure, the frame is dropped but the link stays usable
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrUnknownField = errors.New("unknown field")
	ErrMissingField = errors.New("missing field")
)

// envelope fields
const (
	fieldSender  protowire.Number = 1
	fieldType    protowire.Number = 2
	fieldHops    protowire.Number = 3
	fieldContent protowire.Number = 4
)

// content fields
const (
	fieldPort       protowire.Number = 1
	fieldFallback   protowire.Number = 2
	fieldDataName   protowire.Number = 3
	fieldTimeToWait protowire.Number = 4
	fieldDataValue  protowire.Number = 5
	fieldTimeToUse  protowire.Number = 6
	fieldLocation   protowire.Number = 7
)

func fieldSet(nums ...protowire.Number) uint32 {
	var set uint32
	for _, n := range nums {
		set |= 1 << n
	}
	return set
}

var allowedFields = map[MsgType]uint32{
	TypeAnnounce:      fieldSet(fieldPort),
	TypeAcknowledge:   fieldSet(fieldPort, fieldFallback),
	TypeRequest:       fieldSet(fieldDataName, fieldTimeToWait),
	TypeDirectRequest: fieldSet(fieldDataName, fieldTimeToWait, fieldPort),
	TypeFail:          fieldSet(fieldDataName),
	TypeData:          fieldSet(fieldDataName, fieldDataValue, fieldTimeToUse, fieldLocation),
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() || t.UnixMilli() <= 0 {
		return b
	}
	return appendVarint(b, num, uint64(t.UnixMilli()))
}

func marshalContent(c Content) ([]byte, error) {
	b := make([]byte, 0, 64)
	switch c := c.(type) {
	case *Announce:
		b = appendVarint(b, fieldPort, uint64(c.Port))
	case *Acknowledge:
		b = appendVarint(b, fieldPort, uint64(c.Port))
		b = appendString(b, fieldFallback, c.Fallback)
	case *Request:
		b = appendString(b, fieldDataName, c.DataName)
		b = appendTime(b, fieldTimeToWait, c.TimeToWait)
	case *DirectRequest:
		b = appendString(b, fieldDataName, c.DataName)
		b = appendTime(b, fieldTimeToWait, c.TimeToWait)
		b = appendVarint(b, fieldPort, uint64(c.Port))
	case *Fail:
		b = appendString(b, fieldDataName, c.DataName)
	case *Data:
		b = appendString(b, fieldDataName, c.DataName)
		b = appendString(b, fieldDataValue, c.Value)
		b = appendTime(b, fieldTimeToUse, c.TimeToUse)
		b = appendString(b, fieldLocation, c.Location)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, c)
	}
	return b, nil
}

// Marshal encodes a message in protobuf wire format
func Marshal(m *Message) ([]byte, error) {
	if m.Content == nil {
		return nil, fmt.Errorf("%w: content", ErrMissingField)
	}
	content, err := marshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(content)+len(m.Sender)+16)
	b = appendString(b, fieldSender, m.Sender)
	b = appendVarint(b, fieldType, uint64(m.Type()))
	b = appendVarint(b, fieldHops, uint64(m.Hops))
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendBytes(b, content)
	return b, nil
}

// Unmarshal decodes a message, rejecting unknown types and fields that do not belong to the type
func Unmarshal(b []byte) (*Message, error) {
	m, err := unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return m, nil
}

func unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	var msgType MsgType
	var content []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldSender && typ == protowire.BytesType:
			m.Sender, n = protowire.ConsumeString(b)
		case num == fieldType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			msgType = MsgType(min(v, math.MaxUint8))
		case num == fieldHops && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.Hops = uint32(min(v, math.MaxUint32))
		case num == fieldContent && typ == protowire.BytesType:
			content, n = protowire.ConsumeBytes(b)
		default:
			return nil, fmt.Errorf("%w: envelope field %d", ErrUnknownField, num)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if m.Sender == "" {
		return nil, fmt.Errorf("%w: sender", ErrMissingField)
	}
	c, err := unmarshalContent(msgType, content)
	if err != nil {
		return nil, err
	}
	m.Content = c
	return m, nil
}

type contentFields struct {
	port      uint16
	fallback  string
	dataName  string
	dataValue string
	location  string
	ttw       time.Time
	ttu       time.Time
}

func unmarshalContent(msgType MsgType, b []byte) (Content, error) {
	allowed, ok := allowedFields[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, msgType)
	}
	f := contentFields{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num < 1 || num >= 32 || allowed&(1<<num) == 0 {
			return nil, fmt.Errorf("%w: %s does not carry field %d", ErrUnknownField, msgType, num)
		}
		switch num {
		case fieldPort, fieldTimeToWait, fieldTimeToUse:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("%w: field %d has wire type %d", ErrUnknownField, num, typ)
			}
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case fieldPort:
				if v > math.MaxUint16 {
					return nil, fmt.Errorf("port %d out of range", v)
				}
				f.port = uint16(v)
			case fieldTimeToWait:
				f.ttw = time.UnixMilli(int64(min(v, math.MaxInt64)))
			case fieldTimeToUse:
				f.ttu = time.UnixMilli(int64(min(v, math.MaxInt64)))
			}
		default:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("%w: field %d has wire type %d", ErrUnknownField, num, typ)
			}
			var v string
			v, n = protowire.ConsumeString(b)
			switch num {
			case fieldFallback:
				f.fallback = v
			case fieldDataName:
				f.dataName = v
			case fieldDataValue:
				f.dataValue = v
			case fieldLocation:
				f.location = v
			}
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if allowed&(1<<fieldDataName) != 0 && f.dataName == "" {
		return nil, fmt.Errorf("%w: %s without data name", ErrMissingField, msgType)
	}

	switch msgType {
	case TypeAnnounce:
		return &Announce{Port: f.port}, nil
	case TypeAcknowledge:
		return &Acknowledge{Port: f.port, Fallback: f.fallback}, nil
	case TypeRequest:
		return &Request{DataName: f.dataName, TimeToWait: f.ttw}, nil
	case TypeDirectRequest:
		return &DirectRequest{DataName: f.dataName, TimeToWait: f.ttw, Port: f.port}, nil
	case TypeFail:
		return &Fail{DataName: f.dataName}, nil
	default:
		return &Data{DataName: f.dataName, Value: f.dataValue, TimeToUse: f.ttu, Location: f.location}, nil
	}
}
