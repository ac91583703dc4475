package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalData(t *testing.T) {
	ttu := time.UnixMilli(1_700_000_000_123)
	m := &Message{
		Sender: "lulea",
		Hops:   1,
		Content: &Data{
			DataName:  "lulea_temp",
			Value:     "sealed",
			TimeToUse: ttu,
			Location:  "localhost:33010:lulea",
		},
	}
	b, err := Marshal(m)
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, TypeData, out.Type())
	assert.Equal(t, "lulea", out.Sender)
	assert.Equal(t, uint32(1), out.Hops)
	data := out.Content.(*Data)
	assert.Equal(t, "lulea_temp", data.DataName)
	assert.Equal(t, "sealed", data.Value)
	assert.True(t, ttu.Equal(data.TimeToUse))
	assert.Equal(t, "localhost:33010:lulea", data.Location)
}

func TestZeroValuesAreOmitted(t *testing.T) {
	b, err := Marshal(&Message{Sender: "a", Content: &Request{DataName: "x_temp"}})
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), out.Hops)
	assert.True(t, out.Content.(*Request).TimeToWait.IsZero())

	// an acknowledge without fallback still decodes
	b, err = Marshal(&Message{Sender: "a", Hops: 1, Content: &Acknowledge{Port: 33011}})
	require.NoError(t, err)
	out, err = Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, &Acknowledge{Port: 33011}, out.Content)
}

func TestUnknownType(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, "a")
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	_, err := Unmarshal(b)
	assert.ErrorIs(t, err, ErrUnknownType)

	// no type at all
	_, err = Unmarshal(b[:3])
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestFieldOutsideType(t *testing.T) {
	// an announce carrying a data value
	var content []byte
	content = protowire.AppendTag(content, fieldPort, protowire.VarintType)
	content = protowire.AppendVarint(content, 33010)
	content = protowire.AppendTag(content, fieldDataValue, protowire.BytesType)
	content = protowire.AppendString(content, "v")

	b := envelope("a", TypeAnnounce, content)
	_, err := Unmarshal(b)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestUnknownEnvelopeField(t *testing.T) {
	b := envelope("a", TypeFail, protowire.AppendString(protowire.AppendTag(nil, fieldDataName, protowire.BytesType), "x"))
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	_, err := Unmarshal(b)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestWrongWireType(t *testing.T) {
	var content []byte
	content = protowire.AppendTag(content, fieldPort, protowire.BytesType)
	content = protowire.AppendString(content, "33010")
	_, err := Unmarshal(envelope("a", TypeAnnounce, content))
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestMissingFields(t *testing.T) {
	_, err := Unmarshal(envelope("", TypeAnnounce, nil))
	assert.ErrorIs(t, err, ErrMissingField)

	for _, typ := range []MsgType{TypeRequest, TypeDirectRequest, TypeFail, TypeData} {
		_, err = Unmarshal(envelope("a", typ, nil))
		assert.ErrorIs(t, err, ErrMissingField, typ.String())
	}

	_, err = Marshal(&Message{Sender: "a"})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestPortOutOfRange(t *testing.T) {
	var content []byte
	content = protowire.AppendTag(content, fieldPort, protowire.VarintType)
	content = protowire.AppendVarint(content, 70000)
	_, err := Unmarshal(envelope("a", TypeAnnounce, content))
	assert.ErrorContains(t, err, "port 70000 out of range")
}

func TestTruncated(t *testing.T) {
	b, err := Marshal(&Message{Sender: "node", Hops: 5, Content: &Request{DataName: "x_wind", TimeToWait: time.Now()}})
	require.NoError(t, err)
	for i := 1; i < len(b); i++ {
		_, err = Unmarshal(b[:i])
		assert.Error(t, err, "prefix of length %d", i)
	}
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "DIRECT_REQUEST", TypeDirectRequest.String())
	assert.Equal(t, "UNKNOWN(9)", MsgType(9).String())
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, []byte("world")))
	assert.Equal(t, 18, buf.Len())

	a, err := ReadFrame(&buf)
	require.NoError(t, err)
	b, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(a))
	assert.Equal(t, "world", string(b))
}

func TestFrameSize(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrPacketSize)
	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxPacketSize+1)), ErrPacketSize)

	// a peer announcing an oversized frame
	buf.Reset()
	buf.Write([]byte{0, 1, 0, 1})
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrPacketSize)

	buf.Reset()
	buf.Write([]byte{0, 0, 0, 0})
	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrPacketSize)
}

func envelope(sender string, typ MsgType, content []byte) []byte {
	var b []byte
	if sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, sender)
	}
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(typ))
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	return protowire.AppendBytes(b, content)
}

func TestDecodeErrorsAreMalformed(t *testing.T) {
	_, err := Unmarshal([]byte{0xff})
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Unmarshal(envelope("a", 42, nil))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, ErrUnknownType)
}
