package core

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
	"github.com/google/uuid"
)

type TCPLink struct {
	id     uuid.UUID
	Conn   net.Conn
	remote bool
	mutex  sync.Mutex
}

func NewTCPLink(conn net.Conn, remote bool) *TCPLink {
	return &TCPLink{
		id:     uuid.New(),
		Conn:   conn,
		remote: remote,
	}
}

func (T *TCPLink) Close() error {
	return T.Conn.Close()
}

func (T *TCPLink) IsRemote() bool {
	return T.remote
}

func (T *TCPLink) Id() uuid.UUID {
	return T.id
}

func (T *TCPLink) RemoteAddr() netip.AddrPort {
	if addr, ok := T.Conn.RemoteAddr().(*net.TCPAddr); ok {
		ap := addr.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, _ := netip.ParseAddrPort(T.Conn.RemoteAddr().String())
	return ap
}

func (T *TCPLink) ReadMsg() (*protocol.Message, error) {
	data, err := protocol.ReadFrame(T.Conn)
	if err != nil {
		return nil, err
	}
	perf.RecvMsgPerSecond.Add(1)
	perf.RecvBytesPerSecond.Add(float64(len(data) + 4))
	return protocol.Unmarshal(data)
}

func (T *TCPLink) WriteMsg(m *protocol.Message) error {
	out, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	T.mutex.Lock()
	defer T.mutex.Unlock()
	err = T.Conn.SetWriteDeadline(time.Now().Add(state.WriteTimeout))
	if err != nil {
		return err
	}
	err = protocol.WriteFrame(T.Conn, out)
	if err != nil {
		return err
	}
	perf.SentMsgPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(out) + 4))
	return nil
}

func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	config := net.ListenConfig{}
	return config.Listen(ctx, "tcp", addr)
}

// DialTCP connects to addr, giving up after state.DialTimeout
func DialTCP(ctx context.Context, addr state.Addr) (state.Link, error) {
	dialer := net.Dialer{Timeout: state.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	return NewTCPLink(conn, false), nil
}
