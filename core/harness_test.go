package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/sensor"
	"github.com/encodeous/weft/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// HarnessEvent is one message written to a link
type HarnessEvent struct {
	To      state.NodeId
	Hops    uint32
	Content protocol.Content
}

func (e HarnessEvent) String() string {
	return fmt.Sprintf("%s -> %s (hops %d) %+v", e.Content.Type(), e.To, e.Hops, e.Content)
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, ev := range h {
		out = append(out, ev.String())
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h HarnessEvents) contains(ev HarnessEvent) bool {
	return slices.ContainsFunc(h, func(x HarnessEvent) bool {
		return cmp.Equal(x, ev)
	})
}

type MockLink struct {
	id     uuid.UUID
	node   state.NodeId
	remote netip.AddrPort
	h      *Harness
	once   sync.Once
	done   chan struct{}
}

func (m *MockLink) Id() uuid.UUID {
	return m.id
}

func (m *MockLink) ReadMsg() (*protocol.Message, error) {
	<-m.done
	return nil, io.EOF
}

func (m *MockLink) WriteMsg(msg *protocol.Message) error {
	if m.Closed() {
		return net.ErrClosed
	}
	m.h.record(HarnessEvent{
		To:      m.node,
		Hops:    msg.Hops,
		Content: msg.Content,
	})
	return nil
}

func (m *MockLink) RemoteAddr() netip.AddrPort {
	return m.remote
}

func (m *MockLink) IsRemote() bool {
	return true
}

func (m *MockLink) Close() error {
	m.once.Do(func() {
		close(m.done)
	})
	return nil
}

func (m *MockLink) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

type RecordingConsumer struct {
	mu       sync.Mutex
	Used     map[string]string
	NotFound []string
	Errors   map[string]error
}

func (c *RecordingConsumer) UseData(name string, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Used[name] = value
}

func (c *RecordingConsumer) DataNotFound(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NotFound = append(c.NotFound, name)
}

func (c *RecordingConsumer) DataError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[name] = err
}

// Harness runs a single node against mock links. Every message it writes is recorded.
type Harness struct {
	t        *testing.T
	S        *state.State
	Clock    *clock.Mock
	Consumer *RecordingConsumer
	Peers    *PeerManager
	Store    *LocalStore
	Fwd      *Forwarder

	mu       sync.Mutex
	events   HarnessEvents
	dialable map[string]state.NodeId
	dials    []string
	links    []*MockLink
}

func NewHarness(t *testing.T, id state.NodeId, port uint16) *Harness {
	t.Helper()
	cfg := state.NodeCfg{Id: id, Port: port}
	state.ExpandNodeConfig(&cfg)

	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(*state.State) error, 128)
	logger, err := NewLogger(id, slog.LevelDebug, "")
	require.NoError(t, err)

	h := &Harness{
		t:     t,
		Clock: clk,
		Consumer: &RecordingConsumer{
			Used:   make(map[string]string),
			Errors: make(map[string]error),
		},
		dialable: make(map[string]state.NodeId),
	}
	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			DispatchChannel: dispatch,
			NodeCfg:         cfg,
			Context:         ctx,
			Cancel:          cancel,
			Log:             logger,
			Clock:           clk,
			Consumer:        h.Consumer,
		},
	}
	s.PIT = state.NewTable[state.NodeId](cfg.PitSize, clk)
	s.Cache = state.NewTable[string](cfg.CacheSize, clk)
	s.Locations = state.NewTable[state.NodeId](cfg.LocationSize, clk)

	h.Store = &LocalStore{
		sensors: make(map[string]sensor.Generator),
		data:    make(map[string]localValue),
		clock:   clk,
	}
	h.Peers = &PeerManager{Dial: h.dial}
	h.Peers.setup(s)
	h.Fwd = &Forwarder{store: h.Store, peers: h.Peers}
	for _, m := range []state.Module{h.Store, h.Peers, h.Fwd} {
		s.Modules[reflect.TypeOf(m).String()] = m
	}
	h.S = s

	done := make(chan error, 1)
	go func() {
		done <- MainLoop(s, dispatch)
	}()
	t.Cleanup(func() {
		cancel(errors.New("test finished"))
		<-done
	})
	return h
}

// Run executes fun on the node's dispatch loop and waits for it
func (h *Harness) Run(fun func(s *state.State)) {
	h.t.Helper()
	_, err := h.S.DispatchWait(func(s *state.State) (any, error) {
		fun(s)
		return nil, nil
	})
	require.NoError(h.t, err)
}

func (h *Harness) record(ev HarnessEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *Harness) dial(ctx context.Context, addr state.Addr) (state.Link, error) {
	h.mu.Lock()
	h.dials = append(h.dials, addr.String())
	node, ok := h.dialable[addr.String()]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connection refused", addr)
	}
	return h.newLink(node, netip.AddrPortFrom(netip.MustParseAddr(addrHost(addr.Host)), addr.Port)), nil
}

func addrHost(host string) string {
	if host == "localhost" {
		return "127.0.0.1"
	}
	return host
}

func (h *Harness) newLink(node state.NodeId, remote netip.AddrPort) *MockLink {
	link := &MockLink{
		id:     uuid.New(),
		node:   node,
		remote: remote,
		h:      h,
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.links = append(h.links, link)
	h.mu.Unlock()
	return link
}

// Link makes an inbound link from node connecting from remote
func (h *Harness) Link(node state.NodeId, remote string) *MockLink {
	return h.newLink(node, netip.MustParseAddrPort(remote))
}

// Accept makes an inbound link from node and hands it to the peer manager, as the listener does
func (h *Harness) Accept(node state.NodeId, remote string) *MockLink {
	link := h.Link(node, remote)
	h.Peers.adopt(h.S.Env, link, "")
	return link
}

// LinksTo returns every link made with node on the other end
func (h *Harness) LinksTo(node state.NodeId) []*MockLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	var res []*MockLink
	for _, link := range h.links {
		if link.node == node {
			res = append(res, link)
		}
	}
	return res
}

// OpenLinks counts the links the peer manager still tracks
func (h *Harness) OpenLinks() int {
	n := 0
	h.Run(func(s *state.State) {
		n = len(h.Peers.links)
	})
	return n
}

// Dialable lets the node reach node by dialing addr
func (h *Harness) Dialable(node state.NodeId, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialable[addr] = node
}

// AddPeer connects node as an active peer listening on addr
func (h *Harness) AddPeer(node state.NodeId, addr string) *MockLink {
	ap := netip.MustParseAddrPort(addr)
	link := h.newLink(node, netip.AddrPortFrom(ap.Addr(), 50000+ap.Port()%1000))
	h.Run(func(s *state.State) {
		h.Peers.AddAddress(s, node, state.Addr{Host: ap.Addr().String(), Port: ap.Port()})
		h.Peers.RegisterConnection(s, node, link)
		s.AddPeer(node)
	})
	return link
}

func (h *Harness) Receive(link *MockLink, hops uint32, content protocol.Content) {
	h.ReceiveFrom(link, link.node, hops, content)
}

func (h *Harness) ReceiveFrom(link *MockLink, sender state.NodeId, hops uint32, content protocol.Content) {
	h.Run(func(s *state.State) {
		h.Fwd.HandleMessage(s, &protocol.Message{
			Sender:  string(sender),
			Hops:    hops,
			Content: content,
		}, link)
	})
}

// Events returns and clears everything recorded so far
func (h *Harness) Events() HarnessEvents {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := h.events
	h.events = nil
	return ev
}

func (h *Harness) peek() HarnessEvents {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

func (h *Harness) Dials() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.dials)
}

// AssertSent waits for ev to be written, sends over dialed links happen in the background
func (h *Harness) AssertSent(ev HarnessEvent) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.peek().contains(ev) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatal("Expected event not found: ", ev, " in\n", h.peek())
}

func (h *Harness) AssertNotSent(ev HarnessEvent) {
	h.t.Helper()
	if h.peek().contains(ev) {
		h.t.Fatal("Unexpected event found: ", ev, " in\n", h.peek())
	}
}

// Settle waits for background dials to finish
func (h *Harness) Settle() {
	time.Sleep(50 * time.Millisecond)
	h.Run(func(s *state.State) {})
}

// Advance moves the mock clock and lets scheduled tasks run
func (h *Harness) Advance(d time.Duration) {
	h.Clock.Add(d)
	h.Settle()
}

// WaitFor returns the first recorded event matching match
func (h *Harness) WaitFor(match func(ev HarnessEvent) bool) HarnessEvent {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range h.peek() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatal("No matching event in\n", h.peek())
	return HarnessEvent{}
}
