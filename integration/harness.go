//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
)

// Outcome is what a node's consumer was told about one request
type Outcome struct {
	Node  state.NodeId
	Name  string
	Value string
	Found bool
	Err   error
}

type CaptureConsumer struct {
	node     state.NodeId
	outcomes chan Outcome
}

func (c *CaptureConsumer) UseData(name string, value string) {
	c.outcomes <- Outcome{Node: c.node, Name: name, Value: value, Found: true}
}

func (c *CaptureConsumer) DataNotFound(name string) {
	c.outcomes <- Outcome{Node: c.node, Name: name}
}

func (c *CaptureConsumer) DataError(name string, err error) {
	c.outcomes <- Outcome{Node: c.node, Name: name, Err: err}
}

// NodeHarness runs several nodes in process, talking over loopback TCP
type NodeHarness struct {
	Nodes    []state.NodeCfg
	States   []atomic.Pointer[state.State]
	Outcomes chan Outcome
	// StartDelay separates node starts so each search finishes before the next node comes up
	StartDelay time.Duration
	MinPort    uint16
	MaxPort    uint16

	wg      sync.WaitGroup
	stopped []bool
}

func NewNodeHarness(minPort, maxPort uint16) *NodeHarness {
	return &NodeHarness{
		Outcomes:   make(chan Outcome, 128),
		StartDelay: time.Millisecond * 500,
		MinPort:    minPort,
		MaxPort:    maxPort,
	}
}

func (v *NodeHarness) IndexOf(id state.NodeId) int {
	return slices.IndexFunc(v.Nodes, func(cfg state.NodeCfg) bool {
		return cfg.Id == id
	})
}

// NewNode adds a node listening on the next free port of the search range. A non-empty prefix
// makes it produce <prefix>_temp.
func (v *NodeHarness) NewNode(id state.NodeId, prefix string) {
	cfg := state.NodeCfg{
		Id:            id,
		Port:          v.MinPort + uint16(len(v.Nodes)),
		DataPrefix:    prefix,
		SearchHosts:   []string{"127.0.0.1"},
		SearchMinPort: v.MinPort,
		SearchMaxPort: v.MaxPort,
	}
	if prefix != "" {
		cfg.Sensors = []string{"temp"}
	}
	state.ExpandNodeConfig(&cfg)
	v.Nodes = append(v.Nodes, cfg)
}

func (v *NodeHarness) Start() chan error {
	v.States = make([]atomic.Pointer[state.State], len(v.Nodes))
	v.stopped = make([]bool, len(v.Nodes))
	errChan := make(chan error, 128)
	for idx, cfg := range v.Nodes {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			labels := pprof.Labels("weft node", string(cfg.Id))
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				err := core.Start(cfg, slog.LevelDebug, map[string]any{
					"consumer": &CaptureConsumer{node: cfg.Id, outcomes: v.Outcomes},
				}, &v.States[idx])
				if err != nil {
					errChan <- fmt.Errorf("%s: %w", cfg.Id, err)
				}
			})
		}()
		v.waitStarted(idx)
		time.Sleep(v.StartDelay)
	}
	return errChan
}

func (v *NodeHarness) waitStarted(idx int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := v.States[idx].Load(); s != nil && s.Started.Load() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// StopNode shuts down one node, the others keep running
func (v *NodeHarness) StopNode(id state.NodeId) {
	idx := v.IndexOf(id)
	if v.stopped[idx] {
		return
	}
	v.stopped[idx] = true
	v.States[idx].Load().Cancel(errors.New("node stopped by harness"))
}

func (v *NodeHarness) Stop() {
	println("Stopping NodeHarness")
	for idx := range v.Nodes {
		if s := v.States[idx].Load(); s != nil && !v.stopped[idx] {
			v.stopped[idx] = true
			s.Cancel(errors.New("stopping harness"))
		}
	}
	v.wg.Wait()
	println("Stopped NodeHarness")
}

// Request asks node for name and waits for the outcome it reports. The interest expires with the
// timeout, so a later request for the same name is not suppressed.
func (v *NodeHarness) Request(id state.NodeId, name string, timeout time.Duration) (Outcome, error) {
	s := v.States[v.IndexOf(id)].Load()
	s.Dispatch(func(s *state.State) error {
		core.Get[*core.Forwarder](s).RequestData(s, name, s.Clock.Now().Add(timeout), state.RequestHops)
		return nil
	})
	deadline := time.After(timeout)
	for {
		select {
		case out := <-v.Outcomes:
			if out.Node == id && out.Name == name {
				return out, nil
			}
		case <-deadline:
			return Outcome{}, fmt.Errorf("%s got no answer for %s", id, name)
		}
	}
}

// Peers returns the peer set of a node
func (v *NodeHarness) Peers(id state.NodeId) []state.NodeId {
	res, err := v.States[v.IndexOf(id)].Load().DispatchWait(func(s *state.State) (any, error) {
		return slices.Clone(s.Peers), nil
	})
	if err != nil {
		return nil
	}
	return res.([]state.NodeId)
}

// WaitConnected waits until every running node has at least one peer
func (v *NodeHarness) WaitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		connected := true
		for idx, cfg := range v.Nodes {
			if v.stopped[idx] {
				continue
			}
			if len(v.Peers(cfg.Id)) == 0 {
				connected = false
				break
			}
		}
		if connected {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
