package core

import (
	"math/rand/v2"

	"github.com/encodeous/weft/protocol"
	"github.com/encodeous/weft/state"
)

// Search probes the configured hosts and port range for another node, announcing on the first
// connection that succeeds. Only one search runs at a time.
func (p *PeerManager) Search(s *state.State) {
	if p.searching {
		return
	}
	p.searching = true

	hosts := append([]string{}, s.SearchHosts...)
	rand.Shuffle(len(hosts), func(i, j int) {
		hosts[i], hosts[j] = hosts[j], hosts[i]
	})
	var candidates []state.Addr
	for _, host := range hosts {
		ports := make([]uint16, 0, int(s.SearchMaxPort-s.SearchMinPort)+1)
		for port := int(s.SearchMinPort); port <= int(s.SearchMaxPort); port++ {
			if uint16(port) == s.Port && p.local.IsLocal(host) {
				continue
			}
			ports = append(ports, uint16(port))
		}
		rand.Shuffle(len(ports), func(i, j int) {
			ports[i], ports[j] = ports[j], ports[i]
		})
		for _, port := range ports {
			candidates = append(candidates, state.Addr{Host: host, Port: port})
		}
	}
	go p.search(s.Env, p.announce(s), candidates)
}

func (p *PeerManager) search(e *state.Env, msg *protocol.Message, candidates []state.Addr) {
	for _, addr := range candidates {
		connected, err := e.DispatchWait(func(s *state.State) (any, error) {
			return len(p.Connections) > 0, nil
		})
		if err != nil {
			return
		}
		if connected.(bool) {
			e.Log.Debug("stopping search")
			e.Dispatch(func(s *state.State) error {
				p.searching = false
				return nil
			})
			return
		}
		e.Log.Debug("looking on", "addr", addr)
		link, err := p.Dial(e.Context, addr)
		if err == nil {
			err = link.WriteMsg(msg)
			if err != nil {
				e.Log.Debug("failed to announce", "addr", addr, "err", err)
				link.Close()
			} else {
				p.adopt(e, link, "")
			}
		}
		select {
		case <-e.Context.Done():
			return
		case <-e.Clock.After(state.SearchStepDelay):
		}
	}
	e.Dispatch(func(s *state.State) error {
		p.searching = false
		s.ScheduleTask(p.searchFailed, state.SearchFailedDelay)
		return nil
	})
}

func (p *PeerManager) searchFailed(s *state.State) error {
	if len(p.Connections) > 0 {
		return nil
	}
	if p.isolated {
		s.Log.Warn("no nodes found on network")
		p.joined = true
		return nil
	}
	s.Log.Warn("search failed")
	p.isolated = true
	s.ScheduleTask(func(s *state.State) error {
		p.Search(s)
		return nil
	}, state.SearchRetryDelay)
	return nil
}
