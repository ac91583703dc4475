package core

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/encodeous/weft/state"
)

var inspectTarget atomic.Pointer[state.Env]

func init() {
	http.HandleFunc("/debug/weft/state", func(w http.ResponseWriter, r *http.Request) {
		e := inspectTarget.Load()
		if e == nil {
			http.Error(w, "node is not running", http.StatusServiceUnavailable)
			return
		}
		res, err := e.DispatchWait(func(s *state.State) (any, error) {
			return Dump(s), nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(res.(string)))
	})
}

func expiry(now, t time.Time) string {
	rem := t.Sub(now)
	if rem > time.Hour*24 {
		return "never"
	}
	return fmt.Sprintf("%.2fs", rem.Seconds())
}

func section(sb *strings.Builder, title string, lines []string) {
	sb.WriteString(title + ":\n")
	if len(lines) == 0 {
		sb.WriteString("  (none)\n")
		return
	}
	slices.Sort(lines)
	for _, l := range lines {
		sb.WriteString("  " + l + "\n")
	}
}

// Dump renders the node's tables for an operator
func Dump(s *state.State) string {
	now := s.Clock.Now()
	p := Get[*PeerManager](s)
	store := Get[*LocalStore](s)
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("Name: %s\n", s.Id))

	rt := make([]string, 0)
	for _, e := range s.PIT.Entries() {
		rt = append(rt, fmt.Sprintf("%s for %s, outstanding %d, expires %s", e.Key, e.Value, e.Count, expiry(now, e.Expiry)))
	}
	section(&sb, "PIT", rt)

	rt = make([]string, 0)
	for _, e := range s.Cache.Entries() {
		rt = append(rt, fmt.Sprintf("%s expires %s", e.Key, expiry(now, e.Expiry)))
	}
	section(&sb, "Cache", rt)

	rt = make([]string, 0)
	for _, e := range s.Locations.Entries() {
		rt = append(rt, fmt.Sprintf("%s at %s", e.Key, e.Value))
	}
	section(&sb, "Locations", rt)

	rt = make([]string, 0)
	for _, peer := range s.Peers {
		rt = append(rt, string(peer))
	}
	section(&sb, "Peers", rt)

	rt = make([]string, 0)
	for _, name := range store.Names() {
		value, ttu, _ := store.GetLocalData(name)
		rt = append(rt, fmt.Sprintf("%s = %s, usable %s", name, value, expiry(now, ttu)))
	}
	section(&sb, "Data", rt)

	rt = make([]string, 0)
	for node, addr := range p.Addresses {
		rt = append(rt, fmt.Sprintf("%s at %s", node, addr))
	}
	section(&sb, "Addresses", rt)

	rt = make([]string, 0)
	for node, link := range p.Connections {
		rt = append(rt, fmt.Sprintf("%s via %s", node, link.RemoteAddr()))
	}
	section(&sb, "Connections", rt)

	fb := p.FallbackString()
	if fb == "" {
		fb = "(none)"
	}
	sb.WriteString("Fallback: " + fb + "\n")

	rt = make([]string, 0)
	for node, fb := range p.Fallbacks {
		rt = append(rt, fmt.Sprintf("%s: %s", node, fb))
	}
	section(&sb, "Fallbacks", rt)
	return sb.String()
}
