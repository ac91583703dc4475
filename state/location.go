package state

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gaissmai/bart"
)

var ErrMalformedLocation = errors.New("malformed location")

// Addr is a reachable listening address. Host may be a name such as localhost.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

func (a Addr) IsValid() bool {
	return a.Host != "" && a.Port != 0
}

// Location names a node together with the address it was reached at, written host:port:name.
// It is used both for DATA location annotations and for fallback addresses.
type Location struct {
	Addr
	Node NodeId
}

func (l Location) String() string {
	return l.Addr.String() + ":" + string(l.Node)
}

func ParseLocation(s string) (Location, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Location{}, fmt.Errorf("%w: %q", ErrMalformedLocation, s)
	}
	host, portStr, err := net.SplitHostPort(s[:idx])
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %w", ErrMalformedLocation, s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 || host == "" {
		return Location{}, fmt.Errorf("%w: %q has an invalid port", ErrMalformedLocation, s)
	}
	return Location{
		Addr: Addr{Host: host, Port: uint16(port)},
		Node: NodeId(s[idx+1:]),
	}, nil
}

// LocalNet answers whether a host is one of the designated local addresses. Observed hosts
// inside it are artifacts of local testing and never replace a recorded external address.
type LocalNet struct {
	table bart.Table[struct{}]
}

func NewLocalNet(prefixes []netip.Prefix) *LocalNet {
	l := &LocalNet{}
	for _, p := range prefixes {
		l.table.Insert(p.Masked(), struct{}{})
	}
	return l
}

func (l *LocalNet) IsLocal(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return l.table.Contains(addr.Unmap())
}
