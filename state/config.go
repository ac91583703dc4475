package state

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/goccy/go-yaml"
)

// NodeCfg represents local node-level configuration
type NodeCfg struct {
	Id            NodeId         // unique name for this node
	Port          uint16         // port this node listens on
	AdvertiseHost string         `yaml:"advertise_host,omitempty"` // host this node reports for itself in location annotations
	Key           SharedKey      `yaml:",omitempty"`               // pre-shared key used to seal data values
	DataPrefix    string         `yaml:"data_prefix,omitempty"`    // if set, this node produces <prefix>_<sensor> data
	Sensors       []string       `yaml:",omitempty"`               // sensor kinds to run, all kinds when empty
	SearchHosts   []string       `yaml:"search_hosts,omitempty"`   // hosts scanned during peer discovery
	SearchMinPort uint16         `yaml:"search_min_port,omitempty"`
	SearchMaxPort uint16         `yaml:"search_max_port,omitempty"`
	LocalPrefixes []netip.Prefix `yaml:"local_prefixes,omitempty"` // addresses treated as loopback when rewriting locations
	PitSize       int            `yaml:"pit_size,omitempty"`
	CacheSize     int            `yaml:"cache_size,omitempty"`
	LocationSize  int            `yaml:"location_size,omitempty"`
	LogPath       string         `yaml:"log_path,omitempty"` // if not empty, logs are also written to this file
}

func ReadNodeConfig(path string) (*NodeCfg, error) {
	var cfg NodeCfg
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ExpandNodeConfig fills unset fields with their defaults
func ExpandNodeConfig(cfg *NodeCfg) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = DefaultHost
	}
	if cfg.Key.IsZero() {
		cfg.Key = DefaultSharedKey
	}
	if len(cfg.SearchHosts) == 0 {
		cfg.SearchHosts = append([]string{}, DefaultSearchHosts...)
	}
	if cfg.SearchMinPort == 0 {
		cfg.SearchMinPort = DefaultMinPort
	}
	if cfg.SearchMaxPort == 0 {
		cfg.SearchMaxPort = DefaultMaxPort
	}
	if len(cfg.LocalPrefixes) == 0 {
		for _, p := range DefaultLocalPrefixes {
			cfg.LocalPrefixes = append(cfg.LocalPrefixes, netip.MustParsePrefix(p))
		}
	}
	if cfg.PitSize == 0 {
		cfg.PitSize = DefaultTableSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultTableSize
	}
	if cfg.LocationSize == 0 {
		cfg.LocationSize = DefaultTableSize
	}
}

func (c *NodeCfg) SelfAddr() Addr {
	return Addr{Host: c.AdvertiseHost, Port: c.Port}
}
