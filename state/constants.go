package state

import "time"

const (
	// NoAddress marks a DATA location that has not been annotated by any hop yet
	NoAddress = "NO_ADDRESS"
)

var (
	HandshakeTimeLimit = time.Second * 10
	SearchStepDelay    = time.Millisecond * 100
	SearchFailedDelay  = time.Second * 1
	SearchRetryDelay   = time.Second * 5
	DataRefreshDelay   = time.Second * 10
	DialTimeout        = time.Second * 2
	WriteTimeout       = time.Second * 2
	// DialBackoff is how long an address that refused a connection is skipped by opportunistic sends
	DialBackoff = time.Second * 1

	AnnounceHops      = uint32(2)
	RequestHops       = uint32(5)
	DefaultTimeToWait = time.Second * 10
	// InteractiveTimeToWait is used for requests typed in by an operator
	InteractiveTimeToWait = time.Second * 20
	SensorInterval        = time.Second * 60

	DefaultPort      = uint16(5789)
	DefaultMinPort   = uint16(33010)
	DefaultMaxPort   = uint16(33016)
	DefaultTableSize = 3
	DefaultHost      = "localhost"

	DefaultSearchHosts   = []string{"localhost", "127.0.0.1"}
	DefaultLocalPrefixes = []string{"127.0.0.0/8", "::1/128"}

	// Never is used as the expiry of entries that should only leave a table through eviction
	Never = time.Unix(1<<63-62135596801, 999999999)
)
