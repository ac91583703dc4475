package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	SentMsgPerSecond    = metric.NewCounter("10s1s")
	RecvMsgPerSecond    = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
	DialFailures        = metric.NewCounter("1m1s")
	DroppedMsgPerSecond = metric.NewCounter("10s1s")
	CacheHits           = metric.NewCounter("1m1s")
	Floods              = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("weft:SentMsg/s", SentMsgPerSecond)
	expvar.Publish("weft:RecvMsg/s", RecvMsgPerSecond)
	expvar.Publish("weft:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("weft:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("weft:DroppedMsg/s", DroppedMsgPerSecond)
	expvar.Publish("weft:DialFailures", DialFailures)
	expvar.Publish("weft:CacheHits", CacheHits)
	expvar.Publish("weft:Floods", Floods)
	expvar.Publish("weft:DispatchLatency (µs)", DispatchLatency)
}
