package state

var (
	// DBG_debug serves expvar, metrics and the state dump on 0.0.0.0:6060
	DBG_debug = false
	// DBG_trace writes a runtime trace to trace.out
	DBG_trace = false
)
