package core

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"runtime/trace"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/tint"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
	slogmulti "github.com/samber/slog-multi"
	"go.uber.org/multierr"
)

// SetupDebugging starts the debug server and tracing if enabled. The returned function stops tracing.
func SetupDebugging() func() {
	stop := func() {}
	if state.DBG_trace {
		f, err := os.Create("trace.out")
		if err != nil {
			log.Fatal(err)
		}
		err = trace.Start(f)
		if err != nil {
			log.Fatal(err)
		}
		log.Println("Started tracing")
		stop = func() {
			trace.Stop()
			f.Close()
		}
	}
	if state.DBG_debug {
		go func() {
			log.Println(http.ListenAndServe("0.0.0.0:6060", nil))
		}()
	}
	return stop
}

func NewLogger(id state.NodeId, logLevel slog.Level, logPath string) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}).WithAttrs([]slog.Attr{
			slog.String("node", string(id)),
		}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Start runs a node until it is stopped. aux may carry a "consumer" (state.Consumer) receiving the
// outcome of requests and a "clock" (clock.Clock). initState, if set, receives the node state
// before the modules are initialized.
func Start(cfg state.NodeCfg, logLevel slog.Level, aux map[string]any, initState *atomic.Pointer[state.State]) error {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(env *state.State) error, 128)

	logger, err := NewLogger(cfg.Id, logLevel, cfg.LogPath)
	if err != nil {
		cancel(err)
		return err
	}

	var clk clock.Clock = clock.New()
	if c, ok := aux["clock"].(clock.Clock); ok {
		clk = c
	}
	var consumer state.Consumer = &LogConsumer{Log: logger}
	if c, ok := aux["consumer"].(state.Consumer); ok {
		consumer = c
	}

	s := state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			NodeCfg:         cfg,
			Log:             logger,
			Clock:           clk,
			Consumer:        consumer,
		},
	}
	s.PIT = state.NewTable[state.NodeId](cfg.PitSize, clk)
	s.Cache = state.NewTable[string](cfg.CacheSize, clk)
	s.Locations = state.NewTable[state.NodeId](cfg.LocationSize, clk)
	if initState != nil {
		initState.Store(&s)
	}
	inspectTarget.Store(s.Env)

	s.Log.Info("init modules")
	err = initModules(&s)
	if err != nil {
		Stop(&s)
		return err
	}
	s.Log.Info("init modules complete")

	s.Log.Info("weft has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(&s, dispatch)
}

func initModules(s *state.State) error {
	var modules []state.Module
	modules = append(modules, &Tracer{})
	modules = append(modules, &LocalStore{})
	modules = append(modules, &PeerManager{})
	modules = append(modules, &Forwarder{})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			delete(s.Modules, reflect.TypeOf(module).String())
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	return Stop(s)
}

// Stop cancels the node and cleans up its modules. It must not race with the main loop, call
// s.Cancel from other goroutines instead.
func Stop(s *state.State) error {
	if s.Stopping.Swap(true) {
		return nil // don't stop twice
	}
	s.Cancel(context.Canceled)
	if s.DispatchChannel != nil {
		close(s.DispatchChannel)
		s.DispatchChannel = nil
	}
	s.Log.Info("cleaning up modules")
	var err error
	for moduleName, module := range s.Modules {
		cErr := module.Cleanup(s)
		if cErr != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", cErr)
			err = multierr.Append(err, cErr)
		}
	}
	inspectTarget.CompareAndSwap(s.Env, nil)
	s.Log.Info("stopped")
	return err
}
