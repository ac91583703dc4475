package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"ui"},
	Short:   "Run a weft node that takes requests from stdin",
	Long: `This runs a node like "weft run", and reads one command per line from stdin:
  <data name>  request the data from the network
  state        print the node's tables
  trace        toggle printing every message the node handles
  quit         stop the node`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, level, err := loadNodeConfig(configPath, cmd.Flags())
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err.Error())
			os.Exit(1)
		}
		stop := core.SetupDebugging()
		defer stop()

		out := &syncWriter{w: cmd.OutOrStdout()}
		var ptr atomic.Pointer[state.State]
		done := make(chan error, 1)
		go func() {
			done <- core.Start(*cfg, level, map[string]any{
				"consumer": &printConsumer{out: out},
			}, &ptr)
		}()
		var s *state.State
		for s == nil || !s.Started.Load() {
			select {
			case err = <-done:
				if err != nil {
					panic(err)
				}
				return
			case <-time.After(10 * time.Millisecond):
			}
			s = ptr.Load()
		}

		go interact(s.Env, cmd.InOrStdin(), out)
		err = <-done
		if err != nil {
			panic(err)
		}
	},
	GroupID: "node",
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

type printConsumer struct {
	out io.Writer
}

func (c *printConsumer) UseData(name string, value string) {
	fmt.Fprintf(c.out, "%s = %s\n", name, value)
}

func (c *printConsumer) DataNotFound(name string) {
	fmt.Fprintf(c.out, "%s was not found\n", name)
}

func (c *printConsumer) DataError(name string, err error) {
	fmt.Fprintf(c.out, "%s could not be read: %s\n", name, err)
}

// interact runs operator commands read from in until it is closed or the node stops
func interact(e *state.Env, in io.Reader, out io.Writer) {
	var trace chan any
	scanner := bufio.NewScanner(in)
	for e.Context.Err() == nil && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "quit", "exit":
			e.Cancel(errors.New("operator quit"))
			return
		case "state":
			res, err := e.DispatchWait(func(s *state.State) (any, error) {
				return core.Dump(s), nil
			})
			if err != nil {
				return
			}
			fmt.Fprint(out, res)
		case "trace":
			if trace == nil {
				trace = startTrace(e, out)
			} else {
				stopTrace(e, trace, out)
				trace = nil
			}
		default:
			e.Dispatch(func(s *state.State) error {
				core.Get[*core.Forwarder](s).RequestData(s, line, s.Clock.Now().Add(state.InteractiveTimeToWait), state.RequestHops)
				return nil
			})
		}
	}
}

func startTrace(e *state.Env, out io.Writer) chan any {
	ch := make(chan any, 64)
	_, err := e.DispatchWait(func(s *state.State) (any, error) {
		core.Get[*core.Tracer](s).Register(ch)
		return nil, nil
	})
	if err != nil {
		return nil
	}
	go func() {
		for ev := range ch {
			te := ev.(core.TraceEvent)
			fmt.Fprintf(out, "trace %s: %s\n", te.Remote, te.Msg)
		}
	}()
	fmt.Fprintln(out, "tracing messages")
	return ch
}

func stopTrace(e *state.Env, ch chan any, out io.Writer) {
	_, err := e.DispatchWait(func(s *state.State) (any, error) {
		core.Get[*core.Tracer](s).Unregister(ch)
		return nil, nil
	})
	if err != nil {
		return
	}
	close(ch)
	fmt.Fprintln(out, "stopped tracing")
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
	addNodeFlags(interactiveCmd)
}
