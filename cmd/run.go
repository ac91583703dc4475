package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a weft node",
	Long:  `This will run a node on the current host. It searches the configured hosts for other nodes and serves requests until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, level, err := loadNodeConfig(configPath, cmd.Flags())
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err.Error())
			os.Exit(1)
		}
		stop := core.SetupDebugging()
		defer stop()

		err = core.Start(*cfg, level, nil, nil)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "node",
}

func addNodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", "", "node name")
	cmd.Flags().Uint16P("port", "p", 0, "port to listen on")
	cmd.Flags().String("data-prefix", "", "produce <prefix>_<sensor> data")
	cmd.Flags().String("log-path", "", "also write logs to this file")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

// loadNodeConfig reads the config at path, if any, and applies the flags that were set on top
func loadNodeConfig(path string, flags *pflag.FlagSet) (*state.NodeCfg, slog.Level, error) {
	cfg := &state.NodeCfg{}
	if path != "" {
		var err error
		cfg, err = state.ReadNodeConfig(path)
		if err != nil {
			return nil, 0, err
		}
	}
	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		cfg.Id = state.NodeId(name)
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetUint16("port")
	}
	if flags.Changed("data-prefix") {
		cfg.DataPrefix, _ = flags.GetString("data-prefix")
	}
	if flags.Changed("log-path") {
		cfg.LogPath, _ = flags.GetString("log-path")
	}
	state.ExpandNodeConfig(cfg)
	err := state.NodeConfigValidator(cfg)
	if err != nil {
		return nil, 0, err
	}

	level := slog.LevelInfo
	if ok, _ := flags.GetBool("verbose"); ok {
		level = slog.LevelDebug
	}
	return cfg, level, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	addNodeFlags(runCmd)
}
