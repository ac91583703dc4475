package cmd

import (
	"os"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft content retrieval node",
	Long: `Weft is an information-centric overlay network.
Nodes find each other on a set of hosts and ports, and fetch named data by asking their peers instead of addressing a host.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Weft",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "node",
		Title: "Weft Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "node config, flags override its values")
	rootCmd.PersistentFlags().BoolVar(&state.DBG_debug, "debug", false, "serve expvar, metrics and the state dump on 0.0.0.0:6060")
	rootCmd.PersistentFlags().BoolVar(&state.DBG_trace, "trace", false, "write a runtime trace to trace.out")
}
