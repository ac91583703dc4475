package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/weft/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a node configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetUint16("port")
		prefix, _ := cmd.Flags().GetString("data-prefix")
		genKey, _ := cmd.Flags().GetBool("gen-key")

		cfg, err := newNodeConfig(args[0], port, prefix, genKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err.Error())
			os.Exit(1)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			panic(err)
		}

		outPath, _ := cmd.Flags().GetString("output")
		err = os.WriteFile(outPath, out, 0600)
		if err != nil {
			panic(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
	},
	GroupID: "init",
}

// newNodeConfig builds a complete, valid config for a new node
func newNodeConfig(name string, port uint16, prefix string, genKey bool) (*state.NodeCfg, error) {
	cfg := &state.NodeCfg{
		Id:         state.NodeId(name),
		Port:       port,
		DataPrefix: prefix,
	}
	if genKey {
		cfg.Key = state.GenerateKey()
	}
	state.ExpandNodeConfig(cfg)
	err := state.NodeConfigValidator(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Uint16P("port", "p", state.DefaultPort, "port to listen on")
	initCmd.Flags().String("data-prefix", "", "produce <prefix>_<sensor> data")
	initCmd.Flags().Bool("gen-key", false, "use a fresh shared key instead of the default one")
	initCmd.Flags().StringP("output", "o", "node.yaml", "config output path")
}
