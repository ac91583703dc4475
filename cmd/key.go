package cmd

import (
	"fmt"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Generates a new shared key for sealing data",
	Run: func(cmd *cobra.Command, args []string) {
		key, err := state.GenerateKey().MarshalText()
		if err != nil {
			panic(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", key)
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(keyCmd)
}
