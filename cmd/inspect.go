package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect [addr]",
	Aliases: []string{"i"},
	Short:   "Inspects the tables of a node started with --debug",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr := "127.0.0.1:6060"
		if len(args) == 1 {
			addr = args[0]
		}
		result, err := fetchState(addr)
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
	},
	GroupID: "node",
}

func fetchState(addr string) (string, error) {
	client := http.Client{Timeout: 5 * time.Second}
	res, err := client.Get("http://" + addr + "/debug/weft/state")
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", res.Status, body)
	}
	return string(body), nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
