// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshnode/internal/command"
)

// hostCmd represents the host command group
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage host-network addresses",
	Long: `Manage the addresses the classifier treats as host-network. Traffic to
these addresses is never redirected.

Subcommands:
  add  - Register a host-network address`,
}

var hostAddCmd = &cobra.Command{
	Use:   "add <addr>",
	Short: "Register a host-network address",
	Long: `Register a node IP as host-network. Registering an address twice is a
no-op, so node IP sets can be re-announced on every CNI event.

Examples:
  meshnode host add 10.0.0.1
  meshnode host add fd00::1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runHostAdd(args[0])
	},
}

func init() {
	hostCmd.AddCommand(hostAddCmd)
}

func runHostAdd(addr string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.HostAdd(context.Background(), addr)
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("host_add failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Host address registered: %s\n", addr)
}
