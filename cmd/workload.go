// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshnode/internal/command"
)

// workloadCmd represents the workload command group
var workloadCmd = &cobra.Command{
	Use:   "workload",
	Short: "Manage workload interface registrations",
	Long: `Register or remove mesh workload interfaces on the daemon.

Subcommands:
  add  - Register a workload interface for redirection
  del  - Remove a workload interface`,
}

var workloadAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a workload interface",
	Long: `Register the host-side interface of a mesh workload. From then on the
classifier redirects its traffic through the tunnel proxy.

Examples:
  meshnode workload add --ifindex 14 --mac aa:bb:cc:dd:ee:01`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorkloadAdd()
	},
}

var workloadDelCmd = &cobra.Command{
	Use:   "del",
	Short: "Remove a workload interface",
	Long:  `Remove a workload interface registration and its TC hooks.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorkloadDel()
	},
}

var (
	workloadIfindex uint32
	workloadMAC     string
)

func init() {
	workloadAddCmd.Flags().Uint32Var(&workloadIfindex, "ifindex", 0, "interface index (required)")
	workloadAddCmd.Flags().StringVar(&workloadMAC, "mac", "", "interface MAC address (required)")
	workloadAddCmd.MarkFlagRequired("ifindex")
	workloadAddCmd.MarkFlagRequired("mac")

	workloadDelCmd.Flags().Uint32Var(&workloadIfindex, "ifindex", 0, "interface index (required)")
	workloadDelCmd.MarkFlagRequired("ifindex")

	workloadCmd.AddCommand(workloadAddCmd)
	workloadCmd.AddCommand(workloadDelCmd)
}

func runWorkloadAdd() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.WorkloadAdd(context.Background(), command.WorkloadParams{
		Ifindex: workloadIfindex,
		MAC:     workloadMAC,
	})
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("workload_add failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Workload registered: ifindex=%d mac=%s\n", workloadIfindex, workloadMAC)
}

func runWorkloadDel() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.WorkloadDel(context.Background(), workloadIfindex)
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("workload_del failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Workload removed: ifindex=%d\n", workloadIfindex)
}
