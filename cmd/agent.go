// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshnode/internal/command"
)

// agentCmd represents the agent command group
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the tunnel agent registration",
	Long: `Register or remove the node's tunnel agent (proxy) interfaces.

Subcommands:
  set    - Register the agent interfaces
  clear  - Remove the agent registration`,
}

var agentSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register the tunnel agent",
	Long: `Register the tunnel agent's host-side interface, and optionally its peer
inside the agent's network namespace.

Examples:
  meshnode agent set --ifindex 3 --mac 02:00:00:00:00:01 --capture-dns
  meshnode agent set --ifindex 3 --mac 02:00:00:00:00:01 --peer-ifindex 2 --netns ztunnel`,
	Run: func(cmd *cobra.Command, args []string) {
		runAgentSet()
	},
}

var agentClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the tunnel agent registration",
	Long:  `Remove the tunnel agent registration and its TC hooks.`,
	Run: func(cmd *cobra.Command, args []string) {
		runAgentClear()
	},
}

var (
	agentIfindex     uint32
	agentPeerIfindex uint32
	agentMAC         string
	agentCaptureDNS  bool
	agentNetns       string
)

func init() {
	agentSetCmd.Flags().Uint32Var(&agentIfindex, "ifindex", 0, "host-side interface index (required)")
	agentSetCmd.Flags().Uint32Var(&agentPeerIfindex, "peer-ifindex", 0, "peer interface index inside the agent netns")
	agentSetCmd.Flags().StringVar(&agentMAC, "mac", "", "interface MAC address (required)")
	agentSetCmd.Flags().BoolVar(&agentCaptureDNS, "capture-dns", false, "redirect workload DNS to the agent")
	agentSetCmd.Flags().StringVar(&agentNetns, "netns", "", "agent network namespace name")
	agentSetCmd.MarkFlagRequired("ifindex")
	agentSetCmd.MarkFlagRequired("mac")

	agentClearCmd.Flags().Uint32Var(&agentIfindex, "ifindex", 0, "host-side interface index (required)")
	agentClearCmd.Flags().Uint32Var(&agentPeerIfindex, "peer-ifindex", 0, "peer interface index inside the agent netns")
	agentClearCmd.Flags().StringVar(&agentNetns, "netns", "", "agent network namespace name")
	agentClearCmd.MarkFlagRequired("ifindex")

	agentCmd.AddCommand(agentSetCmd)
	agentCmd.AddCommand(agentClearCmd)
}

func runAgentSet() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.AgentSet(context.Background(), command.AgentParams{
		Ifindex:     agentIfindex,
		PeerIfindex: agentPeerIfindex,
		MAC:         agentMAC,
		CaptureDNS:  agentCaptureDNS,
		Netns:       agentNetns,
	})
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("agent_set failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Agent registered: ifindex=%d mac=%s capture_dns=%v\n",
		agentIfindex, agentMAC, agentCaptureDNS)
}

func runAgentClear() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.AgentClear(context.Background(), command.AgentParams{
		Ifindex:     agentIfindex,
		PeerIfindex: agentPeerIfindex,
		Netns:       agentNetns,
	})
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("agent_clear failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Agent removed: ifindex=%d\n", agentIfindex)
}
