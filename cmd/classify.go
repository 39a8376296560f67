// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshnode/internal/command"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Ask the daemon to classify a synthetic flow",
	Long: `Run one flow description through the daemon's classification engine and
print the verdict. Useful for debugging redirection decisions without
generating traffic.

Examples:
  meshnode classify --direction egress --src-ifindex 14 \
    --src 10.0.0.5 --dst 10.0.1.9 --proto tcp --dport 8080
  meshnode classify --direction egress --src-ifindex 14 \
    --src 10.0.0.5 --dst 10.96.0.10 --proto udp --dport 53`,
	Run: func(cmd *cobra.Command, args []string) {
		runClassifyCommand()
	},
}

var (
	classifyDirection  string
	classifySrcIfindex uint32
	classifyDstIfindex uint32
	classifySrc        string
	classifyDst        string
	classifyProto      string
	classifySrcPort    uint16
	classifyDstPort    uint16
	classifyMark       uint32
	classifyCallback   uint32
)

func init() {
	classifyCmd.Flags().StringVar(&classifyDirection, "direction", "egress", "packet direction (ingress|egress)")
	classifyCmd.Flags().Uint32Var(&classifySrcIfindex, "src-ifindex", 0, "source interface index")
	classifyCmd.Flags().Uint32Var(&classifyDstIfindex, "dst-ifindex", 0, "destination interface index")
	classifyCmd.Flags().StringVar(&classifySrc, "src", "", "source address (required)")
	classifyCmd.Flags().StringVar(&classifyDst, "dst", "", "destination address (required)")
	classifyCmd.Flags().StringVar(&classifyProto, "proto", "tcp", "transport protocol (tcp|udp|icmp)")
	classifyCmd.Flags().Uint16Var(&classifySrcPort, "sport", 0, "source port")
	classifyCmd.Flags().Uint16Var(&classifyDstPort, "dport", 0, "destination port")
	classifyCmd.Flags().Uint32Var(&classifyMark, "mark", 0, "packet mark")
	classifyCmd.Flags().Uint32Var(&classifyCallback, "callback", 0, "callback tag")
	classifyCmd.MarkFlagRequired("src")
	classifyCmd.MarkFlagRequired("dst")
}

func runClassifyCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.Classify(context.Background(), command.ClassifyParams{
		Direction:  classifyDirection,
		SrcIfindex: classifySrcIfindex,
		DstIfindex: classifyDstIfindex,
		SrcAddr:    classifySrc,
		DstAddr:    classifyDst,
		Protocol:   classifyProto,
		SrcPort:    classifySrcPort,
		DstPort:    classifyDstPort,
		Mark:       classifyMark,
		Callback:   classifyCallback,
	})
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("classify failed: %s", resp.Error.Message), nil)
	}

	resultJSON, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}

	fmt.Println(string(resultJSON))
}
