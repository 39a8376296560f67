// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/meshnode/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a meshnode configuration file without starting the daemon.

This is useful for pre-checking configuration before a rollout.

Examples:
  meshnode validate -f /etc/meshnode/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (required)")
	validateCmd.MarkFlagRequired("file")
}

func runValidateCommand() {
	cfg, err := config.Load(validateConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALID: node %q: ipv4=%v ipv6=%v dns_capture=%v dataplane=%v\n",
		cfg.Node.Hostname,
		cfg.Classifier.EnableIPv4,
		cfg.Classifier.EnableIPv6,
		cfg.Classifier.DNSCapture,
		cfg.Dataplane.Enabled,
	)
}
