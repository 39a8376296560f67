// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Meshnode - per-node mesh traffic redirection agent",
	Long: `Meshnode is the per-node agent deciding which traffic on a mesh node is
redirected through the local tunnel proxy. It keeps the identity tables
(workload interfaces, tunnel agent, host addresses), mirrors them into
pinned BPF maps, and attaches the TC classifier to pod interfaces.

Control surface:
  - Local control: CLI and CNI plugin via Unix Domain Socket
  - Observability: Prometheus metrics endpoint`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/meshnode/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/meshnode.sock",
		"daemon socket path")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workloadCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
