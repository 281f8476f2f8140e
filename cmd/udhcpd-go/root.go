package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "udhcpd-go",
	Short: "A small, fixed-capacity DHCPv4 server daemon",
	Long: `udhcpd-go hands out and tracks DHCPv4 leases from a single config file
and a fixed-size lease table.

Run with no subcommand to start serving using the config file given by
--config (the serve subcommand's default).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("udhcpd-go %s (commit: %s, built: %s)\n", version, commit, date))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/udhcpd.conf", "path to the server config file")
}

var configPath string

// Execute runs the root command, printing any error to stderr and exiting
// nonzero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
