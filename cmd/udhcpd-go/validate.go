package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/udhcpd-go/udhcpd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting the server",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", configPath, err)
		os.Exit(1)
	}

	errs := config.Validate(cfg)
	if len(errs) == 0 {
		fmt.Printf("%s: OK\n", configPath)
		return nil
	}

	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	os.Exit(1)
	return nil
}
