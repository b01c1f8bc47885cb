package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "ordering",
		Short: "Order command service, outbox relay and read-model projector",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults are embedded)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(projectorCmd)
	rootCmd.AddCommand(notifierCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}
