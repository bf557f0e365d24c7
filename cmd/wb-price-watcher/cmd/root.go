// Package cmd implements the CLI commands for wb-price-watcher.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wb-price-watcher",
	Short: "Track Wildberries product prices for Telegram subscribers",
	Long: "A service that periodically refreshes the prices of products its " +
		"subscribers follow on Wildberries, detects changes, and delivers " +
		"consolidated Telegram notifications. Subscribers manage their lists " +
		"through bot commands.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
