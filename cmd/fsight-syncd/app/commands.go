// Package app provides the entry point for the FarmSight sync engine daemon.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/farmsight/sync-engine/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "fsight-syncd",
	DisableAutoGenTag: true,
	Short:             "FarmSight offline sync engine",
	Long: `FarmSight sync engine keeps prospect data usable offline: it caches
rankings and prospect records locally, records user actions in a durable
queue while disconnected, and replays them to the backend once
connectivity returns.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the sync engine daemon.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Println(string(output))
		} else {
			slog.Info("fsight-syncd version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
