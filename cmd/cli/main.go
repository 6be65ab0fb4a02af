package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string = "http://localhost:8080"
	user   string
	output string = "text" // "text" or "json"
)

var rootCmd = &cobra.Command{
	Use:   "resound",
	Short: "Resound CLI - Inspect and drive the recommendation engine",
	Long: `Resound CLI provides command-line access to a running Resound server.
Pull the next queue batch, start radio sessions, record listening events
and inspect what the engine has learned about a user.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if user == "" {
			user = os.Getenv("RESOUND_USER")
		}
		if api := os.Getenv("RESOUND_API"); api != "" && !cmd.Flags().Changed("api") {
			apiURL = api
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", apiURL, "API server URL")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "Acting user id (defaults to RESOUND_USER env var)")
	rootCmd.PersistentFlags().StringVar(&output, "output", output, "Output format: text or json")

	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(radioCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
