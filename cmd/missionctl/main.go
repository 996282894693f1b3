package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "missionctl",
	Short:         "Client for the Nuka Missions API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("NUKA_SERVER")
	if def == "" {
		def = "http://localhost:3210"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "Nuka Missions server URL")
	rootCmd.AddCommand(createCmd, listCmd, showCmd, inboxCmd, completeCmd, statusCmd, notesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "\033[31mError:\033[0m", err)
		os.Exit(1)
	}
}
