package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "kpublish",
		Short:        "Publish JSON documents to Kafka as Avro records",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Local runs may keep overrides in .env; a missing file is fine.
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Printf("[Config] .env load warning: %v", err)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP publish endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serve, versionCmd)
	// Running the bare binary starts the server.
	root.RunE = serve.RunE
	return root
}
