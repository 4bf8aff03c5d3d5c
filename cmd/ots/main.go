package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "ots",
		Short:         "Operations dependency graph and early-warning engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sync dispatcher and the sweep scheduler",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ops tables",
		RunE:  runMigrate,
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep [project-id]",
		Short: "Evaluate risks once, for one project or for all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	seedCmd = &cobra.Command{
		Use:   "seed-blueprints",
		Short: "Install the built-in dependency blueprints that are missing",
		RunE:  runSeed,
	}
	replayCmd = &cobra.Command{
		Use:   "replay-sync",
		Short: "Re-apply dead-lettered sync events, oldest first",
		RunE:  runReplay,
	}
	replayLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetEnvOrDefault("OTS_CONFIG", ""),
		"config file (default ./configs/config.yaml, or $OTS_CONFIG)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 100, "maximum number of events to replay")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// bare invocation serves
	if len(os.Args) == 1 {
		rootCmd.SetArgs([]string{"serve"})
	}
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("ots: %v", err)
	}
}
