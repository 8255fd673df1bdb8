package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "leadintel",
	Short: "Research and lead intelligence pipeline",
	Long: `leadintel turns research prompts into insights, action items and scored
sales leads. Settings come from the environment, optional .env files and an
optional YAML file named by CONFIG_FILE.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the worker unless WORKER_ENABLED=false)",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job worker",
	Long: `Run only the job worker. Without REDIS_ADDR the worker consumes an
in-process queue that no API instance can reach, so standalone workers need
Redis Streams.`,
	RunE: runWorker,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before reading the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
