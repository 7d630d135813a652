// callctl runs local call simulations and a stub response generator.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	agentsFile string
	agentID    string
	seed       uint64
	stubAddr   string
	stubPrefix string

	rootCmd = &cobra.Command{
		Use:   "callctl",
		Short: "Tools for exercising the call agent locally",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if agentsFile == "" {
				agentsFile = os.Getenv("AGENTS_FILE")
			}
		},
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run a call against an in-memory store, one caller line per stdin line",
		Long: `Reads caller messages from stdin and prints the agent replies.
A line starting with "!" is sent as an interruption.`,
		Args: cobra.NoArgs,
		RunE: runSimulate, // Defined in simulate.go
	}

	generatorStubCmd = &cobra.Command{
		Use:   "generator-stub",
		Short: "Serve a gRPC response generator that echoes drafted replies",
		Args:  cobra.NoArgs,
		RunE:  runGeneratorStub, // Defined in stub.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&agentsFile, "agents", "", "agent definitions YAML (defaults to AGENTS_FILE)")

	simulateCmd.Flags().StringVar(&agentID, "agent", "default", "agent id to call as")
	simulateCmd.Flags().Uint64Var(&seed, "seed", 1, "seed for filler phrase selection")

	generatorStubCmd.Flags().StringVar(&stubAddr, "addr", "localhost:50051", "listen address")
	generatorStubCmd.Flags().StringVar(&stubPrefix, "prefix", "", "text prepended to every reply")

	rootCmd.AddCommand(simulateCmd, generatorStubCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
