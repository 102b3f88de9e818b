package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "kagami",
	Short: "CPU miner for RandomX and CryptoNight chains",
	Long: `Kagami is a CPU proof-of-work miner. It partitions the nonce space
across persistent worker threads, shares one expensive algorithm context
between them, and submits found shares to a pool or directly to a node.`,
	Version: Version,
}

// Execute runs the root command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
