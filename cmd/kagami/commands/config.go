package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/Kagami/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate a configuration file template",
	RunE:  runConfigCmd,
}

var (
	configOutput string
	configPool   bool
	configNode   bool
)

func init() {
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "config.yaml", "output file path")
	configCmd.Flags().BoolVar(&configPool, "pool", false, "include the pool backend section")
	configCmd.Flags().BoolVar(&configNode, "node", false, "include the node backend section")
	rootCmd.AddCommand(configCmd)
}

func runConfigCmd(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configOutput); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", configOutput)
	}
	template := config.Template(configPool, configNode)
	if err := os.WriteFile(configOutput, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Printf("Wrote configuration template to %s\n", configOutput)
	if !configPool && !configNode {
		fmt.Println("Note: add a pool or node section (--pool / --node) before mining.")
	}
	return nil
}
