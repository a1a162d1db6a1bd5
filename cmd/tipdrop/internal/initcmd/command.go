package initcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tipdrop/tipdrop/cmd/tipdrop/internal"
	"github.com/tipdrop/tipdrop/pkg/config"
)

func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := internal.GetConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("error writing config: %w", err)
			}

			fmt.Printf("✓ Config written to %s\n", path)
			fmt.Println("Fill in the chain RPC URL, contract address and at least one channel token, then run: tipdrop relay")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")

	return cmd
}
