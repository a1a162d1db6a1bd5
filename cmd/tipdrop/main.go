package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tipdrop/tipdrop/cmd/tipdrop/internal"
	initcmd "github.com/tipdrop/tipdrop/cmd/tipdrop/internal/initcmd"
	"github.com/tipdrop/tipdrop/cmd/tipdrop/internal/relay"
	"github.com/tipdrop/tipdrop/cmd/tipdrop/internal/version"
)

func NewTipdropCommand() *cobra.Command {
	short := fmt.Sprintf("%s tipdrop - Donation alert relay v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "tipdrop",
		Short:   short,
		Example: "tipdrop relay",
	}

	cmd.AddCommand(
		initcmd.NewInitCommand(),
		relay.NewRelayCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewTipdropCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
