package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/govorun/cmd/govorun/internal"
	"github.com/tinyland-inc/govorun/cmd/govorun/internal/gateway"
	"github.com/tinyland-inc/govorun/cmd/govorun/internal/version"
)

func NewGovorunCommand() *cobra.Command {
	short := fmt.Sprintf("%s govorun - Voice message bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "govorun",
		Short:   short,
		Example: "govorun gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewGovorunCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
