package main

import (
	"context"
	"os"

	"github.com/kubev2v/ids-validator/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	command := NewIdsValidatorCommand()
	if err := command.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func NewIdsValidatorCommand() *cobra.Command {
	o := cli.DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "ids-validator [flags] [options]",
		Short: "ids-validator checks building model elements against IDS documents.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.Complete(cmd, args)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	o.Bind(cmd.PersistentFlags())

	cmd.AddCommand(cli.NewCmdExtract())
	cmd.AddCommand(cli.NewCmdValidate())
	cmd.AddCommand(cli.NewCmdServe())

	return cmd
}
