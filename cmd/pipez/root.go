package main

import (
	"github.com/spf13/cobra"

	infraconfig "github.com/alexisbeaulieu97/pipez/internal/infrastructure/config"
)

type rootFlags struct {
	settingsPath string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "pipez",
		Short:         "pipez runs and deploys pipelines of operators connected by channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.settingsPath, "settings", "", "Path to a YAML settings file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	infraconfig.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newDeployCmd(flags))
	cmd.AddCommand(newDestroyCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newSchemaCmd(flags))
	cmd.AddCommand(newTypesCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
