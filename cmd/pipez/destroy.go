package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipez/internal/metrics"
	"github.com/alexisbeaulieu97/pipez/internal/store"
)

func newDestroyCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy <pipeline>",
		Short: "Remove the deployment record of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}

			records, err := store.Open(app.settings.StoreOptions())
			if err != nil {
				return err
			}
			defer records.Close()

			deployer := newDeployer(app, records, metrics.New(app.logger))
			deployed, err := deployer.IsDeployed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deployed {
				fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s is not deployed\n", args[0])
				return nil
			}
			if err := deployer.Destroy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", args[0])
			return nil
		},
	}

	return cmd
}
