package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <operator-type>",
		Short: "List the parameters an operator type expects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}
			descriptors, err := app.registry.Schema(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(descriptors))
			for _, d := range descriptors {
				def := ""
				if d.Default != nil {
					def = fmt.Sprint(d.Default)
				}
				rows = append(rows, []string{d.Name, d.AltName, string(d.Kind), string(d.Type), def, d.Description})
			}
			renderTable(cmd.OutOrStdout(), []string{"NAME", "ALIAS", "KIND", "TYPE", "DEFAULT", "DESCRIPTION"}, rows)
			return nil
		},
	}

	return cmd
}

func newTypesCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List registered operator types",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}

			types := app.registry.List()
			rows := make([][]string, 0, len(types))
			for _, meta := range types {
				rows = append(rows, []string{meta.Type, meta.Version, meta.Description})
			}
			renderTable(cmd.OutOrStdout(), []string{"TYPE", "VERSION", "DESCRIPTION"}, rows)
			return nil
		},
	}

	return cmd
}
