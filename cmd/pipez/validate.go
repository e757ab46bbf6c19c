package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	var documentPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a pipeline document and check it builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}
			if err := app.loader.Validate(cmd.Context(), documentPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", documentPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentPath, "file", "f", "", "Path to the pipeline document")
	cmd.MarkFlagRequired("file") //nolint:errcheck

	return cmd
}
