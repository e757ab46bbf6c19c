package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipez/internal/executor"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
)

type runOptions struct {
	DocumentPath string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline in this process until every operator finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateDocumentPath(opts.DocumentPath); err != nil {
				return err
			}
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}
			return runPipeline(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.DocumentPath, "file", "f", "", "Path to the pipeline document")
	cmd.MarkFlagRequired("file") //nolint:errcheck

	return cmd
}

func runPipeline(cmd *cobra.Command, app *appContext, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.loader.Load(ctx, opts.DocumentPath)
	if err != nil {
		return err
	}

	dialer := transport.NewDialer(app.dialerOptions()...)
	defer dialer.Close()

	exec := executor.New(app.registry,
		executor.WithLogger(app.logger),
		executor.WithDialer(dialer),
		executor.WithEngineOptions(app.settings.EngineOptions()),
		executor.WithDefaultLocation(app.settings.Transport.Location),
	)
	report, err := exec.Run(ctx, p)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(report.Instances))
	for _, inst := range report.Instances {
		cause := ""
		if inst.Err != nil {
			cause = inst.Err.Error()
		}
		rows = append(rows, []string{inst.Name, inst.State.DisplayName(), fmt.Sprint(inst.Interrupted), cause})
	}
	out := cmd.OutOrStdout()
	renderTable(out, []string{"INSTANCE", "STATE", "INTERRUPTED", "ERROR"}, rows)
	fmt.Fprintf(out, "pipeline %s finished in %s\n", report.Pipeline, report.Duration.Round(time.Millisecond))

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d operator instances failed: %w", len(failed), len(report.Instances), report.Err())
	}
	return nil
}
