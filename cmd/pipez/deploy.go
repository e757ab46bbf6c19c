package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipez/internal/deploy"
	"github.com/alexisbeaulieu97/pipez/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/pipez/internal/metrics"
	"github.com/alexisbeaulieu97/pipez/internal/monitor"
	"github.com/alexisbeaulieu97/pipez/internal/store"
)

type deployOptions struct {
	DocumentPath  string
	Attach        bool
	RestartFailed int
	Destroy       bool
}

func newDeployCmd(root *rootFlags) *cobra.Command {
	opts := deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a pipeline and follow it until every operator instance settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateDocumentPath(opts.DocumentPath); err != nil {
				return err
			}
			if opts.RestartFailed < 0 {
				return fmt.Errorf("--restart-failed must not be negative")
			}
			app, err := newAppContext(cmd, root)
			if err != nil {
				return err
			}
			return runDeploy(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.DocumentPath, "file", "f", "", "Path to the pipeline document")
	cmd.Flags().BoolVar(&opts.Attach, "attach", false, "Print every operator state change")
	cmd.Flags().IntVar(&opts.RestartFailed, "restart-failed", 0, "Restart each failed operator up to N times")
	cmd.Flags().BoolVar(&opts.Destroy, "destroy", false, "Destroy the pipeline once every operator settled")
	cmd.MarkFlagRequired("file") //nolint:errcheck

	return cmd
}

// newDeployer wires the local deployer to the configured record store,
// metrics and event publisher.
func newDeployer(app *appContext, records store.Store, m *metrics.Prometheus) *deploy.Local {
	return deploy.NewLocal(app.registry,
		deploy.WithStore(records),
		deploy.WithLogger(app.logger),
		deploy.WithPublisher(events.NewLoggingPublisher(app.logger)),
		deploy.WithMetrics(m),
		deploy.WithObserver(m),
		deploy.WithEngineOptions(app.settings.EngineOptions()),
		deploy.WithDefaultLocation(app.settings.Transport.Location),
		deploy.WithDialerOptions(app.dialerOptions()...),
	)
}

func runDeploy(cmd *cobra.Command, app *appContext, opts deployOptions) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	p, err := app.loader.Load(ctx, opts.DocumentPath)
	if err != nil {
		return err
	}

	records, err := store.Open(app.settings.StoreOptions())
	if err != nil {
		return err
	}
	defer records.Close()

	m := metrics.New(app.logger)
	deployer := newDeployer(app, records, m)

	if address := app.settings.Monitor.Address; address != "" {
		srv := monitor.New(deployer, m.Handler(), app.logger)
		bound, err := srv.Start(address)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck
		fmt.Fprintf(out, "monitoring on http://%s\n", bound)
	}

	if err := deployer.Deploy(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(out, "deployed %s\n", p.Name())

	if opts.Destroy {
		defer func() {
			if derr := deployer.Destroy(context.WithoutCancel(ctx), p.Name()); derr != nil && err == nil {
				err = derr
			}
			fmt.Fprintf(out, "destroyed %s\n", p.Name())
		}()
	}

	restarts := make(map[string]int)
	attachErr := deployer.Attach(ctx, p.Name(), func(change deploy.StateChange) error {
		if opts.Attach {
			fmt.Fprintf(out, "%s %s -> %s\n", change.Operator, change.From, change.To)
		}
		if change.To != deploy.StateFailed || restarts[change.Operator] >= opts.RestartFailed {
			return nil
		}
		restarts[change.Operator]++

		logs, err := deployer.RetrieveOperatorLogs(ctx, change.Operator)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "--- logs of %s ---\n%s", change.Operator, logs)
		fmt.Fprintf(out, "restarting %s (%d/%d)\n", change.Operator, restarts[change.Operator], opts.RestartFailed)
		return deployer.RestartOperator(ctx, change.Operator)
	})

	states, _ := deployer.States(p.Name())
	rows := make([][]string, 0, len(states))
	failed := 0
	for _, s := range states {
		rows = append(rows, []string{s.Operator, s.State.String(), fmt.Sprint(restarts[s.Operator])})
		if s.State == deploy.StateFailed {
			failed++
		}
	}
	renderTable(out, []string{"INSTANCE", "STATE", "RESTARTS"}, rows)

	if attachErr != nil {
		return attachErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d operator instances failed", failed, len(states))
	}
	return nil
}
