// Package deploy implements the deployment and attachment protocol: a
// pipeline is deployed as one runtime unit per operator replica, and its
// aggregate state is followed through a per-pipeline journal.
package deploy

import (
	"context"

	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
)

// Deployer materializes pipelines and reports their state.
type Deployer interface {
	// IsDeployed reports whether a deployment of name exists. It has no
	// side effects.
	IsDeployed(ctx context.Context, name string) (bool, error)
	// Deploy submits p and returns once every instance was started. A
	// deployment of the same name fails with ErrAlreadyDeployed.
	Deploy(ctx context.Context, p *pipeline.Pipeline) error
	// Attach blocks until every instance of name is in a terminal state,
	// calling fn once per journaled change, in order per instance.
	Attach(ctx context.Context, name string, fn OnStateChange) error
	// RetrieveOperatorLogs returns the captured logs of an instance.
	RetrieveOperatorLogs(ctx context.Context, instance string) (string, error)
	// RestartOperator starts an instance again from its deployed
	// configuration. Siblings are untouched.
	RestartOperator(ctx context.Context, instance string) error
	// Destroy releases every resource of name. Missing resources are not
	// errors.
	Destroy(ctx context.Context, name string) error
	// RetrieveDeployedPipeline rebuilds the pipeline a deployment was made
	// from.
	RetrieveDeployedPipeline(ctx context.Context, name string) (*pipeline.Pipeline, error)
}
