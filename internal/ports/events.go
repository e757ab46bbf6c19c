package ports

import "context"

const (
	// EventPipelineDeployed is emitted once a deployment record is stored.
	EventPipelineDeployed = "pipeline.deployed"
	// EventPipelineDestroyed is emitted after every resource of a pipeline was released.
	EventPipelineDestroyed = "pipeline.destroyed"
	// EventOperatorStateChanged is emitted for every journaled deployment state change.
	EventOperatorStateChanged = "operator.state_changed"
	// EventOperatorRestarted is emitted when an operator instance is started again.
	EventOperatorRestarted = "operator.restarted"
)

// DomainEvent represents a significant occurrence within a deployment.
// Events carry structured payloads that downstream subscribers can use for
// logging, metrics, or monitoring boards.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run, so observability
// signals appear before the process exits. Handlers may spawn goroutines for
// async processing if work should continue in the background. Implementations
// must be thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Handlers should avoid
// panicking; failures should be surfaced via returned errors so publishers can
// log diagnostics and continue delivering to remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler. Callers must invoke
// Unsubscribe to stop receiving events and release resources.
type Subscription interface {
	Unsubscribe()
}

// Event is a DomainEvent with a map payload.
type Event struct {
	Type string
	Data map[string]interface{}
}

func (e Event) EventType() string    { return e.Type }
func (e Event) Payload() interface{} { return e.Data }
