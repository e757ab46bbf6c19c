package operator

import (
	"context"
	"os"
)

// Signal is what a processing step tells the engine after one iteration.
type Signal int

const (
	// SignalContinue asks the engine to invoke the step again.
	SignalContinue Signal = iota
	// SignalDone ends Running and starts shutdown.
	SignalDone
	// SignalUndetermined lets the engine decide from the input ports: shut
	// down when no input can retrieve, continue otherwise.
	SignalUndetermined
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalDone:
		return "done"
	case SignalUndetermined:
		return "undetermined"
	}
	return "unknown"
}

// Handler is the business logic of an operator type. The engine owns the
// state machine; handlers only implement the phase callbacks.
//
// Implementations should:
//   - Return true from OnInit once initialization is complete; false asks
//     the engine to call it again after a short pause
//   - Perform one bounded unit of work per OnRunning call
//   - Return true from OnShutdown once resources are released
//   - Keep OnInterrupt non-blocking; it may run concurrently with any other
//     callback and should only set flags the next OnRunning consults
//   - Treat OnError as best-effort cleanup; its failures are logged and
//     otherwise ignored
//
// Returning an error or panicking from OnInit, OnRunning or OnShutdown moves
// the operator to Errored.
type Handler interface {
	OnInit(ctx context.Context) (bool, error)
	OnRunning(ctx context.Context) (Signal, error)
	OnShutdown(ctx context.Context) (bool, error)
	OnInterrupt(sig os.Signal)
	OnError(err error)
}

// BaseHandler provides no-op callbacks for embedding.
type BaseHandler struct{}

func (BaseHandler) OnInit(context.Context) (bool, error)      { return true, nil }
func (BaseHandler) OnRunning(context.Context) (Signal, error) { return SignalUndetermined, nil }
func (BaseHandler) OnShutdown(context.Context) (bool, error)  { return true, nil }
func (BaseHandler) OnInterrupt(os.Signal)                     {}
func (BaseHandler) OnError(error)                             {}
