package demo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
)

// ParamFailAfter makes the reader fault once it received that many records.
const ParamFailAfter = "failAfter"

// Reader retrieves and logs records and leaves the stop decision to the
// engine.
type Reader struct {
	operator.BaseHandler

	op        *operator.Operator
	failAfter int

	mu       sync.Mutex
	received []port.Record
	errors   atomic.Int32
}

// NewReader declares the reader's schema.
func NewReader(op *operator.Operator) (operator.Handler, error) {
	if err := op.Declare(parameter.Parameter{
		Name:        ParamFailAfter,
		AltName:     "raiseErrorAfterRecordCount",
		Kind:        parameter.Optional,
		Type:        parameter.TypeInt,
		Default:     -1,
		Description: "fail once this many records arrived, negative never fails",
	}); err != nil {
		return nil, err
	}
	if _, err := op.AddInput(InputPort, TextSchema); err != nil {
		return nil, err
	}
	return &Reader{op: op}, nil
}

func (r *Reader) OnInit(context.Context) (bool, error) {
	r.failAfter = r.op.Values().Int(ParamFailAfter)
	return true, nil
}

func (r *Reader) OnRunning(ctx context.Context) (operator.Signal, error) {
	records, err := r.op.Input(InputPort).Retrieve(ctx)

	r.mu.Lock()
	r.received = append(r.received, records...)
	total := len(r.received)
	r.mu.Unlock()

	if err != nil {
		return operator.SignalContinue, err
	}
	if r.failAfter >= 0 && total >= r.failAfter {
		return operator.SignalContinue, fmt.Errorf("failing after %d records as configured (received %d)", r.failAfter, total)
	}

	for _, record := range records {
		r.op.Logger().Debug(fmt.Sprintf("received record: %v", record["text"]))
	}
	return operator.SignalUndetermined, nil
}

func (r *Reader) OnError(error) {
	r.errors.Add(1)
}

// Received returns a copy of every record retrieved so far.
func (r *Reader) Received() []port.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]port.Record(nil), r.received...)
}

// Errors returns how often OnError ran.
func (r *Reader) Errors() int { return int(r.errors.Load()) }
