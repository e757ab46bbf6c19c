package demo

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
)

// Writer parameters.
const (
	ParamCount   = "count"
	ParamMessage = "message"
	ParamRate    = "rate"
)

// Writer sends count records, one per step.
type Writer struct {
	operator.BaseHandler

	op      *operator.Operator
	count   int
	message string
	limiter *rate.Limiter
	sent    int
	stop    atomic.Bool
}

// NewWriter declares the writer's schema.
func NewWriter(op *operator.Operator) (operator.Handler, error) {
	declarations := []parameter.Parameter{
		{Name: ParamCount, AltName: "recordCount", Kind: parameter.Required, Type: parameter.TypeInt, Description: "number of records to send"},
		{Name: ParamMessage, Kind: parameter.Optional, Type: parameter.TypeString, Default: "HelloWorld", Description: "prefix of every record text"},
		{Name: ParamRate, Kind: parameter.Optional, Type: parameter.TypeFloat, Default: 0.0, Description: "records per second, 0 sends unpaced"},
	}
	for _, decl := range declarations {
		if err := op.Declare(decl); err != nil {
			return nil, err
		}
	}
	if _, err := op.AddOutput(OutputPort, TextSchema); err != nil {
		return nil, err
	}
	return &Writer{op: op}, nil
}

func (w *Writer) OnInit(context.Context) (bool, error) {
	values := w.op.Values()
	w.count = values.Int(ParamCount)
	if w.count < 0 {
		return false, fmt.Errorf("%s must not be negative, got %d", ParamCount, w.count)
	}
	w.message = values.String(ParamMessage)
	if r := values.Float(ParamRate); r > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(r), 1)
	}
	return true, nil
}

func (w *Writer) OnRunning(ctx context.Context) (operator.Signal, error) {
	if w.sent >= w.count || w.stop.Load() {
		return operator.SignalDone, nil
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return operator.SignalDone, nil
		}
	}

	record := port.Record{"text": fmt.Sprintf("%s_%d", w.message, w.sent)}
	if err := w.op.Output(OutputPort).Send(ctx, []port.Record{record}); err != nil {
		return operator.SignalContinue, err
	}
	w.op.Logger().Debug(fmt.Sprintf("generated record: %v", record["text"]))
	w.sent++

	if w.sent >= w.count {
		return operator.SignalDone, nil
	}
	return operator.SignalContinue, nil
}

func (w *Writer) OnInterrupt(os.Signal) {
	w.stop.Store(true)
}

// Sent returns the number of records sent so far.
func (w *Writer) Sent() int { return w.sent }
