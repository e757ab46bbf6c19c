package port

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one unit of data exchanged between operators.
type Record map[string]any

// EncodeRecord serializes a record for broker transports.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// OutputPort is the runtime capability of a bound output port.
type OutputPort interface {
	Name() string
	Send(ctx context.Context, records []Record) error
}

// InputPort is the runtime capability of a bound input port.
type InputPort interface {
	Name() string
	// Retrieve returns whatever is available now without waiting.
	Retrieve(ctx context.Context) ([]Record, error)
	// CanRetrieve is a hint; it may race with concurrent arrivals.
	CanRetrieve() bool
}

// ChannelSpec describes the channel endpoint a port binds to.
type ChannelSpec struct {
	// Channel is the full name of the producing output port.
	Channel string
	// Group is the consumer group of a reader; replicas of one input share it.
	Group string
	// Producer identifies a writer instance.
	Producer string
	// Producers is the number of writers a reader should wait for.
	Producers int
	// Groups lists the consumer groups downstream of a writer so transports
	// can retain records for groups that have not attached yet.
	Groups []string
	// Timeout bounds how long a send may wait on backpressure.
	Timeout time.Duration
	Config  map[string]any
}

// Transport opens channel endpoints. Implementations must deliver records
// of one writer to a group in send order.
type Transport interface {
	OpenWriter(ctx context.Context, spec ChannelSpec) (ChannelWriter, error)
	OpenReader(ctx context.Context, spec ChannelSpec) (ChannelReader, error)
	Close() error
}

// ChannelWriter is the producing side of a channel.
type ChannelWriter interface {
	Send(ctx context.Context, records []Record) error
	Close(ctx context.Context) error
}

// ChannelReader is the consuming side of a channel.
type ChannelReader interface {
	Retrieve(ctx context.Context) ([]Record, error)
	CanRetrieve() bool
	Close(ctx context.Context) error
}

// Observer receives record flow counts.
type Observer interface {
	RecordsSent(channel string, n int)
	RecordsRetrieved(channel string, n int)
	SendFailed(channel string)
}

type nopObserver struct{}

func (nopObserver) RecordsSent(string, int)      {}
func (nopObserver) RecordsRetrieved(string, int) {}
func (nopObserver) SendFailed(string)            {}

// NopObserver discards counts.
func NopObserver() Observer { return nopObserver{} }
