package port

import (
	"context"
)

// BoundOutput is an output port attached to a live channel writer.
type BoundOutput struct {
	name     string
	channel  string
	writer   ChannelWriter
	observer Observer
}

// NewBoundOutput binds a writer to the named output port.
func NewBoundOutput(name, channel string, writer ChannelWriter, observer Observer) *BoundOutput {
	if observer == nil {
		observer = NopObserver()
	}
	return &BoundOutput{name: name, channel: channel, writer: writer, observer: observer}
}

func (o *BoundOutput) Name() string    { return o.name }
func (o *BoundOutput) Channel() string { return o.channel }

// Send hands records to the transport. An empty batch is a no-op.
func (o *BoundOutput) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := o.writer.Send(ctx, records); err != nil {
		o.observer.SendFailed(o.channel)
		return err
	}
	o.observer.RecordsSent(o.channel, len(records))
	return nil
}

// Close announces the end of this producer's stream.
func (o *BoundOutput) Close(ctx context.Context) error {
	return o.writer.Close(ctx)
}

// BoundInput is an input port attached to a live channel reader.
type BoundInput struct {
	name     string
	channel  string
	reader   ChannelReader
	observer Observer
}

// NewBoundInput binds a reader to the named input port.
func NewBoundInput(name, channel string, reader ChannelReader, observer Observer) *BoundInput {
	if observer == nil {
		observer = NopObserver()
	}
	return &BoundInput{name: name, channel: channel, reader: reader, observer: observer}
}

func (i *BoundInput) Name() string    { return i.name }
func (i *BoundInput) Channel() string { return i.channel }

// Retrieve returns the records available now. Records the transport already
// took off the channel are returned alongside an error.
func (i *BoundInput) Retrieve(ctx context.Context) ([]Record, error) {
	records, err := i.reader.Retrieve(ctx)
	if len(records) > 0 {
		i.observer.RecordsRetrieved(i.channel, len(records))
	}
	return records, err
}

// CanRetrieve forwards the transport's hint.
func (i *BoundInput) CanRetrieve() bool {
	return i.reader.CanRetrieve()
}

// Close releases the reader.
func (i *BoundInput) Close(ctx context.Context) error {
	return i.reader.Close(ctx)
}
