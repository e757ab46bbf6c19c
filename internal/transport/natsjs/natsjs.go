// Package natsjs implements the channel transport on NATS JetStream. Each
// channel is a data stream with interest retention plus a control stream of
// producer markers. Every consumer group is a durable pull consumer on the
// data stream, so fan-out groups each see every record, while each reader
// follows the whole control stream on its own.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const (
	Scheme = "nats"

	HeaderControl  = "Pipez-Control"
	HeaderProducer = "Pipez-Producer"
	controlOpen    = "open"
	controlClose   = "close"

	defaultCapacity   = 10000
	defaultBatchSize  = 128
	defaultDrainCheck = 250 * time.Millisecond
	retryInterval     = 25 * time.Millisecond
)

var (
	invalidNameChars    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	invalidSubjectChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// StreamName maps a channel to a legal stream name.
func StreamName(channel string) string {
	return "PIPEZ_" + invalidNameChars.ReplaceAllString(channel, "_")
}

// ControlStreamName is the stream holding a channel's producer markers.
func ControlStreamName(channel string) string {
	return StreamName(channel) + "_CONTROL"
}

// ConsumerName maps a consumer group to a legal durable name.
func ConsumerName(group string) string {
	return invalidNameChars.ReplaceAllString(group, "_")
}

// Subject returns the subject records of a channel are published on.
func Subject(channel, kind string) string {
	return "pipez." + invalidSubjectChars.ReplaceAllString(channel, "_") + "." + kind
}

// Transport shares one NATS connection across every channel.
type Transport struct {
	url string
	log *logger.Logger

	mu sync.Mutex
	nc *nats.Conn
	js jetstream.JetStream
}

var _ port.Transport = (*Transport)(nil)

// New creates a transport for a nats:// URL. The connection is opened on
// first use.
func New(url string, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Nop()
	}
	return &Transport{url: url, log: log.With("transport", Scheme)}
}

func (t *Transport) jetStream() (jetstream.JetStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.js != nil {
		return t.js, nil
	}
	nc, err := nats.Connect(t.url, nats.Name("pipez"))
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	t.nc, t.js = nc, js
	return js, nil
}

// streams ensures the channel's data and control streams.
func (t *Transport) streams(ctx context.Context, spec port.ChannelSpec) (jetstream.JetStream, jetstream.Stream, jetstream.Stream, error) {
	js, err := t.jetStream()
	if err != nil {
		return nil, nil, nil, err
	}
	data, err := js.CreateOrUpdateStream(ctx, StreamConfig(spec))
	if err != nil {
		return nil, nil, nil, err
	}
	control, err := js.CreateOrUpdateStream(ctx, ControlStreamConfig(spec))
	if err != nil {
		return nil, nil, nil, err
	}
	return js, data, control, nil
}

// StreamConfig is the stream backing a channel's records.
func StreamConfig(spec port.ChannelSpec) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      StreamName(spec.Channel),
		Subjects:  []string{Subject(spec.Channel, "data")},
		Retention: jetstream.InterestPolicy,
		Discard:   jetstream.DiscardNew,
		MaxMsgs:   int64(intConfig(spec.Config, "capacity", defaultCapacity)),
	}
}

// ControlStreamConfig keeps every producer marker for late readers.
func ControlStreamConfig(spec port.ChannelSpec) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      ControlStreamName(spec.Channel),
		Subjects:  []string{Subject(spec.Channel, "control")},
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}
}

// ConsumerConfig is the durable pull consumer of a group.
func ConsumerConfig(channel, group string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:        ConsumerName(group),
		FilterSubjects: []string{Subject(channel, "data")},
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
}

func intConfig(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

// OpenWriter ensures the stream and the downstream consumers exist, then
// announces the producer.
func (t *Transport) OpenWriter(ctx context.Context, spec port.ChannelSpec) (port.ChannelWriter, error) {
	js, stream, _, err := t.streams(ctx, spec)
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	for _, group := range spec.Groups {
		if _, err := stream.CreateOrUpdateConsumer(ctx, ConsumerConfig(spec.Channel, group)); err != nil {
			return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
		}
	}

	w := &writer{js: js, channel: spec.Channel, producer: spec.Producer, timeout: spec.Timeout}
	if _, err := js.PublishMsg(ctx, ControlMsg(spec.Channel, spec.Producer, controlOpen)); err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	return w, nil
}

// OpenReader binds to the group's durable consumer and follows the control
// stream with an ordered consumer of its own.
func (t *Transport) OpenReader(ctx context.Context, spec port.ChannelSpec) (port.ChannelReader, error) {
	_, stream, controlStream, err := t.streams(ctx, spec)
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, ConsumerConfig(spec.Channel, spec.Group))
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	control, err := controlStream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	r := &reader{
		consumer:   consumer,
		log:        t.log.With("channel", spec.Channel),
		channel:    spec.Channel,
		batchSize:  intConfig(spec.Config, "batchSize", defaultBatchSize),
		drainCheck: time.Duration(intConfig(spec.Config, "drainCheckMs", int(defaultDrainCheck/time.Millisecond))) * time.Millisecond,
		producers:  port.NewProducerSet(spec.Producers),
	}
	r.watch, err = control.Consume(func(msg jetstream.Msg) {
		producer, kind, ok := ParseControl(msg.Headers())
		if !ok {
			return
		}
		switch kind {
		case controlOpen:
			r.producers.Observe(producer, false)
		case controlClose:
			r.producers.Observe(producer, true)
		}
	})
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.watchDrain(drainCtx)
	return r, nil
}

// Close drains the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	nc := t.nc
	t.nc, t.js = nil, nil
	t.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	return nil
}

// ControlMsg builds the producer lifecycle marker.
func ControlMsg(channel, producer, kind string) *nats.Msg {
	msg := nats.NewMsg(Subject(channel, "control"))
	msg.Header.Set(HeaderControl, kind)
	msg.Header.Set(HeaderProducer, producer)
	return msg
}

// Drained reports whether a consumer has delivered and seen acknowledged
// every message of its stream.
func Drained(info *jetstream.ConsumerInfo) bool {
	return info != nil && info.NumPending == 0 && info.NumAckPending == 0
}

// ParseControl reports whether the headers mark a control message.
func ParseControl(h nats.Header) (producer, kind string, ok bool) {
	kind = h.Get(HeaderControl)
	if kind == "" {
		return "", "", false
	}
	return h.Get(HeaderProducer), kind, true
}

type writer struct {
	js       jetstream.JetStream
	channel  string
	producer string
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
}

// Send publishes records one by one. A full stream rejects publishes; they
// are retried until the send timeout expires.
func (w *writer) Send(ctx context.Context, records []port.Record) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return pipezerrors.NewTransportError(w.channel, "send", false, pipezerrors.ErrChannelClosed)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	subject := Subject(w.channel, "data")
	for _, r := range records {
		data, err := port.EncodeRecord(r)
		if err != nil {
			return pipezerrors.NewTransportError(w.channel, "send", false, err)
		}
		msg := nats.NewMsg(subject)
		msg.Data = data
		msg.Header.Set(HeaderProducer, w.producer)

		for {
			_, err := w.js.PublishMsg(ctx, msg)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return pipezerrors.NewTransportError(w.channel, "send", true, fmt.Errorf("%w: %w", pipezerrors.ErrChannelUnavailable, ctx.Err()))
			}
			if !isStreamFull(err) {
				return pipezerrors.NewTransportError(w.channel, "send", true, err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(retryInterval):
			}
		}
	}
	return nil
}

func isStreamFull(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return strings.Contains(strings.ToLower(apiErr.Description), "maximum messages")
	}
	return strings.Contains(strings.ToLower(err.Error()), "maximum messages")
}

func (w *writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if _, err := w.js.PublishMsg(ctx, ControlMsg(w.channel, w.producer, controlClose)); err != nil {
		return pipezerrors.NewTransportError(w.channel, "close", true, err)
	}
	return nil
}

type reader struct {
	consumer   jetstream.Consumer
	log        *logger.Logger
	channel    string
	batchSize  int
	drainCheck time.Duration

	producers *port.ProducerSet
	lastEmpty atomic.Bool

	watch  jetstream.ConsumeContext
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watchDrain asks the group's consumer for its backlog once every writer
// closed.
func (r *reader) watchDrain(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.drainCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.producers.Finished() {
			continue
		}
		info, err := r.consumer.Info(ctx)
		if err != nil {
			r.log.Debug(fmt.Sprintf("consumer info: %v", err))
			continue
		}
		r.producers.MarkDrained(Drained(info))
	}
}

func (r *reader) Retrieve(context.Context) ([]port.Record, error) {
	batch, err := r.consumer.FetchNoWait(r.batchSize)
	if err != nil {
		return nil, pipezerrors.NewTransportError(r.channel, "retrieve", true, err)
	}

	out := []port.Record{}
	seen := 0
	for msg := range batch.Messages() {
		seen++
		decoded, err := port.DecodeRecord(msg.Data())
		if err != nil {
			r.log.Warn(fmt.Sprintf("dropping undecodable message from %s: %v", msg.Headers().Get(HeaderProducer), err))
			_ = msg.Term()
			continue
		}
		out = append(out, decoded)
		_ = msg.Ack()
	}
	r.lastEmpty.Store(seen == 0)

	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		if seen == 0 {
			return nil, pipezerrors.NewTransportError(r.channel, "retrieve", true, err)
		}
		r.log.Warn(fmt.Sprintf("fetch ended early: %v", err))
	}
	return out, nil
}

func (r *reader) CanRetrieve() bool {
	return !r.lastEmpty.Load() || !r.producers.Done()
}

func (r *reader) Close(context.Context) error {
	if r.watch != nil {
		r.watch.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}
