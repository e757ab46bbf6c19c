// Package kafka implements the channel transport on Kafka with franz-go.
// Every channel is a data topic plus a control topic carrying producer
// open and close markers. Readers share the data topic through a consumer
// group but each reads the whole control topic, so every replica learns
// when upstream writers are finished.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const (
	Scheme = "kafka"

	ControlHeader = "pipez-control"
	controlOpen   = "open"
	controlClose  = "close"

	defaultBatchSize  = 256
	defaultDrainCheck = 250 * time.Millisecond
)

var invalidTopicChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ParseLocation extracts seed brokers from kafka://host:port[,host:port].
func ParseLocation(location string) ([]string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse kafka location: %w", err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("kafka location must use %s://, got %q", Scheme, location)
	}
	var seeds []string
	for _, seed := range strings.Split(u.Host, ",") {
		if seed = strings.TrimSpace(seed); seed != "" {
			seeds = append(seeds, seed)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("kafka location %q has no brokers", location)
	}
	return seeds, nil
}

// TopicName maps a channel name to a legal topic name.
func TopicName(channel string) string {
	return "pipez." + invalidTopicChars.ReplaceAllString(channel, "_")
}

// ControlTopicName is the topic carrying the channel's producer markers.
func ControlTopicName(channel string) string {
	return TopicName(channel) + ".control"
}

// Transport opens franz-go clients against one cluster.
type Transport struct {
	seeds []string
	log   *logger.Logger

	mu      sync.Mutex
	clients []*kgo.Client
	topics  map[string]struct{}
}

var _ port.Transport = (*Transport)(nil)

// New creates a transport for the given seed brokers.
func New(seeds []string, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Nop()
	}
	return &Transport{seeds: seeds, log: log.With("transport", Scheme), topics: make(map[string]struct{})}
}

func (t *Transport) newClient(opts ...kgo.Opt) (*kgo.Client, error) {
	opts = append([]kgo.Opt{kgo.SeedBrokers(t.seeds...)}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.clients = append(t.clients, client)
	t.mu.Unlock()
	return client, nil
}

// ensureTopics creates the channel's data and control topics once per
// transport. The control topic has one partition so markers keep their order.
func (t *Transport) ensureTopics(ctx context.Context, channel string, cfg map[string]any) error {
	data, control := TopicName(channel), ControlTopicName(channel)
	t.mu.Lock()
	_, known := t.topics[data]
	t.mu.Unlock()
	if known {
		return nil
	}

	client, err := t.newClient()
	if err != nil {
		return err
	}
	admin := kadm.NewClient(client)

	replication := int16(intConfig(cfg, "replicationFactor", 1))
	if err := createTopic(ctx, admin, data, int32(intConfig(cfg, "partitions", 1)), replication); err != nil {
		return err
	}
	if err := createTopic(ctx, admin, control, 1, replication); err != nil {
		return err
	}

	t.mu.Lock()
	t.topics[data] = struct{}{}
	t.mu.Unlock()
	return nil
}

func createTopic(ctx context.Context, admin *kadm.Client, topic string, partitions int32, replication int16) error {
	responses, err := admin.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return err
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return resp.Err
		}
	}
	return nil
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

// OpenWriter creates a producing client and announces the producer.
func (t *Transport) OpenWriter(ctx context.Context, spec port.ChannelSpec) (port.ChannelWriter, error) {
	if err := t.ensureTopics(ctx, spec.Channel, spec.Config); err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	topic := TopicName(spec.Channel)
	client, err := t.newClient(
		kgo.DefaultProduceTopic(topic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	)
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	w := &writer{
		client:   client,
		channel:  spec.Channel,
		control:  ControlTopicName(spec.Channel),
		producer: spec.Producer,
		timeout:  spec.Timeout,
	}
	if err := client.ProduceSync(ctx, ControlRecord(w.control, spec.Producer, controlOpen)).FirstErr(); err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	t.log.Debug(fmt.Sprintf("writer %s opened on %s", spec.Producer, topic))
	return w, nil
}

// OpenReader joins the consumer group named by the channel spec. Offsets
// reset to the start of the topic so late readers see records produced
// before they joined. A second, groupless client follows the control topic
// from its start.
func (t *Transport) OpenReader(ctx context.Context, spec port.ChannelSpec) (port.ChannelReader, error) {
	if err := t.ensureTopics(ctx, spec.Channel, spec.Config); err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	topic := TopicName(spec.Channel)
	group, err := t.newClient(
		kgo.ConsumerGroup(spec.Group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}
	control, err := t.newClient(
		kgo.ConsumeTopics(ControlTopicName(spec.Channel)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", true, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r := &reader{
		group:      group,
		control:    control,
		admin:      kadm.NewClient(group),
		log:        t.log.With("channel", spec.Channel),
		channel:    spec.Channel,
		topic:      topic,
		groupName:  spec.Group,
		batchSize:  intConfig(spec.Config, "batchSize", defaultBatchSize),
		drainCheck: time.Duration(intConfig(spec.Config, "drainCheckMs", int(defaultDrainCheck/time.Millisecond))) * time.Millisecond,
		producers:  port.NewProducerSet(spec.Producers),
		cancel:     cancel,
	}
	r.wg.Add(2)
	go r.watchControl(watchCtx)
	go r.watchDrain(watchCtx)
	return r, nil
}

// Close shuts every client this transport created.
func (t *Transport) Close() error {
	t.mu.Lock()
	clients := t.clients
	t.clients = nil
	t.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	return nil
}

// ControlRecord builds a producer lifecycle marker for the control topic.
func ControlRecord(topic, producer, kind string) *kgo.Record {
	return &kgo.Record{
		Topic:   topic,
		Key:     []byte(producer),
		Headers: []kgo.RecordHeader{{Key: ControlHeader, Value: []byte(kind)}},
	}
}

// ParseControl reports whether r is a control record.
func ParseControl(r *kgo.Record) (producer, kind string, ok bool) {
	for _, h := range r.Headers {
		if h.Key == ControlHeader {
			return string(r.Key), string(h.Value), true
		}
	}
	return "", "", false
}

// EncodeRecords converts records into keyed kgo records.
func EncodeRecords(producer string, records []port.Record) ([]*kgo.Record, error) {
	out := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		value, err := port.EncodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, &kgo.Record{Key: []byte(producer), Value: value})
	}
	return out, nil
}

// CaughtUp reports whether the group committed every record the topic
// holds. Empty partitions count as caught up.
func CaughtUp(topic string, end kadm.ListedOffsets, committed kadm.OffsetResponses) bool {
	for _, lo := range end[topic] {
		if lo.Err != nil {
			return false
		}
		if lo.Offset <= 0 {
			continue
		}
		c, ok := committed.Lookup(topic, lo.Partition)
		if !ok || c.Err != nil || c.At < lo.Offset {
			return false
		}
	}
	return true
}

type writer struct {
	client   *kgo.Client
	channel  string
	control  string
	producer string
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
}

func (w *writer) Send(ctx context.Context, records []port.Record) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return pipezerrors.NewTransportError(w.channel, "send", false, pipezerrors.ErrChannelClosed)
	}

	encoded, err := EncodeRecords(w.producer, records)
	if err != nil {
		return pipezerrors.NewTransportError(w.channel, "send", false, err)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.client.ProduceSync(ctx, encoded...).FirstErr(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pipezerrors.NewTransportError(w.channel, "send", true, fmt.Errorf("%w: %w", pipezerrors.ErrChannelUnavailable, err))
		}
		return pipezerrors.NewTransportError(w.channel, "send", true, err)
	}
	return nil
}

func (w *writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.client.Flush(ctx); err != nil {
		return pipezerrors.NewTransportError(w.channel, "close", true, err)
	}
	if err := w.client.ProduceSync(ctx, ControlRecord(w.control, w.producer, controlClose)).FirstErr(); err != nil {
		return pipezerrors.NewTransportError(w.channel, "close", true, err)
	}
	return nil
}

type reader struct {
	group      *kgo.Client
	control    *kgo.Client
	admin      *kadm.Client
	log        *logger.Logger
	channel    string
	topic      string
	groupName  string
	batchSize  int
	drainCheck time.Duration

	producers *port.ProducerSet
	lastEmpty atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watchControl feeds every producer marker of the channel into the set.
func (r *reader) watchControl(ctx context.Context) {
	defer r.wg.Done()
	for {
		fetches := r.control.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			r.log.Warn(fmt.Sprintf("control fetch %s[%d]: %v", topic, partition, err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			producer, kind, ok := ParseControl(rec)
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
	}
}

// watchDrain commits this reader's marks and, once every writer closed,
// compares the group's committed offsets with the end of the data topic.
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
		if err := r.group.CommitMarkedOffsets(ctx); err != nil {
			r.log.Debug(fmt.Sprintf("commit marked offsets: %v", err))
			continue
		}
		end, err := r.admin.ListEndOffsets(ctx, r.topic)
		if err != nil {
			r.log.Debug(fmt.Sprintf("list end offsets: %v", err))
			continue
		}
		committed, err := r.admin.FetchOffsetsForTopics(ctx, r.groupName, r.topic)
		if err != nil {
			r.log.Debug(fmt.Sprintf("fetch committed offsets: %v", err))
			continue
		}
		r.producers.MarkDrained(CaughtUp(r.topic, end, committed))
	}
}

func (r *reader) Retrieve(ctx context.Context) ([]port.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A nil context returns only what is already buffered.
	fetches := r.group.PollRecords(nil, r.batchSize) //nolint:staticcheck
	if fetches.IsClientClosed() {
		return nil, pipezerrors.NewTransportError(r.channel, "retrieve", false, pipezerrors.ErrChannelClosed)
	}

	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if fetchErr == nil {
			fetchErr = fmt.Errorf("fetch %s[%d]: %w", topic, partition, err)
		}
	})

	out := []port.Record{}
	var polled []*kgo.Record
	fetches.EachRecord(func(rec *kgo.Record) {
		polled = append(polled, rec)
		decoded, err := port.DecodeRecord(rec.Value)
		if err != nil {
			r.log.Warn(fmt.Sprintf("skipping undecodable record at %s[%d]@%d: %v", rec.Topic, rec.Partition, rec.Offset, err))
			return
		}
		out = append(out, decoded)
	})
	r.group.MarkCommitRecords(polled...)
	r.lastEmpty.Store(len(polled) == 0)

	if fetchErr != nil {
		if len(polled) == 0 {
			return nil, pipezerrors.NewTransportError(r.channel, "retrieve", true, fetchErr)
		}
		r.log.Warn(fetchErr.Error())
	}
	return out, nil
}

func (r *reader) CanRetrieve() bool {
	return !r.lastEmpty.Load() || !r.producers.Done()
}

func (r *reader) Close(ctx context.Context) error {
	r.cancel()
	r.wg.Wait()
	if err := r.group.CommitMarkedOffsets(ctx); err != nil {
		return pipezerrors.NewTransportError(r.channel, "close", false, err)
	}
	return nil
}
