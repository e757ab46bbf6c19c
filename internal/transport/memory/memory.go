// Package memory is an in-process channel transport. One Broker is shared by
// every operator instance of a local run.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const (
	DefaultCapacity  = 1024
	DefaultBatchSize = 128
)

// Option configures a Broker.
type Option func(*Broker)

// WithCapacity sets the default number of unconsumed records a channel holds
// before senders block.
func WithCapacity(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// Broker holds every channel of one in-process transport.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*channel
	capacity int
	closed   bool
}

var _ port.Transport = (*Broker)(nil)

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{channels: make(map[string]*channel), capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type channel struct {
	name      string
	capacity  int
	batchSize int

	base      int
	log       []port.Record
	groups    map[string]int
	producers map[string]bool
	notify    chan struct{}
	closed    bool
}

func (b *Broker) channel(spec port.ChannelSpec) (*channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, pipezerrors.NewTransportError(spec.Channel, "open", false, pipezerrors.ErrChannelClosed)
	}
	c, ok := b.channels[spec.Channel]
	if !ok {
		c = &channel{
			name:      spec.Channel,
			capacity:  intConfig(spec.Config, "capacity", b.capacity),
			batchSize: intConfig(spec.Config, "batchSize", DefaultBatchSize),
			groups:    make(map[string]int),
			producers: make(map[string]bool),
			notify:    make(chan struct{}),
		}
		b.channels[spec.Channel] = c
	}
	return c, nil
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

// changed wakes every waiter. Callers hold the broker lock.
func (c *channel) changed() {
	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *channel) register(group string) {
	if _, ok := c.groups[group]; !ok {
		c.groups[group] = c.base
	}
}

// trim drops records every known group has consumed.
func (c *channel) trim() {
	if len(c.groups) == 0 {
		return
	}
	low := -1
	for _, off := range c.groups {
		if low < 0 || off < low {
			low = off
		}
	}
	if drop := low - c.base; drop > 0 {
		c.log = append([]port.Record(nil), c.log[drop:]...)
		c.base = low
	}
}

// OpenWriter registers a producer on the channel.
func (b *Broker) OpenWriter(_ context.Context, spec port.ChannelSpec) (port.ChannelWriter, error) {
	if spec.Producer == "" {
		return nil, fmt.Errorf("memory writer on %s requires a producer id", spec.Channel)
	}
	c, err := b.channel(spec)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	for _, group := range spec.Groups {
		c.register(group)
	}
	c.producers[spec.Producer] = false
	c.changed()
	b.mu.Unlock()

	return &writer{broker: b, channel: c, producer: spec.Producer, timeout: spec.Timeout}, nil
}

// OpenReader joins the consumer group of the channel spec.
func (b *Broker) OpenReader(_ context.Context, spec port.ChannelSpec) (port.ChannelReader, error) {
	if spec.Group == "" {
		return nil, fmt.Errorf("memory reader on %s requires a group", spec.Channel)
	}
	c, err := b.channel(spec)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	c.register(spec.Group)
	b.mu.Unlock()

	return &reader{broker: b, channel: c, group: spec.Group, producers: spec.Producers}, nil
}

// Close wakes blocked senders and rejects further use.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, c := range b.channels {
		c.closed = true
		c.changed()
	}
	return nil
}

type writer struct {
	broker   *Broker
	channel  *channel
	producer string
	timeout  time.Duration
	closed   bool
}

func (w *writer) Send(ctx context.Context, records []port.Record) error {
	if len(records) == 0 {
		return nil
	}

	var expired <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	c := w.channel
	for {
		w.broker.mu.Lock()
		if w.closed || c.closed {
			w.broker.mu.Unlock()
			return pipezerrors.NewTransportError(c.name, "send", false, pipezerrors.ErrChannelClosed)
		}
		if len(c.log) == 0 || len(c.log)+len(records) <= c.capacity {
			for _, r := range records {
				c.log = append(c.log, maps.Clone(r))
			}
			c.changed()
			w.broker.mu.Unlock()
			return nil
		}
		wait := c.notify
		w.broker.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return pipezerrors.NewTransportError(c.name, "send", true, fmt.Errorf("%w: backpressure timeout after %s", pipezerrors.ErrChannelUnavailable, w.timeout))
		case <-ctx.Done():
			return pipezerrors.NewTransportError(c.name, "send", true, fmt.Errorf("%w: %w", pipezerrors.ErrChannelUnavailable, ctx.Err()))
		}
	}
}

func (w *writer) Close(context.Context) error {
	w.broker.mu.Lock()
	defer w.broker.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.channel.producers[w.producer] = true
	w.channel.changed()
	return nil
}

type reader struct {
	broker    *Broker
	channel   *channel
	group     string
	producers int
}

func (r *reader) Retrieve(context.Context) ([]port.Record, error) {
	r.broker.mu.Lock()
	defer r.broker.mu.Unlock()

	c := r.channel
	off := c.groups[r.group]
	if off < c.base {
		off = c.base
	}
	available := c.base + len(c.log) - off
	if available <= 0 {
		return []port.Record{}, nil
	}
	n := min(available, c.batchSize)

	start := off - c.base
	out := make([]port.Record, n)
	copy(out, c.log[start:start+n])
	c.groups[r.group] = off + n

	c.trim()
	c.changed()
	return out, nil
}

func (r *reader) CanRetrieve() bool {
	r.broker.mu.Lock()
	defer r.broker.mu.Unlock()

	c := r.channel
	if c.base+len(c.log) > c.groups[r.group] {
		return true
	}
	if c.closed {
		return false
	}
	finished := 0
	for _, done := range c.producers {
		if done {
			finished++
		}
	}
	return finished < r.producers
}

func (r *reader) Close(context.Context) error {
	return nil
}
