// Package transport resolves channelLocation URLs to channel transports.
package transport

import (
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/transport/kafka"
	"github.com/alexisbeaulieu97/pipez/internal/transport/memory"
	"github.com/alexisbeaulieu97/pipez/internal/transport/natsjs"
)

// MemoryScheme selects the in-process broker.
const MemoryScheme = "memory"

// Dialer caches one transport per location. All memory:// locations of a
// dialer share one broker namespace per host part.
type Dialer struct {
	log            *logger.Logger
	memoryCapacity int

	mu         sync.Mutex
	transports map[string]port.Transport
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithLogger sets the logger handed to broker transports.
func WithLogger(log *logger.Logger) Option {
	return func(d *Dialer) { d.log = log }
}

// WithMemoryCapacity sets the default channel capacity of memory brokers.
func WithMemoryCapacity(n int) Option {
	return func(d *Dialer) { d.memoryCapacity = n }
}

// NewDialer creates an empty dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{log: logger.Nop(), transports: make(map[string]port.Transport)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial returns the transport serving location.
func (d *Dialer) Dial(location string) (port.Transport, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse channel location %q: %w", location, err)
	}

	key := u.Scheme + "://" + u.Host
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.transports[key]; ok {
		return t, nil
	}

	var t port.Transport
	switch u.Scheme {
	case MemoryScheme:
		t = memory.New(memory.WithCapacity(d.memoryCapacity))
	case kafka.Scheme:
		seeds, err := kafka.ParseLocation(location)
		if err != nil {
			return nil, err
		}
		t = kafka.New(seeds, d.log)
	case natsjs.Scheme:
		t = natsjs.New(location, d.log)
	default:
		return nil, fmt.Errorf("unsupported channel location %q", location)
	}

	d.transports[key] = t
	return t, nil
}

// Close closes every transport the dialer opened.
func (d *Dialer) Close() error {
	d.mu.Lock()
	transports := d.transports
	d.transports = make(map[string]port.Transport)
	d.mu.Unlock()

	var err error
	for _, t := range transports {
		err = multierr.Append(err, t.Close())
	}
	return err
}
