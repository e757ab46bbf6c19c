package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipez/internal/transport/kafka"
	"github.com/alexisbeaulieu97/pipez/internal/transport/memory"
	"github.com/alexisbeaulieu97/pipez/internal/transport/natsjs"
)

func TestDialSelectsTransportByScheme(t *testing.T) {
	t.Parallel()

	d := NewDialer()
	t.Cleanup(func() { _ = d.Close() })

	mem, err := d.Dial("memory://local")
	require.NoError(t, err)
	assert.IsType(t, &memory.Broker{}, mem)

	k, err := d.Dial("kafka://localhost:9092")
	require.NoError(t, err)
	assert.IsType(t, &kafka.Transport{}, k)

	n, err := d.Dial("nats://localhost:4222")
	require.NoError(t, err)
	assert.IsType(t, &natsjs.Transport{}, n)
}

func TestDialCachesPerLocation(t *testing.T) {
	t.Parallel()

	d := NewDialer()
	a, err := d.Dial("memory://local")
	require.NoError(t, err)
	b, err := d.Dial("memory://local")
	require.NoError(t, err)
	c, err := d.Dial("memory://other")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	require.NoError(t, d.Close())

	fresh, err := d.Dial("memory://local")
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	_, err := NewDialer().Dial("amqp://localhost")
	require.Error(t, err)

	_, err = NewDialer().Dial("kafka://")
	require.Error(t, err)
}
