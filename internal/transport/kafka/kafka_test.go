package kafka

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/alexisbeaulieu97/pipez/internal/port"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	seeds, err := ParseLocation("kafka://broker-1:9092,broker-2:9092")
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, seeds)

	_, err = ParseLocation("nats://localhost:4222")
	require.Error(t, err)

	_, err = ParseLocation("kafka://")
	require.Error(t, err)
}

func TestTopicNameSanitizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pipez.demo.writer.output", TopicName("demo.writer.output"))
	assert.Equal(t, "pipez.demo_pipe.writer_1.out", TopicName("demo pipe.writer:1.out"))
	assert.Equal(t, "pipez.demo.writer.output.control", ControlTopicName("demo.writer.output"))
}

func TestControlRecords(t *testing.T) {
	t.Parallel()

	rec := ControlRecord("pipez.demo.writer.output.control", "writer_1", controlClose)
	assert.Equal(t, "pipez.demo.writer.output.control", rec.Topic)
	producer, kind, ok := ParseControl(rec)
	require.True(t, ok)
	assert.Equal(t, "writer_1", producer)
	assert.Equal(t, controlClose, kind)

	_, _, ok = ParseControl(&kgo.Record{Key: []byte("writer"), Value: []byte(`{}`)})
	assert.False(t, ok)
}

func TestEncodeRecordsKeysByProducer(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeRecords("writer", []port.Record{{"text": "HelloWorld_0"}, {"text": "HelloWorld_1"}})
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	for _, rec := range encoded {
		assert.Equal(t, []byte("writer"), rec.Key)
	}

	decoded, err := port.DecodeRecord(encoded[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "HelloWorld_1", decoded["text"])
}

func TestCaughtUp(t *testing.T) {
	t.Parallel()

	const topic = "pipez.demo.writer.output"
	end := kadm.ListedOffsets{topic: {
		0: {Topic: topic, Partition: 0, Offset: 10},
		1: {Topic: topic, Partition: 1, Offset: 0},
	}}
	committed := func(at int64) kadm.OffsetResponses {
		return kadm.OffsetResponses{topic: {
			0: {Offset: kadm.Offset{Topic: topic, Partition: 0, At: at}},
		}}
	}

	assert.True(t, CaughtUp(topic, end, committed(10)), "empty partitions need no commit")
	assert.False(t, CaughtUp(topic, end, committed(7)))
	assert.False(t, CaughtUp(topic, end, kadm.OffsetResponses{}), "nothing committed yet")

	failed := kadm.ListedOffsets{topic: {0: {Topic: topic, Partition: 0, Err: errors.New("not leader")}}}
	assert.False(t, CaughtUp(topic, failed, committed(10)))
}

func TestReaderCanRetrieveHint(t *testing.T) {
	t.Parallel()

	r := &reader{producers: port.NewProducerSet(2)}
	assert.True(t, r.CanRetrieve(), "nothing polled yet")

	r.lastEmpty.Store(true)
	r.producers.Observe("writer", true)
	r.producers.MarkDrained(true)
	assert.True(t, r.CanRetrieve(), "one writer still open")

	r.producers.Observe("writer_1", true)
	assert.True(t, r.CanRetrieve(), "the group has not drained the topic")

	r.producers.MarkDrained(true)
	assert.False(t, r.CanRetrieve())

	r.lastEmpty.Store(false)
	assert.True(t, r.CanRetrieve(), "the last poll returned records")
}
