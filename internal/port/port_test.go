package port

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

type stubOwner struct{ name string }

func (o stubOwner) Name() string     { return o.name }
func (o stubOwner) FullName() string { return "demo." + o.name }

func newPort(t *testing.T, owner, name string, role Role, schema string) *Port {
	t.Helper()
	p, err := New(stubOwner{name: owner}, name, role, Schema{Name: schema})
	require.NoError(t, err)
	return p
}

func TestConnectPairsOutputAndInput(t *testing.T) {
	t.Parallel()

	out := newPort(t, "writer", "output", RoleOutput, "text")
	in := newPort(t, "reader", "input", RoleInput, "text")

	require.NoError(t, in.Connect(out))
	assert.Same(t, out, in.Upstream())
	assert.Equal(t, []*Port{in}, out.Downstream())
	assert.True(t, out.Connected())
	assert.Equal(t, "demo.writer.output", out.FullName())
}

func TestConnectAllowsOutputFanOut(t *testing.T) {
	t.Parallel()

	out := newPort(t, "writer", "output", RoleOutput, "text")
	a := newPort(t, "reader", "input", RoleInput, "text")
	b := newPort(t, "archiver", "input", RoleInput, "text")

	require.NoError(t, out.Connect(a))
	require.NoError(t, out.Connect(b))
	assert.Len(t, out.Downstream(), 2)
}

func TestConnectRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) (*Port, *Port)
	}{
		{
			name: "same roles",
			setup: func(t *testing.T) (*Port, *Port) {
				return newPort(t, "a", "out", RoleOutput, "text"), newPort(t, "b", "out", RoleOutput, "text")
			},
		},
		{
			name: "input already connected",
			setup: func(t *testing.T) (*Port, *Port) {
				first := newPort(t, "a", "output", RoleOutput, "text")
				in := newPort(t, "c", "input", RoleInput, "text")
				require.NoError(t, first.Connect(in))
				return newPort(t, "b", "output", RoleOutput, "text"), in
			},
		},
		{
			name: "schema mismatch",
			setup: func(t *testing.T) (*Port, *Port) {
				return newPort(t, "a", "output", RoleOutput, "avro"), newPort(t, "b", "input", RoleInput, "text")
			},
		},
		{
			name: "self",
			setup: func(t *testing.T) (*Port, *Port) {
				p := newPort(t, "a", "output", RoleOutput, "text")
				return p, p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, b := tt.setup(t)
			err := a.Connect(b)
			require.ErrorIs(t, err, pipezerrors.ErrIncompatibleConnection)
		})
	}
}

func TestDeclaredCompatibilityAllowsConnection(t *testing.T) {
	t.Parallel()

	out := newPort(t, "writer", "output", RoleOutput, "text.v1")
	in := newPort(t, "reader", "input", RoleInput, "text.v2")
	require.Error(t, in.Connect(out))

	in.DeclareCompatible("text.v1")
	require.NoError(t, in.Connect(out))
}

func TestPortDeclaresChannelParameters(t *testing.T) {
	t.Parallel()

	p := newPort(t, "writer", "output", RoleOutput, "text")
	expected := p.Parameters().Expected()
	require.Len(t, expected, 3)
	assert.Equal(t, ParamChannelLocation, expected[0].Name)

	values, err := p.Parameters().Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSendTimeoutSeconds, values.Float(ParamSendTimeout))
}

type recordingWriter struct {
	sent   [][]Record
	err    error
	closed bool
}

func (w *recordingWriter) Send(_ context.Context, records []Record) error {
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, records)
	return nil
}

func (w *recordingWriter) Close(context.Context) error {
	w.closed = true
	return nil
}

type countingObserver struct {
	sent, retrieved, failed int
}

func (o *countingObserver) RecordsSent(_ string, n int)      { o.sent += n }
func (o *countingObserver) RecordsRetrieved(_ string, n int) { o.retrieved += n }
func (o *countingObserver) SendFailed(string)                { o.failed++ }

func TestBoundOutputCountsRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	writer := &recordingWriter{}
	obs := &countingObserver{}
	out := NewBoundOutput("output", "demo.writer.output", writer, obs)

	require.NoError(t, out.Send(ctx, nil))
	require.NoError(t, out.Send(ctx, []Record{{"text": "a"}, {"text": "b"}}))
	assert.Equal(t, 2, obs.sent)
	assert.Len(t, writer.sent, 1)

	writer.err = errors.New("down")
	require.Error(t, out.Send(ctx, []Record{{"text": "c"}}))
	assert.Equal(t, 1, obs.failed)

	require.NoError(t, out.Close(ctx))
	assert.True(t, writer.closed)
}

type stubReader struct {
	records []Record
	err     error
}

func (r *stubReader) Retrieve(context.Context) ([]Record, error) { return r.records, r.err }
func (r *stubReader) CanRetrieve() bool                          { return len(r.records) > 0 }
func (r *stubReader) Close(context.Context) error                { return nil }

func TestBoundInputKeepsRecordsTakenBeforeAnError(t *testing.T) {
	t.Parallel()

	reader := &stubReader{records: []Record{{"text": "a"}}, err: errors.New("fetch failed")}
	obs := &countingObserver{}
	in := NewBoundInput("input", "demo.writer.output", reader, obs)

	records, err := in.Retrieve(context.Background())
	require.Error(t, err)
	assert.Equal(t, []Record{{"text": "a"}}, records)
	assert.Equal(t, 1, obs.retrieved)
}

func TestProducerSet(t *testing.T) {
	t.Parallel()

	s := NewProducerSet(2)
	assert.False(t, s.Finished())

	s.Observe("demo.writer.output", false)
	s.Observe("demo.writer_1.output", false)
	s.MarkDrained(true)
	assert.False(t, s.Done(), "draining counts only once every writer closed")

	s.Observe("demo.writer.output", true)
	s.Observe("demo.writer_1.output", true)
	assert.True(t, s.Finished())
	assert.False(t, s.Done())

	s.MarkDrained(true)
	assert.True(t, s.Done())

	s.Observe("demo.writer_1.output", false)
	assert.False(t, s.Finished(), "a restarted writer reopens the channel")
	assert.False(t, s.Done())

	s.Observe("demo.writer_1.output", true)
	assert.False(t, s.Done(), "the group must drain again")
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := EncodeRecord(Record{"text": "HelloWorld_0"})
	require.NoError(t, err)

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "HelloWorld_0", decoded["text"])

	_, err = DecodeRecord([]byte("not json"))
	require.Error(t, err)
}
