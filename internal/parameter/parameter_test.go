package parameter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     Type
		value   any
		want    any
		wantErr bool
	}{
		{name: "int from int64", typ: TypeInt, value: int64(3), want: 3},
		{name: "int from float64", typ: TypeInt, value: 3.0, want: 3},
		{name: "int from fraction", typ: TypeInt, value: 3.2, wantErr: true},
		{name: "int from infinity", typ: TypeInt, value: math.Inf(1), wantErr: true},
		{name: "int from NaN", typ: TypeInt, value: math.NaN(), wantErr: true},
		{name: "int from huge float", typ: TypeInt, value: 1e300, wantErr: true},
		{name: "int from large uint64", typ: TypeInt, value: uint64(math.MaxUint64), wantErr: true},
		{name: "int from max int64", typ: TypeInt, value: int64(math.MaxInt64), want: math.MaxInt64},
		{name: "float from int", typ: TypeFloat, value: 2, want: 2.0},
		{name: "list from strings", typ: TypeList, value: []string{"a"}, want: []any{"a"}},
		{name: "map from string map", typ: TypeMap, value: map[string]string{"k": "v"}, want: map[string]any{"k": "v"}},
		{name: "any passes through", typ: TypeAny, value: struct{}{}, want: struct{}{}},
		{name: "bool from string", typ: TypeBool, value: "true", wantErr: true},
		{name: "unknown type", typ: Type("bytes"), value: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Coerce(tt.typ, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAsDecodesCollections(t *testing.T) {
	t.Parallel()

	got, err := parseAs(TypeList, "[a, b]")
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, got)

	got, err = parseAs(TypeMap, "{acks: all}")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"acks": "all"}, got)

	got, err = parseAs(TypeBool, " true ")
	require.NoError(t, err)
	require.Equal(t, true, got)
}

func TestWireNamePrefersAltName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "recordCount", Parameter{Name: "count", AltName: "recordCount"}.WireName())
	require.Equal(t, "count", Parameter{Name: "count"}.WireName())
}
