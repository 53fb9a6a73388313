package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	b, err := msgpack.Marshal(v)
	require.NoError(t, err)
	var out Value
	require.NoError(t, msgpack.Unmarshal(b, &out))
	return out
}

func TestValueRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	cases := []Value{
		Null,
		OK,
		Int64(-42),
		Uint64(42),
		Float64(3.5),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
		Bool(true),
		Bool(false),
		Time(now),
		Duration(5 * time.Second),
		ErrorValue("access denied"),
	}

	for _, v := range cases {
		got := roundTrip(t, v)
		assert.Equal(t, v.Kind, got.Kind)
		switch v.Kind {
		case KindI64:
			i, ok := got.Int64()
			require.True(t, ok)
			wantI, _ := v.Int64()
			assert.Equal(t, wantI, i)
		case KindU64:
			u, ok := got.Uint64()
			require.True(t, ok)
			wantU, _ := v.Uint64()
			assert.Equal(t, wantU, u)
		case KindF64:
			f, ok := got.Float64()
			require.True(t, ok)
			wantF, _ := v.Float64()
			assert.Equal(t, wantF, f)
		case KindString:
			assert.Equal(t, v.String(), got.String())
		case KindBytes:
			b, ok := got.Bytes()
			require.True(t, ok)
			wantB, _ := v.Bytes()
			assert.Equal(t, wantB, b)
		case KindBool:
			b, ok := got.Bool()
			require.True(t, ok)
			wantB, _ := v.Bool()
			assert.Equal(t, wantB, b)
		case KindTime:
			gt, ok := got.Time()
			require.True(t, ok)
			wt, _ := v.Time()
			assert.True(t, wt.Equal(gt))
		case KindDuration:
			d, ok := got.AsDuration()
			require.True(t, ok)
			wantD, _ := v.AsDuration()
			assert.Equal(t, wantD, d)
		case KindError:
			assert.Equal(t, v.Error(), got.Error())
		}
	}
}

func TestValueAccessorsMismatchedKind(t *testing.T) {
	v := String("x")
	_, ok := v.Int64()
	assert.False(t, ok)
	_, ok = v.Bool()
	assert.False(t, ok)
	_, ok = v.AsDuration()
	assert.False(t, ok)
}

func TestBoolAsInt64(t *testing.T) {
	// Int64() accepts Bool as a convenience for code that treats boolean
	// acks as 0/1.
	v := Bool(true)
	i, ok := v.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(1), i)
}
