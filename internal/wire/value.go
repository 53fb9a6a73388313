package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the active member of a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindOK
	KindError
	KindBool
	KindI64
	KindU64
	KindF64
	KindString
	KindBytes
	KindTime
	KindDuration
)

// Value is a tagged union carried over the wire in Update, Last, and
// Subscribed messages. Only one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind
	i    int64
	u    uint64
	f    float64
	s    string
	b    []byte
	t    time.Time
	d    time.Duration
}

// Null is the canonical null Value.
var Null = Value{Kind: KindNull}

// OK is the canonical acknowledgement Value (a write succeeded with no
// further payload to report).
var OK = Value{Kind: KindOK}

func Int64(v int64) Value       { return Value{Kind: KindI64, i: v} }
func Uint64(v uint64) Value     { return Value{Kind: KindU64, u: v} }
func Float64(v float64) Value   { return Value{Kind: KindF64, f: v} }
func String(v string) Value     { return Value{Kind: KindString, s: v} }
func Bytes(v []byte) Value      { return Value{Kind: KindBytes, b: v} }
func Bool(v bool) Value {
	if v {
		return Value{Kind: KindBool, i: 1}
	}
	return Value{Kind: KindBool, i: 0}
}
func Time(v time.Time) Value         { return Value{Kind: KindTime, t: v} }
func Duration(v time.Duration) Value { return Value{Kind: KindDuration, d: v} }

// Error constructs an error-carrying Value; the subscriber's Last/Updates
// surface it without ever turning it into a Go error on its own — that
// translation is the caller's choice.
func ErrorValue(msg string) Value { return Value{Kind: KindError, s: msg} }

func (v Value) IsNull() bool { return v.Kind == KindNull }
func (v Value) IsOK() bool   { return v.Kind == KindOK }
func (v Value) IsError() bool { return v.Kind == KindError }

func (v Value) Error() string {
	if v.Kind != KindError {
		return ""
	}
	return v.s
}

func (v Value) Int64() (int64, bool) {
	switch v.Kind {
	case KindI64:
		return v.i, true
	case KindU64:
		return int64(v.u), true
	case KindBool:
		return v.i, true
	default:
		return 0, false
	}
}

func (v Value) Uint64() (uint64, bool) {
	if v.Kind == KindU64 {
		return v.u, true
	}
	return 0, false
}

func (v Value) Float64() (float64, bool) {
	if v.Kind == KindF64 {
		return v.f, true
	}
	return 0, false
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.s
	case KindError:
		return "error: " + v.s
	default:
		return fmt.Sprintf("%v", v.asAny())
	}
}

func (v Value) Bytes() ([]byte, bool) {
	if v.Kind == KindBytes {
		return v.b, true
	}
	return nil, false
}

func (v Value) Bool() (bool, bool) {
	if v.Kind == KindBool {
		return v.i != 0, true
	}
	return false, false
}

func (v Value) Time() (time.Time, bool) {
	if v.Kind == KindTime {
		return v.t, true
	}
	return time.Time{}, false
}

func (v Value) AsDuration() (time.Duration, bool) {
	if v.Kind == KindDuration {
		return v.d, true
	}
	return 0, false
}

func (v Value) asAny() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindOK:
		return "ok"
	case KindBool:
		return v.i != 0
	case KindI64:
		return v.i
	case KindU64:
		return v.u
	case KindF64:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.b
	case KindTime:
		return v.t
	case KindDuration:
		return v.d
	default:
		return nil
	}
}

var errBadValueFrame = errors.New("wire: malformed value frame")

// EncodeMsgpack implements msgpack.CustomEncoder so a Value round-trips
// compactly as [kind, payload] instead of as a generic Go struct.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case KindNull, KindOK:
		return enc.EncodeNil()
	case KindError, KindString:
		return enc.EncodeString(v.s)
	case KindBool:
		return enc.EncodeBool(v.i != 0)
	case KindI64:
		return enc.EncodeInt64(v.i)
	case KindU64:
		return enc.EncodeUint64(v.u)
	case KindF64:
		return enc.EncodeFloat64(v.f)
	case KindBytes:
		return enc.EncodeBytes(v.b)
	case KindTime:
		return enc.EncodeTime(v.t)
	case KindDuration:
		return enc.EncodeInt64(int64(v.d))
	default:
		return fmt.Errorf("wire: unknown value kind %d", v.Kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder, the inverse of
// EncodeMsgpack.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return errBadValueFrame
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	v.Kind = Kind(k)
	switch v.Kind {
	case KindNull, KindOK:
		return dec.DecodeNil()
	case KindError, KindString:
		v.s, err = dec.DecodeString()
		return err
	case KindBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return err
		}
		if b {
			v.i = 1
		} else {
			v.i = 0
		}
		return nil
	case KindI64:
		v.i, err = dec.DecodeInt64()
		return err
	case KindU64:
		v.u, err = dec.DecodeUint64()
		return err
	case KindF64:
		v.f, err = dec.DecodeFloat64()
		return err
	case KindBytes:
		v.b, err = dec.DecodeBytes()
		return err
	case KindTime:
		v.t, err = dec.DecodeTime()
		return err
	case KindDuration:
		d, err := dec.DecodeInt64()
		if err != nil {
			return err
		}
		v.d = time.Duration(d)
		return nil
	default:
		return fmt.Errorf("wire: unknown value kind %d", v.Kind)
	}
}
