package document

import (
	"fmt"
	"math"
	"time"
)

// Kind tags the dynamic type held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindTimestamp
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	case KindDocument:
		return "document"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union of the types a Document can hold.
// The zero Value is Absent.
type Value struct {
	kind  Kind
	str   string
	num   float64
	isInt bool
	ts    time.Time
	doc   *Document
}

// Absent is the value whose assignment removes a key.
var Absent = Value{}

// String wraps s.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer number.
func Int(n int64) Value { return Value{kind: KindNumber, num: float64(n), isInt: true} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{kind: KindNumber, num: f} }

// Timestamp wraps t.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t} }

// Nested wraps a sub-document. A nil document is Absent.
func Nested(d *Document) Value {
	if d == nil {
		return Absent
	}
	return Value{kind: KindDocument, doc: d}
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v carries no value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Float returns the numeric payload as float64.
func (v Value) Float() float64 { return v.num }

// IsInt reports whether the number was stored as an integer.
func (v Value) IsInt() bool { return v.kind == KindNumber && v.isInt }

// Int returns the numeric payload truncated to int64.
func (v Value) Int() int64 {
	if v.num > math.MaxInt64 || v.num < math.MinInt64 {
		return 0
	}
	return int64(v.num)
}

// Time returns the timestamp payload.
func (v Value) Time() time.Time { return v.ts }

// Doc returns the nested document payload.
func (v Value) Doc() *Document { return v.doc }

// Interface returns the payload as a plain Go value: string, int64,
// float64, time.Time, *Document, or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.isInt {
			return v.Int()
		}
		return v.num
	case KindTimestamp:
		return v.ts
	case KindDocument:
		return v.doc
	default:
		return nil
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num && v.isInt == o.isInt
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	case KindDocument:
		return v.doc.Equal(o.doc)
	}
	return false
}
