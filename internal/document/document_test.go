package document

import (
	"reflect"
	"testing"
	"time"
)

func TestDocumentSet_CaseInsensitiveOverwrite(t *testing.T) {
	t.Parallel()

	d := New()
	d.SetString("Level", "Info")
	d.SetString("Message", "hello")
	d.SetString("LEVEL", "Error")

	if got := d.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	v, ok := d.Get("level")
	if !ok || v.Str() != "Error" {
		t.Fatalf("Get(level) = %q, %v; want Error, true", v.Str(), ok)
	}
	if got, want := d.Keys(), []string{"Level", "Message"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys = %v, want %v (first casing and position kept)", got, want)
	}
}

func TestDocumentSet_AbsentRemovesKey(t *testing.T) {
	t.Parallel()

	d := New()
	d.SetString("a", "1")
	d.SetString("b", "2")
	d.SetString("c", "3")
	d.Set("B", Absent)

	if d.Has("b") {
		t.Fatal("b should be removed after assigning Absent")
	}
	if got, want := d.Keys(), []string{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	// index must follow the shifted positions
	d.SetString("C", "33")
	if v, _ := d.Get("c"); v.Str() != "33" {
		t.Fatalf("c = %q after reindex, want 33", v.Str())
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}
}

func TestDocumentSet_AbsentOnMissingKeyIsNoop(t *testing.T) {
	t.Parallel()

	d := New()
	d.Set("missing", Absent)
	if d.Len() != 0 {
		t.Fatalf("Len = %d, want 0", d.Len())
	}
}

func TestDocumentZeroValueUsable(t *testing.T) {
	t.Parallel()

	var d Document
	d.SetString("k", "v")
	if !d.Has("K") {
		t.Fatal("zero Document should accept writes")
	}
}

func TestNestedNilIsAbsent(t *testing.T) {
	t.Parallel()

	if !Nested(nil).IsAbsent() {
		t.Fatal("Nested(nil) should be Absent")
	}
}

func TestDocumentMarshalJSON_PreservesOrder(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)
	inner := New()
	inner.SetString("z", "last")
	inner.Set("code", Int(7))

	d := New()
	d.Set("Date", Timestamp(ts))
	d.SetString("Message", "started")
	d.Set("Ratio", Float(0.5))
	d.Set("Inner", Nested(inner))

	got, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"Date":"2024-01-15T10:30:45Z","Message":"started","Ratio":0.5,"Inner":{"z":"last","code":7}}`
	if string(got) != want {
		t.Fatalf("MarshalJSON =\n%s\nwant\n%s", got, want)
	}
}

func TestDocumentMap(t *testing.T) {
	t.Parallel()

	inner := New()
	inner.SetString("a_b", "1")
	d := New()
	d.Set("Code", Int(3))
	d.Set("Properties", Nested(inner))

	want := map[string]any{
		"Code":       int64(3),
		"Properties": map[string]any{"a_b": "1"},
	}
	if got := d.Map(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Map = %#v, want %#v", got, want)
	}
}

func TestValueEqual(t *testing.T) {
	t.Parallel()

	ts := time.Now()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"strings", String("x"), String("x"), true},
		{"int vs float", Int(1), Float(1), false},
		{"timestamps", Timestamp(ts), Timestamp(ts.UTC()), true},
		{"absent", Absent, Value{}, true},
		{"kinds differ", String("1"), Int(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Fatalf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}
