package ledger

import (
	"encoding/json"
	"math"
	"testing"
)

func TestCanonicalEncoding(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), `null`},
		{"zero value", Value{}, `null`},
		{"true", Bool(true), `true`},
		{"int", Int(-42), `-42`},
		{"float", Float(0.1), `0.1`},
		{"large float", Float(1e21), `1e+21`},
		{"negative zero", Float(math.Copysign(0, -1)), `0`},
		{"nan", Float(math.NaN()), `null`},
		{"html not escaped", String("<a&b>"), `"<a&b>"`},
		{"escapes", String("line\n\"q\"\\"), `"line\n\"q\"\\"`},
		{"unicode", String("Syntheia ✓"), `"Syntheia ✓"`},
		{"invalid utf8", String("a\xffb"), "\"a�b\""},
		{"empty list", List(), `[]`},
		{"list", List(Int(1), String("x"), Null()), `[1,"x",null]`},
		{"empty map", Map(nil), `{}`},
		{"sorted keys", Map(map[string]Value{"b": Int(2), "a": Int(1), "B": Int(0)}), `{"B":0,"a":1,"b":2}`},
		{"nested", Map(map[string]Value{"k": List(Map(map[string]Value{"z": Bool(false), "y": Null()}))}), `{"k":[{"y":null,"z":false}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.v.Canonical()); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseValueNumbers(t *testing.T) {
	v, err := ParseValue([]byte(`{"i":12,"f":1.5,"big":12345678901234567890,"e":1e3}`))
	if err != nil {
		t.Fatal(err)
	}

	i, _ := v.Get("i")
	if n, ok := i.AsInt(); !ok || n != 12 {
		t.Errorf("expected int 12, got %v (%s)", i.Interface(), i.Kind())
	}
	f, _ := v.Get("f")
	if x, ok := f.AsFloat(); !ok || f.Kind() != KindFloat || x != 1.5 {
		t.Errorf("expected float 1.5, got %v (%s)", f.Interface(), f.Kind())
	}
	big, _ := v.Get("big")
	if big.Kind() != KindFloat {
		t.Errorf("expected out-of-range integer to become float, got %s", big.Kind())
	}
	e, _ := v.Get("e")
	if e.Kind() != KindFloat || string(e.Canonical()) != "1000" {
		t.Errorf("expected float 1000, got %s (%s)", e.Canonical(), e.Kind())
	}
}

func TestCanonicalReparseStable(t *testing.T) {
	inputs := []string{
		`{"a":[1,2.5,"three",null,true],"b":{"c":{}}}`,
		`"plain"`,
		`[0.000001,1e-7,123456789012]`,
		`{"nested":{"deep":{"deeper":[{"x":-1}]}}}`,
	}
	for _, in := range inputs {
		v, err := ParseValue([]byte(in))
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		first := v.Canonical()
		again, err := ParseValue(first)
		if err != nil {
			t.Fatalf("reparse %s: %v", first, err)
		}
		if string(again.Canonical()) != string(first) {
			t.Errorf("canonical form not stable: %s vs %s", first, again.Canonical())
		}
	}
}

func TestParseValueInvalid(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `nope`, `{"a":1} {"b":2}`, `1 2`, `{"a":1}x`} {
		if _, err := ParseValue([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(map[string]any{
		"n":     int64(5),
		"f":     float32(0.5),
		"names": []string{"a", "b"},
		"num":   json.Number("7"),
		"inner": Int(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"f":0.5,"inner":3,"n":5,"names":["a","b"],"num":7}`
	if got := string(v.Canonical()); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if _, err := ValueOf(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := ValueOf(math.Inf(1)); err == nil {
		t.Error("expected error for infinity")
	}
	if _, err := ValueOf([]any{1, make(chan int)}); err == nil {
		t.Error("expected error for nested unsupported type")
	}
}

func TestValueAccessors(t *testing.T) {
	v := MustValue(map[string]any{"list": []any{"x", 2}, "flag": true})

	if v.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", v.Len())
	}
	keys := v.Keys()
	if len(keys) != 2 || keys[0] != "flag" || keys[1] != "list" {
		t.Errorf("unexpected keys %v", keys)
	}
	list, ok := v.Get("list")
	if !ok || list.Kind() != KindList {
		t.Fatal("expected list")
	}
	if s, _ := list.Index(0).AsString(); s != "x" {
		t.Errorf("expected x, got %q", s)
	}
	if !list.Index(5).IsNull() {
		t.Error("out of range index should be null")
	}
	if _, ok := v.Get("missing"); ok {
		t.Error("missing key reported present")
	}
	if b, ok := Int(1).AsBool(); ok || b {
		t.Error("int reported as bool")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Content Value `json:"content"`
	}
	in := wrapper{Content: MustValue(map[string]any{"b": 1, "a": []any{true}})}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"content":{"a":[true],"b":1}}` {
		t.Errorf("unexpected json %s", data)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Content.Equal(in.Content) {
		t.Error("value changed over json round trip")
	}
}

func TestMapCopiesInput(t *testing.T) {
	src := map[string]Value{"a": Int(1)}
	v := Map(src)
	src["b"] = Int(2)
	if v.Len() != 1 {
		t.Error("Map must not alias the caller's map")
	}
}
