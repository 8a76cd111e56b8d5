package args

import (
	"encoding/json"
	"testing"
)

func TestInt(t *testing.T) {
	m := Map{"a": 3, "b": 4.9, "c": json.Number("7"), "d": "8", "e": int64(9)}
	tests := []struct {
		key  string
		want int
	}{
		{"a", 3}, {"b", 4}, {"c", 7}, {"d", -1}, {"e", 9}, {"missing", -1},
	}
	for _, tt := range tests {
		if got := Int(m, tt.key, -1); got != tt.want {
			t.Errorf("Int(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestFloat32(t *testing.T) {
	m := Map{"a": 1.5, "b": 2, "c": "x"}
	if got := Float32(m, "a", 0); got != 1.5 {
		t.Errorf("a = %g", got)
	}
	if got := Float32(m, "b", 0); got != 2 {
		t.Errorf("b = %g", got)
	}
	if got := Float32(m, "c", 9); got != 9 {
		t.Errorf("c = %g, want default", got)
	}
}

func TestString(t *testing.T) {
	m := Map{"pin": "1234", "blank": "   ", "num": 5}
	if String(m, "pin") != "1234" {
		t.Error("pin")
	}
	if String(m, "blank") != "" || String(m, "num") != "" || String(m, "missing") != "" {
		t.Error("blank, non-string and missing values should be empty")
	}
}

func TestBytes(t *testing.T) {
	m := Map{"raw": []byte{1, 2}, "b64": "AQID", "bad": "!!!", "num": 1}
	if b, ok := Bytes(m, "raw"); !ok || len(b) != 2 {
		t.Errorf("raw = %v %v", b, ok)
	}
	if b, ok := Bytes(m, "b64"); !ok || len(b) != 3 {
		t.Errorf("b64 = %v %v", b, ok)
	}
	if _, ok := Bytes(m, "bad"); ok {
		t.Error("invalid base64 should not decode")
	}
	if _, ok := Bytes(m, "num"); ok {
		t.Error("numbers are not bytes")
	}
}

func TestStrings(t *testing.T) {
	m := Map{"list": []any{"a", 1, "b"}, "typed": []string{"x"}}
	if got := Strings(m, "list"); len(got) != 2 || got[1] != "b" {
		t.Errorf("list = %v", got)
	}
	if got := Strings(m, "typed"); len(got) != 1 {
		t.Errorf("typed = %v", got)
	}
	if Strings(m, "missing") != nil {
		t.Error("missing should be nil")
	}
}

func TestSub(t *testing.T) {
	m := Map{"appearance": map[string]any{"pageIndex": 0}, "other": 1}
	if _, ok := Sub(m, "appearance"); !ok {
		t.Error("expected nested map")
	}
	if _, ok := Sub(m, "other"); ok {
		t.Error("number is not a map")
	}
}
