package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	B string            `cbor:"b"`
	A uint64            `cbor:"a"`
	M map[string]string `cbor:"m,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	v := sample{A: 7, B: "x", M: map[string]string{"z": "1", "a": "2", "m": "3"}}
	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic")
		}
	}
	var back sample
	if err := Unmarshal(first, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.A != 7 || back.B != "x" || back.M["a"] != "2" {
		t.Fatalf("unexpected decode: %+v", back)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"k": map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("top level decoded as %T", out)
	}
	if _, ok := m["k"].(map[string]any); !ok {
		t.Fatalf("nested map decoded as %T", m["k"])
	}
}

func TestUnmarshalLargeByteString(t *testing.T) {
	in := struct {
		Data []byte `cbor:"data"`
	}{Data: bytes.Repeat([]byte{1}, 8<<20)}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out struct {
		Data []byte `cbor:"data"`
	}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(in.Data, out.Data) {
		t.Fatalf("decoded %d bytes, want %d", len(out.Data), len(in.Data))
	}
}
