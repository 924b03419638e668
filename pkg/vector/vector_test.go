package vector

import (
	"math"
	"testing"
)

func TestBinaryRoundTrip(t *testing.T) {
	in := []float64{0, 1.5, -2.25, math.MaxFloat64, math.SmallestNonzeroFloat64}
	data := Encode(in)
	if len(data) != len(in)*8 {
		t.Fatalf("expected %d bytes, got %d", len(in)*8, len(data))
	}
	out, err := DecodeBinary(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestBinaryLayoutIsLittleEndian(t *testing.T) {
	data := Encode([]float64{1})
	// 1.0 is 0x3FF0000000000000.
	if data[7] != 0x3F || data[6] != 0xF0 || data[0] != 0 {
		t.Errorf("unexpected layout % x", data)
	}
}

func TestDecodeBinaryRejectsPartial(t *testing.T) {
	if _, err := DecodeBinary(make([]byte, 12)); err == nil {
		t.Error("expected error for truncated vector")
	}
}

func TestDecodeDetectsJSON(t *testing.T) {
	out, err := Decode([]byte(" [0.5, -1, 3e2]"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0] != 0.5 || out[2] != 300 {
		t.Errorf("unexpected vector %v", out)
	}

	bin, err := Decode(Encode([]float64{4, 5}))
	if err != nil {
		t.Fatal(err)
	}
	if len(bin) != 2 || bin[1] != 5 {
		t.Errorf("unexpected vector %v", bin)
	}
}

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON([]float64{1, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[1,0.25]" {
		t.Errorf("unexpected json %s", data)
	}
	empty, _ := EncodeJSON(nil)
	if string(empty) != "[]" {
		t.Errorf("expected [] for nil, got %s", empty)
	}
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float64{1, 0}, []float64{1, 0})
	if err != nil || math.Abs(s-1) > 1e-12 {
		t.Errorf("expected 1, got %v (%v)", s, err)
	}
	s, _ = Cosine([]float64{1, 0}, []float64{0, 1})
	if s != 0 {
		t.Errorf("expected 0, got %v", s)
	}
	if _, err := Cosine([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
