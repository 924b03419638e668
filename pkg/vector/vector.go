// Package vector encodes embedding vectors for storage and export.
//
// The binary form is a little-endian float64 array with no header. The text
// form is a JSON array of numbers.
package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/cockroachdb/errors"
)

// Encode returns the binary form of v.
func Encode(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// DecodeBinary is the inverse of Encode.
func DecodeBinary(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, errors.Newf("invalid vector length: %d bytes", len(data))
	}
	v := make([]float64, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v, nil
}

// EncodeJSON returns the JSON array form of v.
func EncodeJSON(v []float64) ([]byte, error) {
	if v == nil {
		v = []float64{}
	}
	return json.Marshal(v)
}

// DecodeJSON parses a JSON array of numbers.
func DecodeJSON(data []byte) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode vector json")
	}
	return v, nil
}

// Decode accepts either form. Data starting with '[' after leading space is
// treated as JSON.
func Decode(data []byte) ([]float64, error) {
	if t := bytes.TrimLeft(data, " \t\r\n"); len(t) > 0 && t[0] == '[' {
		return DecodeJSON(t)
	}
	return DecodeBinary(data)
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Newf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("empty vectors")
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
