package core

import (
	"fmt"
	"strconv"
)

// SampleKind is the in-memory representation of a decoded column.
type SampleKind uint8

const (
	KindUint SampleKind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	// KindRecord is a composite column assembled from component
	// channels; Fields holds the named sub-columns.
	KindRecord
)

func (k SampleKind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Field is one named sub-column of a composite column.
type Field struct {
	Name    string
	Samples Samples
}

// Samples is a typed column of decoded values. Exactly one of the value
// slices is populated, selected by Kind. BitCount remembers the source
// bit width so the value can be re-encoded without widening.
type Samples struct {
	Kind     SampleKind
	BitCount uint32

	Uints   []uint64
	Ints    []int64
	Floats  []float64
	Strings []string
	Bytes   [][]byte
	Fields  []Field
}

func UintSamples(v []uint64, bitCount uint32) Samples {
	return Samples{Kind: KindUint, BitCount: bitCount, Uints: v}
}

func IntSamples(v []int64, bitCount uint32) Samples {
	return Samples{Kind: KindInt, BitCount: bitCount, Ints: v}
}

func FloatSamples(v []float64) Samples {
	return Samples{Kind: KindFloat, BitCount: 64, Floats: v}
}

func StringSamples(v []string) Samples {
	return Samples{Kind: KindString, Strings: v}
}

func ByteSamples(v [][]byte) Samples {
	return Samples{Kind: KindBytes, Bytes: v}
}

func RecordSamples(fields []Field) Samples {
	return Samples{Kind: KindRecord, Fields: fields}
}

// Len returns the number of rows in the column.
func (s Samples) Len() int {
	switch s.Kind {
	case KindUint:
		return len(s.Uints)
	case KindInt:
		return len(s.Ints)
	case KindFloat:
		return len(s.Floats)
	case KindString:
		return len(s.Strings)
	case KindBytes:
		return len(s.Bytes)
	case KindRecord:
		if len(s.Fields) == 0 {
			return 0
		}
		return s.Fields[0].Samples.Len()
	}
	return 0
}

// Slice returns the rows in [i, j). The numeric slices share the backing
// array with the receiver; callers that outlive the source must Clone.
func (s Samples) Slice(i, j int) Samples {
	out := s
	switch s.Kind {
	case KindUint:
		out.Uints = s.Uints[i:j]
	case KindInt:
		out.Ints = s.Ints[i:j]
	case KindFloat:
		out.Floats = s.Floats[i:j]
	case KindString:
		out.Strings = s.Strings[i:j]
	case KindBytes:
		out.Bytes = s.Bytes[i:j]
	case KindRecord:
		out.Fields = make([]Field, len(s.Fields))
		for k, f := range s.Fields {
			out.Fields[k] = Field{Name: f.Name, Samples: f.Samples.Slice(i, j)}
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Samples) Clone() Samples {
	out := s
	switch s.Kind {
	case KindUint:
		out.Uints = append([]uint64(nil), s.Uints...)
	case KindInt:
		out.Ints = append([]int64(nil), s.Ints...)
	case KindFloat:
		out.Floats = append([]float64(nil), s.Floats...)
	case KindString:
		out.Strings = append([]string(nil), s.Strings...)
	case KindBytes:
		out.Bytes = make([][]byte, len(s.Bytes))
		for i, b := range s.Bytes {
			out.Bytes[i] = append([]byte(nil), b...)
		}
	case KindRecord:
		out.Fields = make([]Field, len(s.Fields))
		for i, f := range s.Fields {
			out.Fields[i] = Field{Name: f.Name, Samples: f.Samples.Clone()}
		}
	}
	return out
}

// AppendSamples concatenates other onto s. The kinds must match.
func (s Samples) AppendSamples(other Samples) (Samples, error) {
	if s.Kind != other.Kind {
		return s, fmt.Errorf("cannot append %s samples to %s samples", other.Kind, s.Kind)
	}
	out := s
	switch s.Kind {
	case KindUint:
		out.Uints = append(s.Uints, other.Uints...)
	case KindInt:
		out.Ints = append(s.Ints, other.Ints...)
	case KindFloat:
		out.Floats = append(s.Floats, other.Floats...)
	case KindString:
		out.Strings = append(s.Strings, other.Strings...)
	case KindBytes:
		out.Bytes = append(s.Bytes, other.Bytes...)
	case KindRecord:
		if len(s.Fields) != len(other.Fields) {
			return s, fmt.Errorf("cannot append record samples: %d fields vs %d", len(other.Fields), len(s.Fields))
		}
		out.Fields = make([]Field, len(s.Fields))
		for i := range s.Fields {
			merged, err := s.Fields[i].Samples.AppendSamples(other.Fields[i].Samples)
			if err != nil {
				return s, err
			}
			out.Fields[i] = Field{Name: s.Fields[i].Name, Samples: merged}
		}
	}
	return out, nil
}

// Gather returns the rows addressed by idx, in idx order.
func (s Samples) Gather(idx []int) Samples {
	out := Samples{Kind: s.Kind, BitCount: s.BitCount}
	switch s.Kind {
	case KindUint:
		out.Uints = make([]uint64, len(idx))
		for i, j := range idx {
			out.Uints[i] = s.Uints[j]
		}
	case KindInt:
		out.Ints = make([]int64, len(idx))
		for i, j := range idx {
			out.Ints[i] = s.Ints[j]
		}
	case KindFloat:
		out.Floats = make([]float64, len(idx))
		for i, j := range idx {
			out.Floats[i] = s.Floats[j]
		}
	case KindString:
		out.Strings = make([]string, len(idx))
		for i, j := range idx {
			out.Strings[i] = s.Strings[j]
		}
	case KindBytes:
		out.Bytes = make([][]byte, len(idx))
		for i, j := range idx {
			out.Bytes[i] = s.Bytes[j]
		}
	case KindRecord:
		out.Fields = make([]Field, len(s.Fields))
		for i, f := range s.Fields {
			out.Fields[i] = Field{Name: f.Name, Samples: f.Samples.Gather(idx)}
		}
	}
	return out
}

// IsNumeric reports whether the column holds numeric values.
func (s Samples) IsNumeric() bool {
	return s.Kind == KindUint || s.Kind == KindInt || s.Kind == KindFloat
}

// Floats64 converts a numeric column to float64 values. The bool result
// is false for non-numeric columns.
func (s Samples) Floats64() ([]float64, bool) {
	switch s.Kind {
	case KindFloat:
		return s.Floats, true
	case KindUint:
		out := make([]float64, len(s.Uints))
		for i, v := range s.Uints {
			out[i] = float64(v)
		}
		return out, true
	case KindInt:
		out := make([]float64, len(s.Ints))
		for i, v := range s.Ints {
			out[i] = float64(v)
		}
		return out, true
	}
	return nil, false
}

// Float64At returns row i as a float64; false for non-numeric columns.
func (s Samples) Float64At(i int) (float64, bool) {
	switch s.Kind {
	case KindFloat:
		return s.Floats[i], true
	case KindUint:
		return float64(s.Uints[i]), true
	case KindInt:
		return float64(s.Ints[i]), true
	}
	return 0, false
}

// Text renders row i for display and text-table lookups.
func (s Samples) Text(i int) string {
	switch s.Kind {
	case KindUint:
		return strconv.FormatUint(s.Uints[i], 10)
	case KindInt:
		return strconv.FormatInt(s.Ints[i], 10)
	case KindFloat:
		return strconv.FormatFloat(s.Floats[i], 'g', -1, 64)
	case KindString:
		return s.Strings[i]
	case KindBytes:
		return fmt.Sprintf("%X", s.Bytes[i])
	case KindRecord:
		return fmt.Sprintf("<record %d fields>", len(s.Fields))
	}
	return ""
}
