package core

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// ConversionRule is a pure raw-value -> physical-value function. It is
// shared by reference between channels and never mutates its inputs.
// Concrete rules live in the conversion package.
type ConversionRule interface {
	// Convert maps a raw column to the physical domain.
	Convert(Samples) Samples
	// InverseValue maps a physical value back to the raw domain; false
	// when the rule has no usable inverse.
	InverseValue(float64) (float64, bool)
	// InverseText maps a display text back to the raw value that
	// produces it; false when the text is not in the rule's table.
	InverseText(string) (float64, bool)
}

// InterpolationMode selects how integer channels are re-interpolated.
type InterpolationMode uint8

const (
	// InterpRepeatPrevious holds the previous sample until the next one.
	InterpRepeatPrevious InterpolationMode = iota
	// InterpLinear interpolates linearly and truncates back to the
	// channel's integer type.
	InterpLinear
)

// InterpOptions carries the per-kind interpolation configuration.
type InterpOptions struct {
	Integer InterpolationMode
	Float   InterpolationMode
}

// DefaultInterpOptions matches the engine defaults: integers repeat the
// previous sample, floats interpolate linearly.
func DefaultInterpOptions() InterpOptions {
	return InterpOptions{Integer: InterpRepeatPrevious, Float: InterpLinear}
}

// Signal is the engine's in-memory result type: a named column plus its
// timestamps. Timestamps are float64 seconds relative to the
// measurement start and must be monotonic non-decreasing. Invalid holds
// the indexes of invalidated samples; nil means every sample is valid.
type Signal struct {
	Name       string
	Samples    Samples
	Timestamps []float64
	Invalid    *roaring.Bitmap
	Unit       string
	Comment    string
	Source     *Source
	Conversion ConversionRule
	// Raw reports that Conversion has not been applied to Samples.
	Raw bool
	// MasterMeta names the master channel the signal was aligned to.
	MasterMeta string
}

// Len returns the sample count.
func (s *Signal) Len() int { return len(s.Timestamps) }

// Validate checks the parallel-array contract.
func (s *Signal) Validate() error {
	if s.Samples.Len() != len(s.Timestamps) {
		return fmt.Errorf("signal %q: %d samples but %d timestamps", s.Name, s.Samples.Len(), len(s.Timestamps))
	}
	return nil
}

// Clone returns a deep copy of the signal.
func (s *Signal) Clone() *Signal {
	out := *s
	out.Samples = s.Samples.Clone()
	out.Timestamps = append([]float64(nil), s.Timestamps...)
	if s.Invalid != nil {
		out.Invalid = s.Invalid.Clone()
	}
	return &out
}

// Physical returns the signal with its conversion applied. A signal
// without a conversion, or one already converted, is returned as a
// shallow copy.
func (s *Signal) Physical() *Signal {
	out := *s
	if s.Conversion != nil && s.Raw {
		out.Samples = s.Conversion.Convert(s.Samples)
		out.Raw = false
	}
	return &out
}

// searchLeft returns the first index i with ts[i] >= t.
func searchLeft(ts []float64, t float64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] >= t })
}

// searchRight returns the first index i with ts[i] > t.
func searchRight(ts []float64, t float64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] > t })
}

// sliceInvalid remaps an invalidation set to the window [i, j).
func sliceInvalid(bm *roaring.Bitmap, i, j int) *roaring.Bitmap {
	if bm == nil {
		return nil
	}
	out := roaring.New()
	it := bm.Iterator()
	for it.HasNext() {
		v := int(it.Next())
		if v >= j {
			break
		}
		if v >= i {
			out.Add(uint32(v - i))
		}
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// Cut returns the signal restricted to start <= t <= stop. Nil bounds
// are open. When includeEnds is set and a bound falls strictly between
// two samples, a boundary sample is synthesized by interpolation.
func (s *Signal) Cut(start, stop *float64, includeEnds bool, opt InterpOptions) *Signal {
	n := len(s.Timestamps)
	if n == 0 {
		return s.Clone()
	}

	i0, i1 := 0, n
	if start != nil {
		i0 = searchLeft(s.Timestamps, *start)
	}
	if stop != nil {
		i1 = searchRight(s.Timestamps, *stop)
	}
	if i0 > i1 {
		i0 = i1
	}

	raster := make([]float64, 0, i1-i0+2)
	if includeEnds && start != nil && *start > s.Timestamps[0] && *start < s.Timestamps[n-1] &&
		(i0 >= n || s.Timestamps[i0] != *start) {
		raster = append(raster, *start)
	}
	raster = append(raster, s.Timestamps[i0:i1]...)
	if includeEnds && stop != nil && *stop > s.Timestamps[0] && *stop < s.Timestamps[n-1] &&
		(i1 == 0 || s.Timestamps[i1-1] != *stop) {
		raster = append(raster, *stop)
	}

	if len(raster) == i1-i0 {
		// no synthesized boundary samples, plain slice
		out := *s
		out.Samples = s.Samples.Slice(i0, i1)
		out.Timestamps = s.Timestamps[i0:i1]
		out.Invalid = sliceInvalid(s.Invalid, i0, i1)
		return &out
	}
	return s.Interp(raster, opt)
}

// Interp re-interpolates the signal onto the supplied raster. The
// raster becomes the output timestamps verbatim. An empty signal stays
// empty regardless of the raster.
func (s *Signal) Interp(raster []float64, opt InterpOptions) *Signal {
	out := *s
	if len(s.Timestamps) == 0 {
		out.Samples = s.Samples.Slice(0, 0)
		out.Timestamps = nil
		out.Invalid = nil
		return &out
	}

	// index of the source sample each raster point holds (repeat-previous)
	hold := make([]int, len(raster))
	for i, t := range raster {
		idx := searchRight(s.Timestamps, t) - 1
		if idx < 0 {
			idx = 0
		}
		hold[i] = idx
	}

	linear := false
	switch s.Samples.Kind {
	case KindFloat:
		linear = opt.Float == InterpLinear
	case KindUint, KindInt:
		linear = opt.Integer == InterpLinear
	}

	if linear {
		src, _ := s.Samples.Floats64()
		phys := make([]float64, len(raster))
		for i, t := range raster {
			phys[i] = interpAt(s.Timestamps, src, t)
		}
		switch s.Samples.Kind {
		case KindFloat:
			out.Samples = FloatSamples(phys)
		case KindUint:
			vals := make([]uint64, len(phys))
			for i, v := range phys {
				if v < 0 {
					v = 0
				}
				vals[i] = uint64(v)
			}
			out.Samples = UintSamples(vals, s.Samples.BitCount)
		case KindInt:
			vals := make([]int64, len(phys))
			for i, v := range phys {
				vals[i] = int64(v)
			}
			out.Samples = IntSamples(vals, s.Samples.BitCount)
		}
	} else {
		out.Samples = s.Samples.Gather(hold)
	}

	out.Timestamps = append([]float64(nil), raster...)
	if s.Invalid != nil {
		inv := roaring.New()
		for i, idx := range hold {
			if s.Invalid.Contains(uint32(idx)) {
				inv.Add(uint32(i))
			}
		}
		if !inv.IsEmpty() {
			out.Invalid = inv
		} else {
			out.Invalid = nil
		}
	}
	return &out
}

// interpAt evaluates the piecewise-linear function (ts, vals) at t,
// clamped to the endpoints.
func interpAt(ts, vals []float64, t float64) float64 {
	n := len(ts)
	if t <= ts[0] {
		return vals[0]
	}
	if t >= ts[n-1] {
		return vals[n-1]
	}
	j := searchLeft(ts, t)
	if ts[j] == t {
		return vals[j]
	}
	t0, t1 := ts[j-1], ts[j]
	v0, v1 := vals[j-1], vals[j]
	if t1 == t0 {
		return v0
	}
	return v0 + (v1-v0)*(t-t0)/(t1-t0)
}
