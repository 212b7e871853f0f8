// Package record turns the fixed-size raw records of a channel group
// into typed columns and back. A DecodePlan is computed once per group
// and applied to every data fragment.
package record

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/nexusmdf/core"
)

// FieldPlan is the extraction descriptor for one channel.
type FieldPlan struct {
	Name            string
	ByteOffset      int
	BitOffset       uint8 // 0..7
	BitCount        uint32
	DataType        core.ChannelDataType
	ByteOrder       core.ByteOrder
	InvalidationBit int
	Components      []FieldPlan
}

func (f *FieldPlan) byteWidth() int {
	return int((uint32(f.BitOffset) + f.BitCount + 7) / 8)
}

func (f *FieldPlan) aligned() bool {
	return f.BitOffset == 0 && f.BitCount%8 == 0
}

// DecodePlan maps raw records of one channel group to typed columns.
type DecodePlan struct {
	RecordSize        int // sample bytes per record
	InvalidationBytes int
	Fields            []FieldPlan
}

// RecordStride is the full record span including invalidation bytes.
func (p *DecodePlan) RecordStride() int {
	return p.RecordSize + p.InvalidationBytes
}

// Cycles returns how many whole records data holds.
func (p *DecodePlan) Cycles(data []byte) int {
	stride := p.RecordStride()
	if stride == 0 {
		return 0
	}
	return len(data) / stride
}

func planField(ch *core.Channel) FieldPlan {
	f := FieldPlan{
		Name:            ch.Name,
		ByteOffset:      ch.ByteOffset,
		BitOffset:       ch.BitOffset,
		BitCount:        ch.BitCount,
		DataType:        ch.DataType,
		ByteOrder:       ch.ByteOrder,
		InvalidationBit: ch.InvalidationBit,
	}
	for _, comp := range ch.Components {
		f.Components = append(f.Components, planField(comp))
	}
	return f
}

// Build computes the decode plan for a channel group. A channel that
// exceeds the record is a fatal format error; a record larger than the
// computed layout is tolerated as trailing padding with a warning.
func Build(cg *core.ChannelGroup, logger *slog.Logger) (*DecodePlan, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DecodePlan{
		RecordSize:        cg.RecordSize,
		InvalidationBytes: cg.InvalidationBytes,
	}

	var usedBits uint64
	for i, ch := range cg.Channels {
		if ch.Type != core.ChVirtualMaster && ch.DataType != core.DTVLSDString {
			end := ch.RecordBits()
			if end > uint64(cg.RecordSize)*8 {
				return nil, &core.FormatError{Message: fmt.Sprintf(
					"channel %q (index %d) needs %d record bits but the group has %d",
					ch.Name, i, end, cg.RecordSize*8)}
			}
			if end > usedBits {
				usedBits = end
			}
		}
		p.Fields = append(p.Fields, planField(ch))
	}

	if pad := uint64(cg.RecordSize)*8 - usedBits; pad >= 8 && len(cg.Channels) > 0 {
		logger.Debug("record layout leaves trailing padding",
			"padding_bits", pad, "record_bytes", cg.RecordSize)
	}
	return p, nil
}

// DecodeChannel extracts the column of the channel at index from a raw
// fragment. The fragment must hold whole records.
func (p *DecodePlan) DecodeChannel(data []byte, index int) (core.Samples, error) {
	if index < 0 || index >= len(p.Fields) {
		return core.Samples{}, fmt.Errorf("channel index %d out of range (plan has %d)", index, len(p.Fields))
	}
	return p.decodeField(data, &p.Fields[index])
}

func (p *DecodePlan) decodeField(data []byte, f *FieldPlan) (core.Samples, error) {
	cycles := p.Cycles(data)
	stride := p.RecordStride()

	if len(f.Components) > 0 {
		fields := make([]core.Field, len(f.Components))
		for i := range f.Components {
			sub, err := p.decodeField(data, &f.Components[i])
			if err != nil {
				return core.Samples{}, err
			}
			fields[i] = core.Field{Name: f.Components[i].Name, Samples: sub}
		}
		return core.RecordSamples(fields), nil
	}

	switch f.DataType {
	case core.DTUnsigned:
		out := make([]uint64, cycles)
		for r := 0; r < cycles; r++ {
			out[r] = f.extractUint(data[r*stride:])
		}
		return core.UintSamples(out, f.BitCount), nil

	case core.DTSigned:
		out := make([]int64, cycles)
		for r := 0; r < cycles; r++ {
			out[r] = signExtend(f.extractUint(data[r*stride:]), f.BitCount)
		}
		return core.IntSamples(out, f.BitCount), nil

	case core.DTFloat:
		out := make([]float64, cycles)
		switch f.BitCount {
		case 32:
			for r := 0; r < cycles; r++ {
				out[r] = float64(math.Float32frombits(uint32(f.extractUint(data[r*stride:]))))
			}
		case 64:
			for r := 0; r < cycles; r++ {
				out[r] = math.Float64frombits(f.extractUint(data[r*stride:]))
			}
		default:
			return core.Samples{}, &core.FormatError{Message: fmt.Sprintf(
				"channel %q: float channels must be 32 or 64 bit, got %d", f.Name, f.BitCount)}
		}
		return core.FloatSamples(out), nil

	case core.DTString, core.DTVLSDString:
		width := int(f.BitCount / 8)
		out := make([]string, cycles)
		for r := 0; r < cycles; r++ {
			raw := data[r*stride+f.ByteOffset : r*stride+f.ByteOffset+width]
			out[r] = trimText(raw)
		}
		return core.StringSamples(out), nil

	case core.DTByteArray, core.DTCANOpenDate, core.DTCANOpenTime:
		width := int(f.BitCount / 8)
		out := make([][]byte, cycles)
		for r := 0; r < cycles; r++ {
			raw := data[r*stride+f.ByteOffset : r*stride+f.ByteOffset+width]
			out[r] = append([]byte(nil), raw...)
		}
		return core.ByteSamples(out), nil
	}
	return core.Samples{}, &core.FormatError{Message: fmt.Sprintf(
		"channel %q: unhandled data type %d", f.Name, f.DataType)}
}

// extractUint reads the raw unsigned value of f from one record buffer.
// Values up to 64 bits are supported; wider fields use the byte-array
// path.
func (f *FieldPlan) extractUint(rec []byte) uint64 {
	width := f.byteWidth()
	chunk := rec[f.ByteOffset : f.ByteOffset+width]

	var v uint64
	if f.ByteOrder == core.BigEndian {
		for _, b := range chunk {
			v = v<<8 | uint64(b)
		}
		shift := uint(width*8) - uint(f.BitOffset) - uint(f.BitCount)
		v >>= shift
	} else {
		for i := width - 1; i >= 0; i-- {
			v = v<<8 | uint64(chunk[i])
		}
		v >>= f.BitOffset
	}
	if f.BitCount < 64 {
		v &= (1 << f.BitCount) - 1
	}
	return v
}

func signExtend(v uint64, bits uint32) int64 {
	if bits == 0 || bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func trimText(raw []byte) string {
	end := len(raw)
	for i, b := range raw {
		if b == 0 {
			end = i
			break
		}
	}
	// space padded strings appear in v3 files
	for end > 0 && raw[end-1] == ' ' {
		end--
	}
	return string(raw[:end])
}

// Invalidation extracts the invalidation set of one channel from a raw
// fragment: bit positions are relative to the record's invalidation
// bytes. Returns nil when every sample is valid.
func (p *DecodePlan) Invalidation(data []byte, invalidationBit int) *roaring.Bitmap {
	if invalidationBit < 0 || p.InvalidationBytes == 0 {
		return nil
	}
	stride := p.RecordStride()
	cycles := p.Cycles(data)
	byteIdx := p.RecordSize + invalidationBit/8
	mask := byte(1 << (invalidationBit % 8))

	out := roaring.New()
	for r := 0; r < cycles; r++ {
		if data[r*stride+byteIdx]&mask != 0 {
			out.Add(uint32(r))
		}
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// Column pairs the samples of one channel with its invalidation set for
// encoding.
type Column struct {
	Samples core.Samples
	Invalid *roaring.Bitmap
}

// Encode packs columns (index-aligned with the plan's fields) back into
// raw records, invalidation bytes included.
func (p *DecodePlan) Encode(columns []Column) ([]byte, error) {
	if len(columns) != len(p.Fields) {
		return nil, fmt.Errorf("encode: %d columns for %d fields", len(columns), len(p.Fields))
	}
	cycles := 0
	if len(columns) > 0 {
		cycles = columns[0].Samples.Len()
	}
	for i := range columns {
		if columns[i].Samples.Len() != cycles {
			return nil, fmt.Errorf("encode: column %d has %d rows, want %d", i, columns[i].Samples.Len(), cycles)
		}
	}

	stride := p.RecordStride()
	buf := make([]byte, cycles*stride)
	for i := range p.Fields {
		if err := p.encodeField(buf, &p.Fields[i], columns[i].Samples); err != nil {
			return nil, err
		}
		if bit := p.Fields[i].InvalidationBit; bit >= 0 && columns[i].Invalid != nil {
			byteIdx := p.RecordSize + bit/8
			mask := byte(1 << (bit % 8))
			it := columns[i].Invalid.Iterator()
			for it.HasNext() {
				r := int(it.Next())
				if r < cycles {
					buf[r*stride+byteIdx] |= mask
				}
			}
		}
	}
	return buf, nil
}

func (p *DecodePlan) encodeField(buf []byte, f *FieldPlan, s core.Samples) error {
	stride := p.RecordStride()
	cycles := s.Len()

	if len(f.Components) > 0 {
		if s.Kind != core.KindRecord || len(s.Fields) != len(f.Components) {
			return fmt.Errorf("encode: channel %q expects %d component columns", f.Name, len(f.Components))
		}
		for i := range f.Components {
			if err := p.encodeField(buf, &f.Components[i], s.Fields[i].Samples); err != nil {
				return err
			}
		}
		return nil
	}

	switch f.DataType {
	case core.DTUnsigned:
		if s.Kind != core.KindUint {
			return fmt.Errorf("encode: channel %q wants uint samples, got %s", f.Name, s.Kind)
		}
		for r := 0; r < cycles; r++ {
			f.injectUint(buf[r*stride:], s.Uints[r])
		}

	case core.DTSigned:
		if s.Kind != core.KindInt {
			return fmt.Errorf("encode: channel %q wants int samples, got %s", f.Name, s.Kind)
		}
		for r := 0; r < cycles; r++ {
			f.injectUint(buf[r*stride:], uint64(s.Ints[r]))
		}

	case core.DTFloat:
		if s.Kind != core.KindFloat {
			return fmt.Errorf("encode: channel %q wants float samples, got %s", f.Name, s.Kind)
		}
		switch f.BitCount {
		case 32:
			for r := 0; r < cycles; r++ {
				f.injectUint(buf[r*stride:], uint64(math.Float32bits(float32(s.Floats[r]))))
			}
		case 64:
			for r := 0; r < cycles; r++ {
				f.injectUint(buf[r*stride:], math.Float64bits(s.Floats[r]))
			}
		default:
			return fmt.Errorf("encode: channel %q: unsupported float width %d", f.Name, f.BitCount)
		}

	case core.DTString, core.DTVLSDString:
		if s.Kind != core.KindString {
			return fmt.Errorf("encode: channel %q wants string samples, got %s", f.Name, s.Kind)
		}
		width := int(f.BitCount / 8)
		for r := 0; r < cycles; r++ {
			dst := buf[r*stride+f.ByteOffset : r*stride+f.ByteOffset+width]
			copy(dst, s.Strings[r])
		}

	case core.DTByteArray, core.DTCANOpenDate, core.DTCANOpenTime:
		if s.Kind != core.KindBytes {
			return fmt.Errorf("encode: channel %q wants byte samples, got %s", f.Name, s.Kind)
		}
		width := int(f.BitCount / 8)
		for r := 0; r < cycles; r++ {
			dst := buf[r*stride+f.ByteOffset : r*stride+f.ByteOffset+width]
			copy(dst, s.Bytes[r])
		}

	default:
		return fmt.Errorf("encode: channel %q: unhandled data type %d", f.Name, f.DataType)
	}
	return nil
}

// injectUint writes the low BitCount bits of v into one record buffer.
func (f *FieldPlan) injectUint(rec []byte, v uint64) {
	width := f.byteWidth()
	chunk := rec[f.ByteOffset : f.ByteOffset+width]

	if f.BitCount < 64 {
		v &= (1 << f.BitCount) - 1
	}

	if f.aligned() && (width == 1 || width == 2 || width == 4 || width == 8) {
		// fast path for byte aligned power-of-two widths
		switch {
		case f.ByteOrder == core.BigEndian && width == 2:
			binary.BigEndian.PutUint16(chunk, uint16(v))
			return
		case f.ByteOrder == core.BigEndian && width == 4:
			binary.BigEndian.PutUint32(chunk, uint32(v))
			return
		case f.ByteOrder == core.BigEndian && width == 8:
			binary.BigEndian.PutUint64(chunk, v)
			return
		case width == 1:
			chunk[0] = byte(v)
			return
		case f.ByteOrder == core.LittleEndian && width == 2:
			binary.LittleEndian.PutUint16(chunk, uint16(v))
			return
		case f.ByteOrder == core.LittleEndian && width == 4:
			binary.LittleEndian.PutUint32(chunk, uint32(v))
			return
		case f.ByteOrder == core.LittleEndian && width == 8:
			binary.LittleEndian.PutUint64(chunk, v)
			return
		}
	}

	var mask uint64 = (1<<f.BitCount - 1)
	if f.BitCount == 64 {
		mask = ^uint64(0)
	}
	if f.ByteOrder == core.BigEndian {
		shift := uint(width*8) - uint(f.BitOffset) - uint(f.BitCount)
		var cur uint64
		for _, b := range chunk {
			cur = cur<<8 | uint64(b)
		}
		cur = cur&^(mask<<shift) | v<<shift
		for i := width - 1; i >= 0; i-- {
			chunk[i] = byte(cur)
			cur >>= 8
		}
	} else {
		var cur uint64
		for i := width - 1; i >= 0; i-- {
			cur = cur<<8 | uint64(chunk[i])
		}
		cur = cur&^(mask<<f.BitOffset) | v<<f.BitOffset
		for i := 0; i < width; i++ {
			chunk[i] = byte(cur)
			cur >>= 8
		}
	}
}
