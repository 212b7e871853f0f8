package mdf

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/nexusmdf/core"
	"github.com/INLOpen/nexusmdf/record"
)

// Group is one channel group together with its record stream. Multi-
// group data streams are demultiplexed at load time so every Group owns
// a plain run of fixed-size records.
type Group struct {
	ChannelGroup *core.ChannelGroup
	Comment      string

	store *recordStore
	plan  *record.DecodePlan
	// sd holds the out-of-line payload blob of VLSD channels, keyed by
	// channel index. The fixed record then carries u64 offsets into it.
	sd map[int][]byte
}

func (g *Group) ensurePlan(logger *slog.Logger) error {
	if g.plan != nil {
		return nil
	}
	plan, err := record.Build(g.ChannelGroup, logger)
	if err != nil {
		return err
	}
	g.plan = plan
	return nil
}

// Cycles returns the record count of the group.
func (g *Group) Cycles() uint64 { return g.store.records }

// column decodes one channel across every fragment of the group.
func (g *Group) column(index int, logger *slog.Logger) (core.Samples, *roaring.Bitmap, error) {
	if err := g.ensurePlan(logger); err != nil {
		return core.Samples{}, nil, err
	}
	if index < 0 || index >= len(g.ChannelGroup.Channels) {
		return core.Samples{}, nil, fmt.Errorf("channel index %d out of range (group has %d)", index, len(g.ChannelGroup.Channels))
	}
	ch := g.ChannelGroup.Channels[index]

	if ch.Type == core.ChVirtualMaster {
		return g.virtualMasterColumn(), nil, nil
	}
	if blob, ok := g.sd[index]; ok {
		return g.vlsdColumn(index, blob)
	}

	var (
		out     core.Samples
		invalid *roaring.Bitmap
		first   = true
		base    uint32
	)
	it := g.store.iter()
	for it.Next() {
		data := it.Fragment()
		s, err := g.plan.DecodeChannel(data, index)
		if err != nil {
			return core.Samples{}, nil, err
		}
		if first {
			out = s
			first = false
		} else {
			out, err = out.AppendSamples(s)
			if err != nil {
				return core.Samples{}, nil, err
			}
		}
		if ch.InvalidationBit >= 0 {
			if bm := g.plan.Invalidation(data, ch.InvalidationBit); bm != nil {
				if invalid == nil {
					invalid = roaring.New()
				}
				bmIt := bm.Iterator()
				for bmIt.HasNext() {
					invalid.Add(base + bmIt.Next())
				}
			}
		}
		base += uint32(it.Records())
	}
	if err := it.Err(); err != nil {
		return core.Samples{}, nil, err
	}
	if first {
		out = emptyColumnFor(ch)
	}
	return out, invalid, nil
}

// virtualMasterColumn synthesizes the implicit 0..cycles-1 index of a
// virtual master channel.
func (g *Group) virtualMasterColumn() core.Samples {
	n := int(g.store.records)
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i)
	}
	return core.UintSamples(out, 64)
}

// vlsdColumn resolves a variable-length channel: the fixed record holds
// u64 offsets into the group's signal-data blob, each entry there being
// a u32 length followed by the bytes.
func (g *Group) vlsdColumn(index int, blob []byte) (core.Samples, *roaring.Bitmap, error) {
	ch := g.ChannelGroup.Channels[index]
	stride := g.ChannelGroup.RecordTotalSize()

	out := make([]string, 0, g.store.records)
	it := g.store.iter()
	for it.Next() {
		data := it.Fragment()
		for r := 0; r < it.Records(); r++ {
			off := binary.LittleEndian.Uint64(data[r*stride+ch.ByteOffset:])
			// off comes straight from the record bytes; off+4 can wrap
			if off > uint64(len(blob)) || uint64(len(blob))-off < 4 {
				return core.Samples{}, nil, &core.FormatError{Message: fmt.Sprintf(
					"channel %q: variable-length offset %d outside the %d byte signal data block",
					ch.Name, off, len(blob))}
			}
			n := binary.LittleEndian.Uint32(blob[off:])
			end := off + 4 + uint64(n)
			if end > uint64(len(blob)) {
				return core.Samples{}, nil, &core.FormatError{Message: fmt.Sprintf(
					"channel %q: variable-length entry at %d overruns the signal data block", ch.Name, off)}
			}
			out = append(out, string(trimNul(blob[off+4:end])))
		}
	}
	if err := it.Err(); err != nil {
		return core.Samples{}, nil, err
	}
	return core.StringSamples(out), nil, nil
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func emptyColumnFor(ch *core.Channel) core.Samples {
	switch ch.DataType {
	case core.DTUnsigned:
		return core.UintSamples(nil, ch.BitCount)
	case core.DTSigned:
		return core.IntSamples(nil, ch.BitCount)
	case core.DTFloat:
		return core.FloatSamples(nil)
	case core.DTString, core.DTVLSDString:
		return core.StringSamples(nil)
	default:
		return core.ByteSamples(nil)
	}
}

// master decodes the group's master channel as float64 seconds. Groups
// without a master yield the implicit record index.
func (g *Group) master(logger *slog.Logger) ([]float64, error) {
	idx := g.ChannelGroup.MasterIndex()
	if idx < 0 {
		n := int(g.store.records)
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(i)
		}
		return out, nil
	}
	s, _, err := g.column(idx, logger)
	if err != nil {
		return nil, err
	}
	ch := g.ChannelGroup.Channels[idx]
	// master channels store raw counts in some files; apply the
	// conversion so timestamps come out in seconds
	if ch.Conversion != nil {
		s = ch.Conversion.Convert(s)
	}
	ts, ok := s.Floats64()
	if !ok {
		return nil, &core.FormatError{Message: fmt.Sprintf(
			"master channel %q decodes to %s samples, expected numeric", ch.Name, s.Kind)}
	}
	return ts, nil
}

// masterName returns the name of the group's master channel, "" when
// the group has none.
func (g *Group) masterName() string {
	if idx := g.ChannelGroup.MasterIndex(); idx >= 0 {
		return g.ChannelGroup.Channels[idx].Name
	}
	return ""
}
