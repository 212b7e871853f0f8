package mdf

import (
	"fmt"

	"github.com/INLOpen/nexusmdf/core"
	"github.com/INLOpen/nexusmdf/record"
)

func (m *MDF) newRecordStore() *recordStore {
	threshold := int64(0)
	if budget := m.cfg.Engine.Spill.MemoryBudgetBytes; budget > 0 {
		threshold = budget / 16
	}
	return &recordStore{spill: m.spill, spillThreshold: threshold}
}

// Append creates a new channel group from the given signals. Every
// signal must share the timestamps of the first one; the master channel
// is synthesized from them. Appending no signals is an error; a group
// with zero cycles is fine.
func (m *MDF) Append(acqName string, signals []*core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(signals) == 0 {
		return fmt.Errorf("append: no signals")
	}
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return err
		}
		if len(sig.Timestamps) != len(signals[0].Timestamps) {
			return fmt.Errorf("append: signal %q has %d samples, signal %q has %d",
				sig.Name, len(sig.Timestamps), signals[0].Name, len(signals[0].Timestamps))
		}
	}

	cg, err := layoutGroup(acqName, signals)
	if err != nil {
		return err
	}
	g := &Group{ChannelGroup: cg, store: m.newRecordStore()}
	if err := g.ensurePlan(m.logger); err != nil {
		return err
	}
	if err := m.encodeInto(g, signals[0].Timestamps, signals); err != nil {
		return err
	}

	m.groups = append(m.groups, g)
	return m.reindex()
}

// appendMasterOnly creates a group that carries nothing but its master
// channel, so windowing a master-only group preserves the group count.
func (m *MDF) appendMasterOnly(acqName, masterName string, timestamps []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if masterName == "" {
		masterName = "time"
	}
	cg := &core.ChannelGroup{
		AcqName:    acqName,
		RecordSize: 8,
		Channels: []*core.Channel{{
			Name:            masterName,
			Unit:            "s",
			Type:            core.ChMaster,
			Sync:            core.SyncTime,
			DataType:        core.DTFloat,
			BitCount:        64,
			InvalidationBit: -1,
		}},
	}
	g := &Group{ChannelGroup: cg, store: m.newRecordStore()}
	if err := m.encodeInto(g, timestamps, nil); err != nil {
		return err
	}
	m.groups = append(m.groups, g)
	return m.reindex()
}

// Extend appends more cycles to an existing group. Signals align with
// the group's non-master channels in declaration order.
func (m *MDF) Extend(group int, timestamps []float64, signals []*core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if group < 0 || group >= len(m.groups) {
		return fmt.Errorf("group index %d out of range (file has %d)", group, len(m.groups))
	}
	g := m.groups[group]
	want := len(g.ChannelGroup.Channels)
	if g.ChannelGroup.MasterIndex() >= 0 {
		want--
	}
	if len(signals) != want {
		return &core.StructuralMismatchError{Message: fmt.Sprintf(
			"extend: group %d has %d value channels, got %d signals", group, want, len(signals))}
	}
	for _, sig := range signals {
		if sig.Samples.Len() != len(timestamps) {
			return fmt.Errorf("extend: signal %q has %d samples for %d timestamps",
				sig.Name, sig.Samples.Len(), len(timestamps))
		}
	}
	return m.encodeInto(g, timestamps, signals)
}

// encodeInto packs the signal columns into records and appends them to
// the group's store, splitting on the write fragment size.
func (m *MDF) encodeInto(g *Group, timestamps []float64, signals []*core.Signal) error {
	if len(timestamps) == 0 {
		return nil
	}
	if err := g.ensurePlan(m.logger); err != nil {
		return err
	}

	columns := make([]record.Column, 0, len(g.ChannelGroup.Channels))
	si := 0
	for _, ch := range g.ChannelGroup.Channels {
		switch ch.Type {
		case core.ChMaster:
			columns = append(columns, record.Column{Samples: core.FloatSamples(timestamps)})
			continue
		case core.ChVirtualMaster:
			// occupies no record bytes; the encoder only needs the row
			// count, the values are the implicit record index
			idx := make([]uint64, len(timestamps))
			for i := range idx {
				idx[i] = uint64(i)
			}
			columns = append(columns, record.Column{Samples: core.UintSamples(idx, ch.BitCount)})
			continue
		}
		sig := signals[si]
		si++
		col, err := coerceColumn(ch, sig.Samples)
		if err != nil {
			return err
		}
		columns = append(columns, record.Column{Samples: col, Invalid: sig.Invalid})
	}

	data, err := g.plan.Encode(columns)
	if err != nil {
		return err
	}

	stride := g.ChannelGroup.RecordTotalSize()
	fragRecords := len(timestamps)
	if max := m.cfg.Engine.Write.FragmentSizeBytes; max > 0 && stride > 0 {
		if perFrag := int(max) / stride; perFrag > 0 && perFrag < fragRecords {
			fragRecords = perFrag
		}
	}
	for start := 0; start < len(timestamps); start += fragRecords {
		end := start + fragRecords
		if end > len(timestamps) {
			end = len(timestamps)
		}
		chunk := data[start*stride : end*stride]
		if err := g.store.appendFragment(chunk, end-start); err != nil {
			return err
		}
	}
	g.ChannelGroup.Cycles = g.store.records
	return nil
}

// layoutGroup computes the record layout for a fresh group: master
// first, then one channel per signal, packed back to back.
func layoutGroup(acqName string, signals []*core.Signal) (*core.ChannelGroup, error) {
	cg := &core.ChannelGroup{AcqName: acqName}

	masterName := signals[0].MasterMeta
	if masterName == "" {
		masterName = "time"
	}
	cg.Channels = append(cg.Channels, &core.Channel{
		Name:            masterName,
		Unit:            "s",
		Type:            core.ChMaster,
		Sync:            core.SyncTime,
		DataType:        core.DTFloat,
		BitCount:        64,
		InvalidationBit: -1,
	})
	offset := 8
	invalBit := 0

	for _, sig := range signals {
		ch, width, err := layoutChannel(sig.Name, sig.Samples, offset)
		if err != nil {
			return nil, err
		}
		ch.Unit = sig.Unit
		ch.Comment = sig.Comment
		ch.Source = sig.Source
		if sig.Raw {
			ch.Conversion = sig.Conversion
		}
		if sig.Invalid != nil {
			ch.InvalidationBit = invalBit
			invalBit++
		}
		cg.Channels = append(cg.Channels, ch)
		offset += width
	}

	cg.RecordSize = offset
	cg.InvalidationBytes = (invalBit + 7) / 8
	return cg, nil
}

// layoutChannel maps one column to a channel definition at the given
// record offset, returning the byte width consumed.
func layoutChannel(name string, s core.Samples, offset int) (*core.Channel, int, error) {
	ch := &core.Channel{
		Name:            name,
		Type:            core.ChValue,
		ByteOffset:      offset,
		InvalidationBit: -1,
	}
	switch s.Kind {
	case core.KindUint:
		ch.DataType = core.DTUnsigned
		ch.BitCount = roundBits(s.BitCount)
	case core.KindInt:
		ch.DataType = core.DTSigned
		ch.BitCount = roundBits(s.BitCount)
	case core.KindFloat:
		ch.DataType = core.DTFloat
		ch.BitCount = 64
	case core.KindString:
		width := 1
		for _, v := range s.Strings {
			if len(v) > width {
				width = len(v)
			}
		}
		ch.DataType = core.DTString
		ch.BitCount = uint32(width) * 8
	case core.KindBytes:
		width := 1
		for _, v := range s.Bytes {
			if len(v) > width {
				width = len(v)
			}
		}
		ch.DataType = core.DTByteArray
		ch.BitCount = uint32(width) * 8
	case core.KindRecord:
		compOffset := offset
		for _, f := range s.Fields {
			comp, w, err := layoutChannel(name+"."+f.Name, f.Samples, compOffset)
			if err != nil {
				return nil, 0, err
			}
			ch.Components = append(ch.Components, comp)
			compOffset += w
		}
		ch.DataType = core.DTByteArray
		ch.BitCount = uint32(compOffset-offset) * 8
	default:
		return nil, 0, fmt.Errorf("channel %q: cannot lay out %s samples", name, s.Kind)
	}
	return ch, int(ch.BitCount+7) / 8, nil
}

// roundBits widens a stored bit count to a whole byte multiple so the
// appended layout stays byte aligned.
func roundBits(bits uint32) uint32 {
	if bits == 0 {
		return 64
	}
	return (bits + 7) / 8 * 8
}

// coerceColumn adapts a column to the channel it is stored under,
// truncating over-wide strings and byte arrays.
func coerceColumn(ch *core.Channel, s core.Samples) (core.Samples, error) {
	switch ch.DataType {
	case core.DTUnsigned:
		if s.Kind != core.KindUint {
			return s, fmt.Errorf("channel %q stores unsigned samples, got %s", ch.Name, s.Kind)
		}
	case core.DTSigned:
		if s.Kind != core.KindInt {
			return s, fmt.Errorf("channel %q stores signed samples, got %s", ch.Name, s.Kind)
		}
	case core.DTFloat:
		if s.Kind != core.KindFloat {
			return s, fmt.Errorf("channel %q stores float samples, got %s", ch.Name, s.Kind)
		}
	case core.DTString, core.DTVLSDString:
		if s.Kind != core.KindString {
			return s, fmt.Errorf("channel %q stores string samples, got %s", ch.Name, s.Kind)
		}
		width := int(ch.BitCount / 8)
		for i, v := range s.Strings {
			if len(v) > width {
				clipped := append([]string(nil), s.Strings...)
				for j := i; j < len(clipped); j++ {
					if len(clipped[j]) > width {
						clipped[j] = clipped[j][:width]
					}
				}
				return core.StringSamples(clipped), nil
			}
		}
	case core.DTByteArray:
		if s.Kind == core.KindRecord {
			return s, nil
		}
		if s.Kind != core.KindBytes {
			return s, fmt.Errorf("channel %q stores byte samples, got %s", ch.Name, s.Kind)
		}
	}
	return s, nil
}
