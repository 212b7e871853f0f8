package mdf

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/nexusmdf/busdb"
	"github.com/INLOpen/nexusmdf/core"
)

// BusDatabase pairs a message catalog with an optional signal filter.
type BusDatabase struct {
	Catalog busdb.Catalog
	Filter  *busdb.Filter
}

// BusReport tallies the outcome of one bus extraction per bus type.
type BusReport struct {
	// Found maps each matched identifier to the message it decoded as.
	Found map[uint32]string
	// Unknown lists observed identifiers with no catalog entry, sorted.
	Unknown []uint32
	// NotFound lists catalog messages never observed, sorted.
	NotFound []string
}

// BusSummary is the per-bus report of the last extraction.
type BusSummary struct {
	Buses map[core.BusType]*BusReport
}

// ExtractBusLogging decodes raw bus-frame groups into one output group
// per distinct catalog message. Unmatched identifiers are tallied in
// the summary, never fatal. Frames of the same message found in several
// source groups merge into one growing output group.
func (m *MDF) ExtractBusLogging(ctx context.Context, databases map[core.BusType]BusDatabase) (*MDF, *BusSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.ExtractBusLogging")
	defer span.End()
	_ = ctx

	out, err := m.child(m.version)
	if err != nil {
		return nil, nil, err
	}
	out.header = m.header

	summary := &BusSummary{Buses: make(map[core.BusType]*BusReport)}
	reportFor := func(bus core.BusType) *BusReport {
		r := summary.Buses[bus]
		if r == nil {
			r = &BusReport{Found: make(map[uint32]string)}
			summary.Buses[bus] = r
		}
		return r
	}
	unknownSets := make(map[core.BusType]map[uint32]struct{})

	// message name -> output group index, shared across source groups
	msgGroup := make(map[string]int)

	for gi, g := range m.groups {
		if m.aborted() {
			out.Close()
			return nil, nil, core.ErrAborted
		}
		if g.ChannelGroup.Flags&core.FlagCGBusEvent == 0 {
			continue
		}
		bus := busOf(g)
		db, ok := databases[bus]
		if !ok {
			continue
		}
		report := reportFor(bus)
		if unknownSets[bus] == nil {
			unknownSets[bus] = make(map[uint32]struct{})
		}

		frames, err := m.decodeFrames(gi)
		if err != nil {
			out.Close()
			return nil, nil, err
		}

		// bucket frame rows per matched message
		matched := make(map[string][]int)
		var msgOrder []string
		for row, id := range frames.ids {
			msg, ok := db.Catalog.Lookup(id)
			if !ok {
				unknownSets[bus][id] = struct{}{}
				continue
			}
			report.Found[msg.Key()] = msg.Name
			if _, ok := matched[msg.Name]; !ok {
				msgOrder = append(msgOrder, msg.Name)
			}
			matched[msg.Name] = append(matched[msg.Name], row)
		}

		for _, name := range msgOrder {
			rows := matched[name]
			msg := messageByName(db.Catalog, name)
			ts, sigs := decodeMessageRows(msg, db.Filter, frames, rows)
			if len(sigs) == 0 {
				continue
			}
			if target, ok := msgGroup[name]; ok {
				if err := out.Extend(target, ts, sigs); err != nil {
					out.Close()
					return nil, nil, err
				}
			} else {
				if err := out.Append(name, sigs); err != nil {
					out.Close()
					return nil, nil, err
				}
				idx := len(out.groups) - 1
				out.groups[idx].ChannelGroup.Comment = msg.Comment
				msgGroup[name] = idx
			}
		}
		m.reportProgress(gi+1, len(m.groups))
	}

	// fill the unknown and not-found tallies
	for bus, set := range unknownSets {
		report := summary.Buses[bus]
		for id := range set {
			report.Unknown = append(report.Unknown, id)
		}
		sort.Slice(report.Unknown, func(i, j int) bool { return report.Unknown[i] < report.Unknown[j] })
	}
	for bus, db := range databases {
		report := summary.Buses[bus]
		if report == nil {
			report = reportFor(bus)
		}
		for _, msg := range db.Catalog.Messages() {
			if _, ok := report.Found[msg.Key()]; !ok {
				report.NotFound = append(report.NotFound, msg.Name)
			}
		}
		sort.Strings(report.NotFound)
	}
	return out, summary, nil
}

func busOf(g *Group) core.BusType {
	if g.ChannelGroup.Source != nil {
		return g.ChannelGroup.Source.Bus
	}
	return core.BusTypeNone
}

func messageByName(cat busdb.Catalog, name string) *busdb.Message {
	for _, msg := range cat.Messages() {
		if msg.Name == name {
			return msg
		}
	}
	return nil
}

// busFrames is a decoded frame group: one arbitration id, one payload
// and one timestamp per record.
type busFrames struct {
	ts       []float64
	ids      []uint32
	payloads [][]byte
}

// decodeFrames locates the frame identifier and payload channels of a
// bus-event group and decodes them. Composite frame channels expose
// their components under "<frame>.ID" and "<frame>.DataBytes" names.
func (m *MDF) decodeFrames(gi int) (*busFrames, error) {
	g := m.groups[gi]
	ts, err := g.master(m.logger)
	if err != nil {
		return nil, err
	}

	idIdx, dataIdx := -1, -1
	var idComp, dataComp string
	for ci, ch := range g.ChannelGroup.Channels {
		names := []struct {
			name string
			comp string
		}{{ch.Name, ""}}
		for _, c := range flattenComponents(ch) {
			names = append(names, struct {
				name string
				comp string
			}{c.Name, c.Name})
		}
		for _, n := range names {
			switch {
			case strings.HasSuffix(n.name, ".ID"):
				idIdx, idComp = ci, n.comp
			case strings.HasSuffix(n.name, ".DataBytes"):
				dataIdx, dataComp = ci, n.comp
			}
		}
	}
	if idIdx < 0 || dataIdx < 0 {
		return nil, &core.FormatError{Message: fmt.Sprintf(
			"group %d is flagged as a bus-event group but has no frame ID/DataBytes channels", gi)}
	}

	idSamples, _, err := g.column(idIdx, m.logger)
	if err != nil {
		return nil, err
	}
	idSamples = componentOf(idSamples, idComp)
	dataSamples, _, err := g.column(dataIdx, m.logger)
	if err != nil {
		return nil, err
	}
	dataSamples = componentOf(dataSamples, dataComp)

	if idSamples.Kind != core.KindUint || dataSamples.Kind != core.KindBytes {
		return nil, &core.FormatError{Message: fmt.Sprintf(
			"group %d: frame channels decode to %s/%s, expected uint ids and byte payloads",
			gi, idSamples.Kind, dataSamples.Kind)}
	}

	frames := &busFrames{ts: ts, payloads: dataSamples.Bytes}
	frames.ids = make([]uint32, len(idSamples.Uints))
	for i, v := range idSamples.Uints {
		// strip the extended-frame flag bit CAN loggers set
		frames.ids[i] = uint32(v) &^ 0x80000000
	}
	return frames, nil
}

// componentOf picks the named field out of a composite column; scalar
// columns pass through.
func componentOf(s core.Samples, name string) core.Samples {
	if s.Kind != core.KindRecord || name == "" {
		return s
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Samples
		}
	}
	return s
}

// decodeMessageRows decodes the admitted signals of one message from
// the selected frame rows. Rows whose payload is too short for a signal
// are marked invalid rather than dropped.
func decodeMessageRows(msg *busdb.Message, filter *busdb.Filter, frames *busFrames, rows []int) ([]float64, []*core.Signal) {
	ts := make([]float64, len(rows))
	for i, r := range rows {
		ts[i] = frames.ts[r]
	}

	var sigs []*core.Signal
	for i := range msg.Signals {
		def := &msg.Signals[i]
		if !filter.Admits(def.Name) {
			continue
		}
		vals := make([]float64, len(rows))
		var invalid *roaring.Bitmap
		for j, r := range rows {
			v, ok := def.Physical(frames.payloads[r])
			if !ok {
				if invalid == nil {
					invalid = roaring.New()
				}
				invalid.Add(uint32(j))
				continue
			}
			vals[j] = v
		}
		sigs = append(sigs, &core.Signal{
			Name:       def.Name,
			Samples:    core.FloatSamples(vals),
			Timestamps: ts,
			Invalid:    invalid,
			Unit:       def.Unit,
			Comment:    def.Comment,
			Raw:        false,
		})
	}
	return ts, sigs
}
