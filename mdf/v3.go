package mdf

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/INLOpen/nexusmdf/blocks"
	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

// mdf3Codec serializes the pre-4.00 family: 2-byte tags, 16-bit block
// sizes, 32-bit links, raw data streams without a block header.
type mdf3Codec struct{}

func (c *mdf3Codec) load(m *MDF, r *blocks.Reader, id *blocks.Identification) error {
	rawHD, err := r.ReadV3(blocks.IDBlockSize, blocks.TagV3HD)
	if err != nil {
		return err
	}
	hd, err := blocks.ParseHDV3(rawHD)
	if err != nil {
		return err
	}
	m.header.Author = hd.Author
	m.header.Project = hd.Project
	m.header.Subject = hd.Subject
	m.header.StartTimeNS = hd.StartNS
	if m.header.StartTimeNS == 0 {
		m.header.StartTimeNS = startNSFromDateTime(hd.Date, hd.Time)
	}
	if m.header.Comment, err = r.ReadTextV3(hd.Comment); err != nil {
		return err
	}

	maxFrag := m.readFragmentSize()
	for dgAddr := hd.FirstDG; dgAddr != 0; {
		rawDG, err := r.ReadV3(dgAddr, blocks.TagV3DG)
		if err != nil {
			return err
		}
		dg, err := blocks.ParseDGV3(rawDG)
		if err != nil {
			return err
		}
		if err := c.loadDataGroup(m, r, dg, maxFrag); err != nil {
			return err
		}
		dgAddr = dg.NextDG
	}
	return nil
}

func startNSFromDateTime(date, clock string) uint64 {
	t, err := time.Parse("02:01:2006 15:04:05", date+" "+clock)
	if err != nil {
		return 0
	}
	return uint64(t.UnixNano())
}

type cgEntryV3 struct {
	cg  *core.ChannelGroup
	buf []byte
}

func (c *mdf3Codec) loadDataGroup(m *MDF, r *blocks.Reader, dg *blocks.DGBlockV3, maxFrag int64) error {
	var entries []*cgEntryV3
	byRecordID := make(map[uint64]*cgEntryV3)
	for cgAddr := dg.FirstCG; cgAddr != 0; {
		rawCG, err := r.ReadV3(cgAddr, blocks.TagV3CG)
		if err != nil {
			return err
		}
		cgb, err := blocks.ParseCGV3(rawCG)
		if err != nil {
			return err
		}
		cg := &core.ChannelGroup{
			RecordSize: int(cgb.SamplesByteNr),
			Cycles:     uint64(cgb.Cycles),
			RecordID:   uint64(cgb.RecordID),
		}
		if cg.Comment, err = r.ReadTextV3(cgb.Comment); err != nil {
			return err
		}
		if cg.Channels, err = c.loadChannels(m, r, cgb.FirstCN); err != nil {
			return err
		}
		e := &cgEntryV3{cg: cg}
		entries = append(entries, e)
		byRecordID[cg.RecordID] = e
		cgAddr = cgb.NextCG
	}

	// v3 data streams are raw record runs without a block header
	total := int64(0)
	idSize := int(dg.RecIDSize)
	for _, e := range entries {
		total += int64(e.cg.Cycles) * int64(e.cg.RecordSize+idSize)
		if idSize == 2 {
			total += int64(e.cg.Cycles) // trailing id byte
		}
	}
	if dg.Data != 0 && total > 0 {
		data, err := r.ReadAt(dg.Data, int(total))
		if err != nil {
			return err
		}
		switch {
		case idSize == 0 && len(entries) == 1:
			entries[0].buf = data
		case idSize == 0:
			return &core.FormatError{Message: "unsorted data group carries no record ids"}
		default:
			if err := demuxV3(data, idSize, byRecordID); err != nil {
				return err
			}
		}
	}

	for _, e := range entries {
		g := &Group{ChannelGroup: e.cg, Comment: e.cg.Comment, store: m.newRecordStore(), sd: make(map[int][]byte)}
		if err := splitIntoFragments(g.store, e.buf, e.cg.RecordTotalSize(), maxFrag); err != nil {
			return err
		}
		e.cg.Cycles = g.store.records
		m.groups = append(m.groups, g)
	}
	return nil
}

// demuxV3 splits an unsorted v3 record stream. A record id size of 2
// repeats the one-byte id after each record.
func demuxV3(data []byte, idSize int, byRecordID map[uint64]*cgEntryV3) error {
	pos := 0
	for pos < len(data) {
		id := uint64(data[pos])
		pos++
		e, ok := byRecordID[id]
		if !ok {
			return &core.FormatError{Message: fmt.Sprintf("record id %d matches no channel group", id)}
		}
		stride := e.cg.RecordSize
		if pos+stride > len(data) {
			return &core.FormatError{Message: "record runs past the data stream"}
		}
		e.buf = append(e.buf, data[pos:pos+stride]...)
		pos += stride
		if idSize == 2 {
			pos++ // trailing id copy
		}
	}
	return nil
}

func (c *mdf3Codec) loadChannels(m *MDF, r *blocks.Reader, addr int64) ([]*core.Channel, error) {
	var out []*core.Channel
	for cnAddr := addr; cnAddr != 0; {
		raw, err := r.ReadV3(cnAddr, blocks.TagV3CN)
		if err != nil {
			return nil, err
		}
		cn, err := blocks.ParseCNV3(raw)
		if err != nil {
			return nil, err
		}

		ch := &core.Channel{
			Name:            cn.ShortName,
			Comment:         cn.Description,
			ByteOffset:      int(cn.StartBitOffset)/8 + int(cn.AddlByteOffset),
			BitOffset:       uint8(cn.StartBitOffset % 8),
			BitCount:        uint32(cn.BitCount),
			InvalidationBit: -1,
			RangeValid:      cn.RangeValid,
			Min:             cn.Min,
			Max:             cn.Max,
		}
		if cn.ChannelType == 1 {
			ch.Type = core.ChMaster
			ch.Sync = core.SyncTime
		}
		if ch.DataType, ch.ByteOrder, err = blocks.DataTypeV3(cn.RawDataType); err != nil {
			return nil, err
		}
		if cn.LongName != 0 {
			long, err := r.ReadTextV3(cn.LongName)
			if err != nil {
				return nil, err
			}
			if long != "" {
				ch.Name = long
			}
		}
		if cn.Comment != 0 {
			txt, err := r.ReadTextV3(cn.Comment)
			if err != nil {
				return nil, err
			}
			if txt != "" {
				ch.Comment = txt
			}
		}
		conv, unit, err := c.loadConversion(m, r, cn.Conversion)
		if err != nil {
			return nil, err
		}
		ch.Conversion = conversionOrNil(conv)
		ch.Unit = unit
		out = append(out, ch)
		cnAddr = cn.NextCN
	}
	return out, nil
}

func (c *mdf3Codec) loadConversion(m *MDF, r *blocks.Reader, addr int64) (*conversion.Conversion, string, error) {
	if addr == 0 {
		return nil, "", nil
	}
	raw, err := r.ReadV3(addr, blocks.TagV3CC)
	if err != nil {
		return nil, "", err
	}
	cc, err := blocks.ParseCCV3(raw)
	if err != nil {
		return nil, "", err
	}

	var conv *conversion.Conversion
	switch cc.CCType {
	case blocks.CC3Identity:
		conv = &conversion.Conversion{Type: conversion.Identity}

	case blocks.CC3Linear:
		if len(cc.Params) < 2 {
			return nil, "", &core.FormatError{Address: addr, Block: blocks.TagV3CC,
				Message: "linear conversion needs 2 parameters"}
		}
		conv = conversion.NewLinear(cc.Params[1], cc.Params[0])

	case blocks.CC3Rational:
		if len(cc.Params) < 6 {
			return nil, "", &core.FormatError{Address: addr, Block: blocks.TagV3CC,
				Message: "rational conversion needs 6 parameters"}
		}
		var p [6]float64
		copy(p[:], cc.Params)
		conv = conversion.NewRational(p)

	case blocks.CC3Formula:
		// pre-4.00 formulas write the variable as X1
		formula := strings.ReplaceAll(cc.Formula, "X1", "X")
		conv = conversion.NewAlgebraic(formula)

	case blocks.CC3TabInterp, blocks.CC3Tab:
		n := len(cc.Params) / 2
		rawKeys := make([]float64, n)
		phys := make([]float64, n)
		for i := 0; i < n; i++ {
			rawKeys[i] = cc.Params[2*i]
			phys[i] = cc.Params[2*i+1]
		}
		conv = conversion.NewTabular(rawKeys, phys, cc.CCType == blocks.CC3TabInterp)

	case blocks.CC3VTab:
		conv = conversion.NewValueToText(cc.Params, cc.Texts, "")

	case blocks.CC3VTabRange:
		// the text links of range tables are not resolvable block-local;
		// fall back to raw passthrough
		m.logger.Warn("range text table conversion passed through as identity", "address", addr)
		conv = &conversion.Conversion{Type: conversion.Identity}

	default:
		return nil, "", &core.FormatError{Address: addr, Block: blocks.TagV3CC, Message: fmt.Sprintf(
			"unsupported conversion type %d", cc.CCType)}
	}
	conv.Unit = cc.Unit
	return conv, cc.Unit, nil
}

func (c *mdf3Codec) save(m *MDF) ([]byte, error) {
	b := blocks.NewBuilder()
	id := &blocks.Identification{Version: m.version, Program: "nexusmdf"}
	b.Raw(id.Encode())

	full := m.version.AtLeast(core.V3_20)
	start := time.Unix(0, int64(m.header.StartTimeNS))
	hd := &blocks.HDBlockV3{
		Date:    start.Format("02:01:2006"),
		Time:    start.Format("15:04:05"),
		Author:  m.header.Author,
		Project: m.header.Project,
		Subject: m.header.Subject,
		StartNS: m.header.StartTimeNS,
	}
	hdAddr := hd.Encode(b, full)
	if hdAddr != blocks.IDBlockSize {
		return nil, fmt.Errorf("header block landed at %d, want %d", hdAddr, blocks.IDBlockSize)
	}
	hd.Comment = b.TextV3(m.header.Comment)

	var dgAddrs []int64
	for _, g := range m.groups {
		// v3 data streams are raw bytes, written as one run
		dataAddr := b.Pos()
		records := 0
		it := g.store.iter()
		for it.Next() {
			b.Raw(it.Fragment())
			records += it.Records()
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		if records == 0 {
			dataAddr = 0
		}

		cnFirst, err := c.saveChannels(b, g.ChannelGroup.Channels)
		if err != nil {
			return nil, err
		}
		cgb := &blocks.CGBlockV3{
			FirstCN:       cnFirst,
			Comment:       b.TextV3(g.ChannelGroup.Comment),
			ChannelCount:  uint16(len(g.ChannelGroup.Channels)),
			SamplesByteNr: uint16(g.ChannelGroup.RecordSize),
			Cycles:        uint32(records),
		}
		cgAddr := cgb.Encode(b)
		dgb := &blocks.DGBlockV3{FirstCG: cgAddr, Data: dataAddr, CGCount: 1}
		dgAddrs = append(dgAddrs, dgb.Encode(b))
	}

	img := b.Bytes()
	// chain the data groups and patch the header links; the link slots
	// sit right after the 4-byte block header
	for i := 0; i < len(dgAddrs)-1; i++ {
		binary.LittleEndian.PutUint32(img[dgAddrs[i]+4:], uint32(dgAddrs[i+1]))
	}
	if len(dgAddrs) > 0 {
		binary.LittleEndian.PutUint32(img[hdAddr+4:], uint32(dgAddrs[0]))
	}
	if hd.Comment != 0 {
		binary.LittleEndian.PutUint32(img[hdAddr+8:], uint32(hd.Comment))
	}
	return img, nil
}

func (c *mdf3Codec) saveChannels(b *blocks.Builder, channels []*core.Channel) (int64, error) {
	next := int64(0)
	for i := len(channels) - 1; i >= 0; i-- {
		ch := channels[i]
		if int(ch.ByteOffset)*8+int(ch.BitOffset) > 0xFFFF {
			return 0, fmt.Errorf("channel %q: record offset too large for a pre-4.00 file", ch.Name)
		}

		longName := int64(0)
		short := ch.Name
		if len(short) > 31 {
			short = short[:31]
			longName = b.TextV3(ch.Name)
		}
		cn := &blocks.CNBlockV3{
			NextCN:         next,
			Conversion:     c.saveConversion(b, ch),
			ShortName:      short,
			Description:    clip(ch.Comment, 127),
			StartBitOffset: uint16(ch.ByteOffset*8 + int(ch.BitOffset)),
			BitCount:       uint16(ch.BitCount),
			RawDataType:    blocks.DataTypeCodeV3(ch.DataType, ch.ByteOrder),
			RangeValid:     ch.RangeValid,
			Min:            ch.Min,
			Max:            ch.Max,
			LongName:       longName,
		}
		if ch.Type == core.ChMaster || ch.Type == core.ChVirtualMaster {
			cn.ChannelType = 1
		}
		next = cn.Encode(b)
	}
	return next, nil
}

// saveConversion writes the channel's conversion, or a unit-only
// identity record when the channel has a unit but no rule, since v3
// units live inside the conversion block.
func (c *mdf3Codec) saveConversion(b *blocks.Builder, ch *core.Channel) int64 {
	conv, _ := ch.Conversion.(*conversion.Conversion)
	if conv == nil {
		if ch.Unit == "" {
			return 0
		}
		cc := &blocks.CCBlockV3{CCType: blocks.CC3Identity, Unit: clip(ch.Unit, 19)}
		return cc.Encode(b)
	}

	cc := &blocks.CCBlockV3{
		Unit:       clip(ch.Unit, 19),
		RangeValid: ch.RangeValid,
		Min:        ch.Min,
		Max:        ch.Max,
	}
	switch conv.Type {
	case conversion.Linear:
		cc.CCType = blocks.CC3Linear
		cc.Params = []float64{conv.Offset, conv.Scale}
	case conversion.Rational:
		cc.CCType = blocks.CC3Rational
		cc.Params = conv.P[:]
	case conversion.Algebraic:
		cc.CCType = blocks.CC3Formula
		cc.Formula = strings.ReplaceAll(conv.Formula, "X", "X1")
	case conversion.TabularInterp, conversion.Tabular:
		cc.CCType = blocks.CC3Tab
		if conv.Type == conversion.TabularInterp {
			cc.CCType = blocks.CC3TabInterp
		}
		cc.Params = make([]float64, 0, 2*len(conv.RawKeys))
		for i := range conv.RawKeys {
			cc.Params = append(cc.Params, conv.RawKeys[i], conv.PhysVals[i])
		}
	case conversion.ValueToText:
		cc.CCType = blocks.CC3VTab
		cc.Params = conv.RawKeys
		cc.Texts = make([]string, len(conv.Texts))
		for i, t := range conv.Texts {
			cc.Texts[i] = clip(t, 31)
		}
	default:
		cc.CCType = blocks.CC3Identity
	}
	return cc.Encode(b)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
