package mdf

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/nexusmdf/blocks"
	"github.com/INLOpen/nexusmdf/compressors"
	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

// mdf4Codec serializes the 4.x family: "##XX" tags, 64-bit links,
// 8-byte alignment, optional deflate data blocks.
type mdf4Codec struct{}

func (c *mdf4Codec) load(m *MDF, r *blocks.Reader, id *blocks.Identification) error {
	rawHD, err := r.ReadV4(blocks.IDBlockSize, blocks.TagHD)
	if err != nil {
		return err
	}
	hd, err := blocks.ParseHD(rawHD)
	if err != nil {
		return err
	}
	m.header.StartTimeNS = hd.StartTimeNS
	if m.header.Comment, err = r.ReadTextV4(hd.Comment); err != nil {
		return err
	}

	maxFrag := m.readFragmentSize()
	for dgAddr := hd.FirstDG; dgAddr != 0; {
		rawDG, err := r.ReadV4(dgAddr, blocks.TagDG)
		if err != nil {
			return err
		}
		dg, err := blocks.ParseDG(rawDG)
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

// cgEntry is one channel group while its data group is being loaded.
type cgEntry struct {
	block     *blocks.CGBlock
	cg        *core.ChannelGroup
	vlsdLinks map[int]int64 // channel index -> cn_data link
	buf       []byte
	vlsd      bool
}

func (c *mdf4Codec) loadDataGroup(m *MDF, r *blocks.Reader, dg *blocks.DGBlock, maxFrag int64) error {
	var entries []*cgEntry
	byRecordID := make(map[uint64]*cgEntry)
	for cgAddr := dg.FirstCG; cgAddr != 0; {
		rawCG, err := r.ReadV4(cgAddr, blocks.TagCG)
		if err != nil {
			return err
		}
		cgb, err := blocks.ParseCG(rawCG)
		if err != nil {
			return err
		}
		e := &cgEntry{block: cgb, vlsd: cgb.Flags&core.FlagCGVLSD != 0}
		if !e.vlsd {
			cg := &core.ChannelGroup{
				RecordSize:        int(cgb.SamplesByteNr),
				InvalidationBytes: int(cgb.InvalidationBytes),
				Cycles:            cgb.Cycles,
				Flags:             cgb.Flags,
				RecordID:          cgb.RecordID,
			}
			if cg.AcqName, err = r.ReadTextV4(cgb.AcqName); err != nil {
				return err
			}
			if cg.Comment, err = r.ReadTextV4(cgb.Comment); err != nil {
				return err
			}
			if cg.Source, err = c.loadSource(r, cgb.AcqSource); err != nil {
				return err
			}
			e.cg = cg
			e.vlsdLinks = make(map[int]int64)
			if cg.Channels, err = c.loadChannels(r, cgb.FirstCN, e.vlsdLinks, 0); err != nil {
				return err
			}
		}
		entries = append(entries, e)
		byRecordID[cgb.RecordID] = e
		cgAddr = cgb.NextCG
	}

	data, err := c.readDataChain(r, dg.Data)
	if err != nil {
		return err
	}

	// demultiplex when records carry an id prefix, straight split
	// otherwise
	vlsdStreams := make(map[uint64][]byte)
	if dg.RecIDSize == 0 {
		for _, e := range entries {
			if !e.vlsd {
				e.buf = data
				break
			}
		}
	} else if err := demuxV4(data, int(dg.RecIDSize), byRecordID, vlsdStreams); err != nil {
		return err
	}

	for _, e := range entries {
		if e.vlsd {
			continue
		}
		g := &Group{ChannelGroup: e.cg, Comment: e.cg.Comment, store: m.newRecordStore(), sd: make(map[int][]byte)}
		stride := e.cg.RecordTotalSize()
		if err := splitIntoFragments(g.store, e.buf, stride, maxFrag); err != nil {
			return err
		}
		e.cg.Cycles = g.store.records

		for ci, link := range e.vlsdLinks {
			blob, err := c.resolveVLSD(r, link, byRecordID, vlsdStreams)
			if err != nil {
				return err
			}
			if blob != nil {
				g.sd[ci] = blob
			}
		}
		m.groups = append(m.groups, g)
	}
	return nil
}

// demuxV4 splits an unsorted record stream into per-group buffers.
// Variable-length groups contribute their (length, bytes) entries to a
// per-group stream the offsets of the owning channel point into.
func demuxV4(data []byte, idSize int, byRecordID map[uint64]*cgEntry, vlsdStreams map[uint64][]byte) error {
	pos := 0
	for pos < len(data) {
		if pos+idSize > len(data) {
			return &core.FormatError{Message: "record id prefix runs past the data block"}
		}
		var id uint64
		switch idSize {
		case 1:
			id = uint64(data[pos])
		case 2:
			id = uint64(binary.LittleEndian.Uint16(data[pos:]))
		case 4:
			id = uint64(binary.LittleEndian.Uint32(data[pos:]))
		case 8:
			id = binary.LittleEndian.Uint64(data[pos:])
		default:
			return &core.FormatError{Message: fmt.Sprintf("unsupported record id size %d", idSize)}
		}
		pos += idSize

		e, ok := byRecordID[id]
		if !ok {
			return &core.FormatError{Message: fmt.Sprintf("record id %d matches no channel group", id)}
		}
		if e.vlsd {
			if pos+4 > len(data) {
				return &core.FormatError{Message: "variable-length record header runs past the data block"}
			}
			n := int(binary.LittleEndian.Uint32(data[pos:]))
			if pos+4+n > len(data) {
				return &core.FormatError{Message: "variable-length record runs past the data block"}
			}
			vlsdStreams[id] = append(vlsdStreams[id], data[pos:pos+4+n]...)
			pos += 4 + n
		} else {
			stride := e.cg.RecordTotalSize()
			if pos+stride > len(data) {
				return &core.FormatError{Message: "fixed record runs past the data block"}
			}
			e.buf = append(e.buf, data[pos:pos+stride]...)
			pos += stride
		}
	}
	return nil
}

// resolveVLSD finds the out-of-line payload of a variable-length
// channel: either a signal-data chain, or the stream of a
// variable-length channel group in the same data group.
func (c *mdf4Codec) resolveVLSD(r *blocks.Reader, link int64, byRecordID map[uint64]*cgEntry, vlsdStreams map[uint64][]byte) ([]byte, error) {
	if link == 0 {
		return nil, nil
	}
	blk, err := r.ReadV4(link, "")
	if err != nil {
		return nil, err
	}
	if blk.Tag == blocks.TagCG {
		cgb, err := blocks.ParseCG(blk)
		if err != nil {
			return nil, err
		}
		return vlsdStreams[cgb.RecordID], nil
	}
	return c.readDataChain(r, link)
}

func (c *mdf4Codec) loadChannels(r *blocks.Reader, addr int64, vlsdLinks map[int]int64, depth int) ([]*core.Channel, error) {
	if depth > 8 {
		return nil, &core.FormatError{Message: "channel composition nests too deep"}
	}
	var out []*core.Channel
	for cnAddr := addr; cnAddr != 0; {
		raw, err := r.ReadV4(cnAddr, blocks.TagCN)
		if err != nil {
			return nil, err
		}
		cn, err := blocks.ParseCN(raw)
		if err != nil {
			return nil, err
		}

		ch := &core.Channel{
			Type:            channelTypeFromV4(cn.Type),
			Sync:            core.SyncType(cn.SyncType),
			ByteOffset:      int(cn.ByteOffset),
			BitOffset:       cn.BitOffset,
			BitCount:        cn.BitCount,
			InvalidationBit: -1,
			RangeValid:      cn.RangeValid,
			Min:             cn.Min,
			Max:             cn.Max,
		}
		if ch.DataType, ch.ByteOrder, err = blocks.DataTypeV4(cn.RawDataType); err != nil {
			return nil, err
		}
		if ch.Type == core.ChVLSD {
			ch.DataType = core.DTVLSDString
		}
		if cn.Flags&blocks.CNFlagInvalPresent != 0 {
			ch.InvalidationBit = int(cn.InvalBitPos)
		}
		if ch.Name, err = r.ReadTextV4(cn.Name); err != nil {
			return nil, err
		}
		if ch.Unit, err = r.ReadTextV4(cn.Unit); err != nil {
			return nil, err
		}
		if ch.Comment, err = r.ReadTextV4(cn.Comment); err != nil {
			return nil, err
		}
		if ch.Source, err = c.loadSource(r, cn.Source); err != nil {
			return nil, err
		}
		conv, unit, err := c.loadConversion(r, cn.Conversion)
		if err != nil {
			return nil, err
		}
		ch.Conversion = conversionOrNil(conv)
		if ch.Unit == "" {
			ch.Unit = unit
		}
		if cn.Composition != 0 {
			if ch.Components, err = c.loadChannels(r, cn.Composition, nil, depth+1); err != nil {
				return nil, err
			}
		}
		if ch.Type == core.ChVLSD && cn.Data != 0 && vlsdLinks != nil {
			vlsdLinks[len(out)] = cn.Data
		}
		out = append(out, ch)
		cnAddr = cn.NextCN
	}
	return out, nil
}

// conversionOrNil keeps identity conversions out of the graph so raw
// and physical signals coincide for them.
func conversionOrNil(conv *conversion.Conversion) core.ConversionRule {
	if conv == nil || conv.Type == conversion.Identity {
		return nil
	}
	return conv
}

func channelTypeFromV4(code uint8) core.ChannelType {
	switch code {
	case blocks.CNTypeVLSD:
		return core.ChVLSD
	case blocks.CNTypeMaster:
		return core.ChMaster
	case blocks.CNTypeVirtualMaster:
		return core.ChVirtualMaster
	case blocks.CNTypeSync:
		return core.ChSync
	default:
		return core.ChValue
	}
}

func channelTypeToV4(t core.ChannelType) uint8 {
	switch t {
	case core.ChVLSD:
		return blocks.CNTypeVLSD
	case core.ChMaster:
		return blocks.CNTypeMaster
	case core.ChVirtualMaster:
		return blocks.CNTypeVirtualMaster
	case core.ChSync:
		return blocks.CNTypeSync
	default:
		return blocks.CNTypeValue
	}
}

func (c *mdf4Codec) loadSource(r *blocks.Reader, addr int64) (*core.Source, error) {
	if addr == 0 {
		return nil, nil
	}
	raw, err := r.ReadV4(addr, blocks.TagSI)
	if err != nil {
		return nil, err
	}
	si, err := blocks.ParseSI(raw)
	if err != nil {
		return nil, err
	}
	src := &core.Source{Bus: core.BusType(si.BusType)}
	if src.Name, err = r.ReadTextV4(si.Name); err != nil {
		return nil, err
	}
	if src.Path, err = r.ReadTextV4(si.Path); err != nil {
		return nil, err
	}
	if src.Comment, err = r.ReadTextV4(si.Comment); err != nil {
		return nil, err
	}
	return src, nil
}

// loadConversion maps a CC block to the engine's conversion rule. The
// second result is the conversion's own unit text.
func (c *mdf4Codec) loadConversion(r *blocks.Reader, addr int64) (*conversion.Conversion, string, error) {
	if addr == 0 {
		return nil, "", nil
	}
	raw, err := r.ReadV4(addr, blocks.TagCC)
	if err != nil {
		return nil, "", err
	}
	cc, err := blocks.ParseCC(raw)
	if err != nil {
		return nil, "", err
	}
	unit, err := r.ReadTextV4(cc.Unit)
	if err != nil {
		return nil, "", err
	}

	readRefTexts := func(refs []int64) ([]string, error) {
		out := make([]string, len(refs))
		for i, ref := range refs {
			if out[i], err = r.ReadTextV4(ref); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var conv *conversion.Conversion
	switch cc.CCType {
	case blocks.CC4Identity:
		conv = &conversion.Conversion{Type: conversion.Identity}

	case blocks.CC4Linear:
		if len(cc.Params) < 2 {
			return nil, "", truncatedCC(addr, cc)
		}
		conv = conversion.NewLinear(cc.Params[1], cc.Params[0])

	case blocks.CC4Rational:
		if len(cc.Params) < 6 {
			return nil, "", truncatedCC(addr, cc)
		}
		var p [6]float64
		copy(p[:], cc.Params)
		conv = conversion.NewRational(p)

	case blocks.CC4Algebraic:
		if len(cc.Refs) < 1 {
			return nil, "", truncatedCC(addr, cc)
		}
		formula, err := r.ReadTextV4(cc.Refs[0])
		if err != nil {
			return nil, "", err
		}
		conv = conversion.NewAlgebraic(formula)

	case blocks.CC4TabInterp, blocks.CC4Tab:
		n := len(cc.Params) / 2
		rawKeys := make([]float64, n)
		phys := make([]float64, n)
		for i := 0; i < n; i++ {
			rawKeys[i] = cc.Params[2*i]
			phys[i] = cc.Params[2*i+1]
		}
		conv = conversion.NewTabular(rawKeys, phys, cc.CCType == blocks.CC4TabInterp)

	case blocks.CC4RangeToValue:
		n := len(cc.Params) / 3
		rawKeys := make([]float64, n)
		phys := make([]float64, n)
		for i := 0; i < n; i++ {
			rawKeys[i] = cc.Params[3*i] // lower bound keys the range
			phys[i] = cc.Params[3*i+2]
		}
		conv = conversion.NewTabular(rawKeys, phys, false)

	case blocks.CC4ValueToText:
		texts, err := readRefTexts(cc.Refs)
		if err != nil {
			return nil, "", err
		}
		defaultText := ""
		if len(texts) > len(cc.Params) {
			defaultText = texts[len(texts)-1]
			texts = texts[:len(cc.Params)]
		}
		conv = conversion.NewValueToText(cc.Params, texts, defaultText)

	case blocks.CC4RangeToText:
		n := len(cc.Params) / 2
		lower := make([]float64, n)
		upper := make([]float64, n)
		for i := 0; i < n; i++ {
			lower[i] = cc.Params[2*i]
			upper[i] = cc.Params[2*i+1]
		}
		texts, err := readRefTexts(cc.Refs)
		if err != nil {
			return nil, "", err
		}
		defaultText := ""
		if len(texts) > n {
			defaultText = texts[len(texts)-1]
			texts = texts[:n]
		}
		conv = conversion.NewRangeToText(lower, upper, texts, defaultText)

	default:
		return nil, "", &core.FormatError{Address: addr, Block: blocks.TagCC, Message: fmt.Sprintf(
			"unsupported conversion type %d", cc.CCType)}
	}
	conv.Unit = unit
	return conv, unit, nil
}

func truncatedCC(addr int64, cc *blocks.CCBlock) error {
	return &core.FormatError{Address: addr, Block: blocks.TagCC, Message: fmt.Sprintf(
		"conversion type %d has only %d parameters", cc.CCType, len(cc.Params))}
}

// readDataChain concatenates a DT/SD/DZ/DL/HL data chain into one byte
// run.
func (c *mdf4Codec) readDataChain(r *blocks.Reader, addr int64) ([]byte, error) {
	if addr == 0 {
		return nil, nil
	}
	blk, err := r.ReadV4(addr, "")
	if err != nil {
		return nil, err
	}
	switch blk.Tag {
	case blocks.TagDT, blocks.TagSD:
		return blk.Data, nil

	case blocks.TagDZ:
		dz, err := blocks.ParseDZ(blk)
		if err != nil {
			return nil, err
		}
		if dz.ZipType != 0 {
			return nil, &core.FormatError{Address: addr, Block: blocks.TagDZ, Message: fmt.Sprintf(
				"unsupported zip type %d", dz.ZipType)}
		}
		zlib, err := compressors.Get(core.CompressionZlib)
		if err != nil {
			return nil, err
		}
		return dz.Inflate(zlib)

	case blocks.TagDL:
		var out []byte
		for dlAddr := addr; dlAddr != 0; {
			rawDL, err := r.ReadV4(dlAddr, blocks.TagDL)
			if err != nil {
				return nil, err
			}
			dl, err := blocks.ParseDL(rawDL)
			if err != nil {
				return nil, err
			}
			for _, sub := range dl.Blocks {
				part, err := c.readDataChain(r, sub)
				if err != nil {
					return nil, err
				}
				out = append(out, part...)
			}
			dlAddr = dl.NextDL
		}
		return out, nil

	case blocks.TagHL:
		hl, err := blocks.ParseHL(blk)
		if err != nil {
			return nil, err
		}
		return c.readDataChain(r, hl.FirstDL)
	}
	return nil, &core.FormatError{Address: addr, Message: fmt.Sprintf(
		"unexpected %s block in a data chain", blk.Tag)}
}

func (c *mdf4Codec) save(m *MDF) ([]byte, error) {
	b := blocks.NewBuilder()
	id := &blocks.Identification{Version: m.version, Program: "nexusmdf"}
	b.Raw(id.Encode())

	// the header block must sit at offset 64; reserve it now and patch
	// the links once everything else is placed
	hd := &blocks.HDBlock{StartTimeNS: m.header.StartTimeNS}
	hdAddr := hd.Encode(b)
	if hdAddr != blocks.IDBlockSize {
		return nil, fmt.Errorf("header block landed at %d, want %d", hdAddr, blocks.IDBlockSize)
	}

	fh := &blocks.FHBlock{Comment: b.TextV4("created by nexusmdf"), TimeNS: m.header.StartTimeNS}
	hd.FirstFH = fh.Encode(b)
	hd.Comment = b.TextV4(m.header.Comment)

	compress := m.cfg.Engine.Write.Compression == "zlib" && m.version.AtLeast(core.V4_10)

	var dgAddrs []int64
	for _, g := range m.groups {
		dataAddr, err := c.saveData(b, g, compress)
		if err != nil {
			return nil, err
		}
		cnFirst, err := c.saveChannels(b, g, g.ChannelGroup.Channels)
		if err != nil {
			return nil, err
		}
		cgb := &blocks.CGBlock{
			FirstCN:           cnFirst,
			AcqName:           b.TextV4(g.ChannelGroup.AcqName),
			AcqSource:         c.saveSource(b, g.ChannelGroup.Source),
			Comment:           b.TextV4(g.ChannelGroup.Comment),
			Cycles:            g.ChannelGroup.Cycles,
			Flags:             g.ChannelGroup.Flags,
			SamplesByteNr:     uint32(g.ChannelGroup.RecordSize),
			InvalidationBytes: uint32(g.ChannelGroup.InvalidationBytes),
		}
		cgAddr := cgb.Encode(b)
		dgb := &blocks.DGBlock{FirstCG: cgAddr, Data: dataAddr}
		dgAddrs = append(dgAddrs, dgb.Encode(b))
	}

	img := b.Bytes()
	// chain the data groups and patch the header links
	for i := 0; i < len(dgAddrs)-1; i++ {
		binary.LittleEndian.PutUint64(img[dgAddrs[i]+24:], uint64(dgAddrs[i+1]))
	}
	if len(dgAddrs) > 0 {
		hd.FirstDG = dgAddrs[0]
	}
	scratch := blocks.NewBuilder()
	hd.Encode(scratch)
	copy(img[hdAddr:], scratch.Bytes())
	return img, nil
}

// saveData writes the group's record stream: DT blocks, or DZ blocks
// chained behind HL+DL for 4.10+ deflate targets.
func (c *mdf4Codec) saveData(b *blocks.Builder, g *Group, compress bool) (int64, error) {
	var (
		addrs   []int64
		offsets []uint64
		rawOff  uint64
	)
	zlib, err := compressors.Get(core.CompressionZlib)
	if err != nil {
		return 0, err
	}

	it := g.store.iter()
	for it.Next() {
		data := it.Fragment()
		var addr int64
		if compress {
			compressed, err := zlib.Compress(data)
			if err != nil {
				return 0, err
			}
			dz := &blocks.DZBlock{OrgTag: "DT", OrgLength: uint64(len(data)), Compressed: compressed}
			addr = dz.Encode(b)
		} else {
			addr = b.BlockV4(blocks.TagDT, nil, data)
		}
		addrs = append(addrs, addr)
		offsets = append(offsets, rawOff)
		rawOff += uint64(len(data))
	}
	if err := it.Err(); err != nil {
		return 0, err
	}

	switch {
	case len(addrs) == 0:
		return 0, nil
	case len(addrs) == 1 && !compress:
		return addrs[0], nil
	}
	dl := &blocks.DLBlock{Blocks: addrs, Offsets: offsets}
	dlAddr := dl.Encode(b)
	if compress {
		hl := &blocks.HLBlock{FirstDL: dlAddr}
		return hl.Encode(b), nil
	}
	return dlAddr, nil
}

// saveChannels writes a CN chain in reverse so next links point
// forward, returning the first channel's address.
func (c *mdf4Codec) saveChannels(b *blocks.Builder, g *Group, channels []*core.Channel) (int64, error) {
	next := int64(0)
	for i := len(channels) - 1; i >= 0; i-- {
		ch := channels[i]

		composition := int64(0)
		if len(ch.Components) > 0 {
			// signal-data blobs key top-level channel indices, so the
			// component chain must not consult them
			sub, err := c.saveChannels(b, nil, ch.Components)
			if err != nil {
				return 0, err
			}
			composition = sub
		}
		dataLink := int64(0)
		if g != nil {
			if blob, ok := g.sd[i]; ok {
				dataLink = b.BlockV4(blocks.TagSD, nil, blob)
			}
		}

		cn := &blocks.CNBlock{
			NextCN:      next,
			Composition: composition,
			Name:        b.TextV4(ch.Name),
			Source:      c.saveSource(b, ch.Source),
			Conversion:  c.saveConversion(b, ch.Conversion),
			Data:        dataLink,
			Unit:        b.TextV4(ch.Unit),
			Comment:     b.TextV4(ch.Comment),
			Type:        channelTypeToV4(ch.Type),
			SyncType:    uint8(ch.Sync),
			RawDataType: blocks.DataTypeCodeV4(ch.DataType, ch.ByteOrder),
			BitOffset:   ch.BitOffset,
			ByteOffset:  uint32(ch.ByteOffset),
			BitCount:    ch.BitCount,
			Min:         ch.Min,
			Max:         ch.Max,
			RangeValid:  ch.RangeValid,
		}
		if ch.InvalidationBit >= 0 {
			cn.Flags |= blocks.CNFlagInvalPresent
			cn.InvalBitPos = uint32(ch.InvalidationBit)
		}
		next = cn.Encode(b)
	}
	return next, nil
}

func (c *mdf4Codec) saveSource(b *blocks.Builder, src *core.Source) int64 {
	if src == nil {
		return 0
	}
	si := &blocks.SIBlock{
		Name:    b.TextV4(src.Name),
		Path:    b.TextV4(src.Path),
		Comment: b.TextV4(src.Comment),
		BusType: uint8(src.Bus),
	}
	if src.Bus != core.BusTypeNone {
		si.SourceType = 2 // bus source
	}
	return si.Encode(b)
}

func (c *mdf4Codec) saveConversion(b *blocks.Builder, rule core.ConversionRule) int64 {
	conv, ok := rule.(*conversion.Conversion)
	if !ok || conv == nil || conv.Type == conversion.Identity {
		return 0
	}
	cc := &blocks.CCBlock{Unit: b.TextV4(conv.Unit)}

	switch conv.Type {
	case conversion.Linear:
		cc.CCType = blocks.CC4Linear
		cc.Params = []float64{conv.Offset, conv.Scale}
	case conversion.Rational:
		cc.CCType = blocks.CC4Rational
		cc.Params = conv.P[:]
	case conversion.Algebraic:
		cc.CCType = blocks.CC4Algebraic
		cc.Refs = []int64{b.TextV4(conv.Formula)}
	case conversion.TabularInterp, conversion.Tabular:
		cc.CCType = blocks.CC4Tab
		if conv.Type == conversion.TabularInterp {
			cc.CCType = blocks.CC4TabInterp
		}
		cc.Params = make([]float64, 0, 2*len(conv.RawKeys))
		for i := range conv.RawKeys {
			cc.Params = append(cc.Params, conv.RawKeys[i], conv.PhysVals[i])
		}
	case conversion.ValueToText:
		cc.CCType = blocks.CC4ValueToText
		cc.Params = conv.RawKeys
		for _, text := range conv.Texts {
			cc.Refs = append(cc.Refs, b.TextV4(text))
		}
		cc.Refs = append(cc.Refs, b.TextV4(conv.DefaultText))
	case conversion.RangeToText:
		cc.CCType = blocks.CC4RangeToText
		cc.Params = make([]float64, 0, 2*len(conv.LowerRaw))
		for i := range conv.LowerRaw {
			cc.Params = append(cc.Params, conv.LowerRaw[i], conv.UpperRaw[i])
		}
		for _, text := range conv.Texts {
			cc.Refs = append(cc.Refs, b.TextV4(text))
		}
		cc.Refs = append(cc.Refs, b.TextV4(conv.DefaultText))
	default:
		return 0
	}
	return cc.Encode(b)
}
