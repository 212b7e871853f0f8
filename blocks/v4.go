package blocks

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/INLOpen/nexusmdf/core"
)

// v4 channel type codes.
const (
	CNTypeValue uint8 = iota
	CNTypeVLSD
	CNTypeMaster
	CNTypeVirtualMaster
	CNTypeSync
)

// v4 channel data type codes.
const (
	DT4UintLE uint8 = iota
	DT4UintBE
	DT4SintLE
	DT4SintBE
	DT4FloatLE
	DT4FloatBE
	DT4StringLatin
	DT4StringUTF8
	DT4StringUTF16LE
	DT4StringUTF16BE
	DT4ByteArray
	DT4MIMESample
	DT4MIMEStream
	DT4CANOpenDate
	DT4CANOpenTime
)

// v4 conversion type codes.
const (
	CC4Identity uint8 = iota
	CC4Linear
	CC4Rational
	CC4Algebraic
	CC4TabInterp
	CC4Tab
	CC4RangeToValue
	CC4ValueToText
	CC4RangeToText
	CC4TextToValue
	CC4TextToText
)

// HDBlock is the v4 header block.
type HDBlock struct {
	FirstDG      int64
	FirstFH      int64
	Comment      int64
	StartTimeNS  uint64
	TZOffsetMin  int16
	DSTOffsetMin int16
	TimeFlags    uint8
}

const hdLinkCount = 6 // dg, fh, ch, at, ev, md_comment

func ParseHD(raw *RawBlock) (*HDBlock, error) {
	if len(raw.Data) < 32 {
		return nil, truncated(raw, 32)
	}
	return &HDBlock{
		FirstDG:      raw.Link(0),
		FirstFH:      raw.Link(1),
		Comment:      raw.Link(5),
		StartTimeNS:  binary.LittleEndian.Uint64(raw.Data[0:]),
		TZOffsetMin:  int16(binary.LittleEndian.Uint16(raw.Data[8:])),
		DSTOffsetMin: int16(binary.LittleEndian.Uint16(raw.Data[10:])),
		TimeFlags:    raw.Data[12],
	}, nil
}

func (h *HDBlock) Encode(b *Builder) int64 {
	links := make([]int64, hdLinkCount)
	links[0] = h.FirstDG
	links[1] = h.FirstFH
	links[5] = h.Comment
	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[0:], h.StartTimeNS)
	binary.LittleEndian.PutUint16(data[8:], uint16(h.TZOffsetMin))
	binary.LittleEndian.PutUint16(data[10:], uint16(h.DSTOffsetMin))
	data[12] = h.TimeFlags
	return b.BlockV4(TagHD, links, data)
}

// FHBlock records one file-history step.
type FHBlock struct {
	NextFH  int64
	Comment int64
	TimeNS  uint64
}

func ParseFH(raw *RawBlock) (*FHBlock, error) {
	if len(raw.Data) < 16 {
		return nil, truncated(raw, 16)
	}
	return &FHBlock{
		NextFH:  raw.Link(0),
		Comment: raw.Link(1),
		TimeNS:  binary.LittleEndian.Uint64(raw.Data[0:]),
	}, nil
}

func (h *FHBlock) Encode(b *Builder) int64 {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:], h.TimeNS)
	return b.BlockV4(TagFH, []int64{h.NextFH, h.Comment}, data)
}

// DGBlock is the v4 data group block.
type DGBlock struct {
	NextDG    int64
	FirstCG   int64
	Data      int64
	Comment   int64
	RecIDSize uint8
}

func ParseDG(raw *RawBlock) (*DGBlock, error) {
	if len(raw.Data) < 8 {
		return nil, truncated(raw, 8)
	}
	return &DGBlock{
		NextDG:    raw.Link(0),
		FirstCG:   raw.Link(1),
		Data:      raw.Link(2),
		Comment:   raw.Link(3),
		RecIDSize: raw.Data[0],
	}, nil
}

func (d *DGBlock) Encode(b *Builder) int64 {
	data := make([]byte, 8)
	data[0] = d.RecIDSize
	return b.BlockV4(TagDG, []int64{d.NextDG, d.FirstCG, d.Data, d.Comment}, data)
}

// CGBlock is the v4 channel group block.
type CGBlock struct {
	NextCG            int64
	FirstCN           int64
	AcqName           int64
	AcqSource         int64
	Comment           int64
	RecordID          uint64
	Cycles            uint64
	Flags             uint16
	SamplesByteNr     uint32
	InvalidationBytes uint32
}

func ParseCG(raw *RawBlock) (*CGBlock, error) {
	if len(raw.Data) < 32 {
		return nil, truncated(raw, 32)
	}
	return &CGBlock{
		NextCG:            raw.Link(0),
		FirstCN:           raw.Link(1),
		AcqName:           raw.Link(2),
		AcqSource:         raw.Link(3),
		Comment:           raw.Link(5),
		RecordID:          binary.LittleEndian.Uint64(raw.Data[0:]),
		Cycles:            binary.LittleEndian.Uint64(raw.Data[8:]),
		Flags:             binary.LittleEndian.Uint16(raw.Data[16:]),
		SamplesByteNr:     binary.LittleEndian.Uint32(raw.Data[24:]),
		InvalidationBytes: binary.LittleEndian.Uint32(raw.Data[28:]),
	}, nil
}

func (c *CGBlock) Encode(b *Builder) int64 {
	links := []int64{c.NextCG, c.FirstCN, c.AcqName, c.AcqSource, 0, c.Comment}
	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[0:], c.RecordID)
	binary.LittleEndian.PutUint64(data[8:], c.Cycles)
	binary.LittleEndian.PutUint16(data[16:], c.Flags)
	binary.LittleEndian.PutUint32(data[24:], c.SamplesByteNr)
	binary.LittleEndian.PutUint32(data[28:], c.InvalidationBytes)
	return b.BlockV4(TagCG, links, data)
}

// CNBlock is the v4 channel block.
type CNBlock struct {
	NextCN      int64
	Composition int64
	Name        int64
	Source      int64
	Conversion  int64
	Data        int64
	Unit        int64
	Comment     int64

	Type        uint8
	SyncType    uint8
	RawDataType uint8
	BitOffset   uint8
	ByteOffset  uint32
	BitCount    uint32
	Flags       uint32
	InvalBitPos uint32
	Min, Max    float64
	RangeValid  bool
}

// CN flag bits used by the engine.
const (
	CNFlagAllInvalid   uint32 = 1 << 0
	CNFlagInvalPresent uint32 = 1 << 1
	CNFlagRangeValid   uint32 = 1 << 3
)

func ParseCN(raw *RawBlock) (*CNBlock, error) {
	if len(raw.Data) < 72 {
		return nil, truncated(raw, 72)
	}
	cn := &CNBlock{
		NextCN:      raw.Link(0),
		Composition: raw.Link(1),
		Name:        raw.Link(2),
		Source:      raw.Link(3),
		Conversion:  raw.Link(4),
		Data:        raw.Link(5),
		Unit:        raw.Link(6),
		Comment:     raw.Link(7),
		Type:        raw.Data[0],
		SyncType:    raw.Data[1],
		RawDataType: raw.Data[2],
		BitOffset:   raw.Data[3],
		ByteOffset:  binary.LittleEndian.Uint32(raw.Data[4:]),
		BitCount:    binary.LittleEndian.Uint32(raw.Data[8:]),
		Flags:       binary.LittleEndian.Uint32(raw.Data[12:]),
		InvalBitPos: binary.LittleEndian.Uint32(raw.Data[16:]),
		Min:         math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[24:])),
		Max:         math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[32:])),
	}
	cn.RangeValid = cn.Flags&CNFlagRangeValid != 0
	return cn, nil
}

func (c *CNBlock) Encode(b *Builder) int64 {
	links := []int64{c.NextCN, c.Composition, c.Name, c.Source, c.Conversion, c.Data, c.Unit, c.Comment}
	flags := c.Flags
	if c.RangeValid {
		flags |= CNFlagRangeValid
	}
	data := make([]byte, 72)
	data[0] = c.Type
	data[1] = c.SyncType
	data[2] = c.RawDataType
	data[3] = c.BitOffset
	binary.LittleEndian.PutUint32(data[4:], c.ByteOffset)
	binary.LittleEndian.PutUint32(data[8:], c.BitCount)
	binary.LittleEndian.PutUint32(data[12:], flags)
	binary.LittleEndian.PutUint32(data[16:], c.InvalBitPos)
	binary.LittleEndian.PutUint64(data[24:], math.Float64bits(c.Min))
	binary.LittleEndian.PutUint64(data[32:], math.Float64bits(c.Max))
	return b.BlockV4(TagCN, links, data)
}

// DataTypeV4 maps an on-disk data type code to the engine's semantic
// type and byte order.
func DataTypeV4(code uint8) (core.ChannelDataType, core.ByteOrder, error) {
	switch code {
	case DT4UintLE:
		return core.DTUnsigned, core.LittleEndian, nil
	case DT4UintBE:
		return core.DTUnsigned, core.BigEndian, nil
	case DT4SintLE:
		return core.DTSigned, core.LittleEndian, nil
	case DT4SintBE:
		return core.DTSigned, core.BigEndian, nil
	case DT4FloatLE:
		return core.DTFloat, core.LittleEndian, nil
	case DT4FloatBE:
		return core.DTFloat, core.BigEndian, nil
	case DT4StringLatin, DT4StringUTF8:
		return core.DTString, core.LittleEndian, nil
	case DT4ByteArray, DT4MIMESample, DT4MIMEStream:
		return core.DTByteArray, core.LittleEndian, nil
	case DT4CANOpenDate:
		return core.DTCANOpenDate, core.LittleEndian, nil
	case DT4CANOpenTime:
		return core.DTCANOpenTime, core.LittleEndian, nil
	}
	return 0, 0, &core.FormatError{Message: fmt.Sprintf("unsupported channel data type code %d", code)}
}

// DataTypeCodeV4 is the inverse of DataTypeV4.
func DataTypeCodeV4(t core.ChannelDataType, order core.ByteOrder) uint8 {
	switch t {
	case core.DTUnsigned:
		if order == core.BigEndian {
			return DT4UintBE
		}
		return DT4UintLE
	case core.DTSigned:
		if order == core.BigEndian {
			return DT4SintBE
		}
		return DT4SintLE
	case core.DTFloat:
		if order == core.BigEndian {
			return DT4FloatBE
		}
		return DT4FloatLE
	case core.DTString, core.DTVLSDString:
		return DT4StringUTF8
	case core.DTCANOpenDate:
		return DT4CANOpenDate
	case core.DTCANOpenTime:
		return DT4CANOpenTime
	default:
		return DT4ByteArray
	}
}

// CCBlock is the v4 conversion block.
type CCBlock struct {
	Name     int64
	Unit     int64
	Comment  int64
	Inverse  int64
	Refs     []int64
	CCType   uint8
	Flags    uint16
	Min, Max float64
	Params   []float64
}

func ParseCC(raw *RawBlock) (*CCBlock, error) {
	if len(raw.Data) < 24 {
		return nil, truncated(raw, 24)
	}
	refCount := int(binary.LittleEndian.Uint16(raw.Data[4:]))
	valCount := int(binary.LittleEndian.Uint16(raw.Data[6:]))
	if len(raw.Links) < 4+refCount {
		return nil, &core.FormatError{Address: raw.Address, Block: raw.Tag, Message: fmt.Sprintf(
			"conversion declares %d references but the block has %d links", refCount, len(raw.Links))}
	}
	if len(raw.Data) < 24+valCount*8 {
		return nil, truncated(raw, 24+valCount*8)
	}
	cc := &CCBlock{
		Name:    raw.Link(0),
		Unit:    raw.Link(1),
		Comment: raw.Link(2),
		Inverse: raw.Link(3),
		Refs:    raw.Links[4 : 4+refCount],
		CCType:  raw.Data[0],
		Flags:   binary.LittleEndian.Uint16(raw.Data[2:]),
		Min:     math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[8:])),
		Max:     math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[16:])),
	}
	cc.Params = make([]float64, valCount)
	for i := range cc.Params {
		cc.Params[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[24+i*8:]))
	}
	return cc, nil
}

func (c *CCBlock) Encode(b *Builder) int64 {
	links := make([]int64, 4+len(c.Refs))
	links[0] = c.Name
	links[1] = c.Unit
	links[2] = c.Comment
	links[3] = c.Inverse
	copy(links[4:], c.Refs)

	data := make([]byte, 24+len(c.Params)*8)
	data[0] = c.CCType
	binary.LittleEndian.PutUint16(data[2:], c.Flags)
	binary.LittleEndian.PutUint16(data[4:], uint16(len(c.Refs)))
	binary.LittleEndian.PutUint16(data[6:], uint16(len(c.Params)))
	binary.LittleEndian.PutUint64(data[8:], math.Float64bits(c.Min))
	binary.LittleEndian.PutUint64(data[16:], math.Float64bits(c.Max))
	for i, p := range c.Params {
		binary.LittleEndian.PutUint64(data[24+i*8:], math.Float64bits(p))
	}
	return b.BlockV4(TagCC, links, data)
}

// SIBlock is the v4 source information block.
type SIBlock struct {
	Name       int64
	Path       int64
	Comment    int64
	SourceType uint8
	BusType    uint8
	Flags      uint8
}

func ParseSI(raw *RawBlock) (*SIBlock, error) {
	if len(raw.Data) < 8 {
		return nil, truncated(raw, 8)
	}
	return &SIBlock{
		Name:       raw.Link(0),
		Path:       raw.Link(1),
		Comment:    raw.Link(2),
		SourceType: raw.Data[0],
		BusType:    raw.Data[1],
		Flags:      raw.Data[2],
	}, nil
}

func (s *SIBlock) Encode(b *Builder) int64 {
	data := make([]byte, 8)
	data[0] = s.SourceType
	data[1] = s.BusType
	data[2] = s.Flags
	return b.BlockV4(TagSI, []int64{s.Name, s.Path, s.Comment}, data)
}

// DZBlock is a deflate-compressed data block.
type DZBlock struct {
	OrgTag     string // "DT", "SD", ...
	ZipType    uint8  // 0 = deflate
	OrgLength  uint64
	Compressed []byte
}

func ParseDZ(raw *RawBlock) (*DZBlock, error) {
	if len(raw.Data) < 24 {
		return nil, truncated(raw, 24)
	}
	compLen := binary.LittleEndian.Uint64(raw.Data[16:])
	if uint64(len(raw.Data)-24) < compLen {
		return nil, truncated(raw, 24+int(compLen))
	}
	return &DZBlock{
		OrgTag:     string(raw.Data[0:2]),
		ZipType:    raw.Data[2],
		OrgLength:  binary.LittleEndian.Uint64(raw.Data[8:]),
		Compressed: raw.Data[24 : 24+compLen],
	}, nil
}

func (d *DZBlock) Encode(b *Builder) int64 {
	data := make([]byte, 24+len(d.Compressed))
	copy(data[0:2], d.OrgTag)
	data[2] = d.ZipType
	binary.LittleEndian.PutUint64(data[8:], d.OrgLength)
	binary.LittleEndian.PutUint64(data[16:], uint64(len(d.Compressed)))
	copy(data[24:], d.Compressed)
	return b.BlockV4(TagDZ, nil, data)
}

// Inflate decompresses the block payload using the supplied
// decompressor (zlib for zip type 0).
func (d *DZBlock) Inflate(dec core.Compressor) ([]byte, error) {
	r, err := dec.Decompress(d.Compressed)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != d.OrgLength {
		return nil, &core.FormatError{Block: TagDZ, Message: fmt.Sprintf(
			"decompressed to %d bytes, expected %d", len(out), d.OrgLength)}
	}
	return out, nil
}

// DLBlock chains split data blocks.
type DLBlock struct {
	NextDL  int64
	Blocks  []int64
	Flags   uint8
	Offsets []uint64
}

func ParseDL(raw *RawBlock) (*DLBlock, error) {
	if len(raw.Data) < 8 {
		return nil, truncated(raw, 8)
	}
	count := int(binary.LittleEndian.Uint32(raw.Data[4:]))
	if len(raw.Links) < 1+count {
		return nil, &core.FormatError{Address: raw.Address, Block: raw.Tag, Message: fmt.Sprintf(
			"data list declares %d blocks but the block has %d links", count, len(raw.Links))}
	}
	dl := &DLBlock{
		NextDL: raw.Link(0),
		Blocks: raw.Links[1 : 1+count],
		Flags:  raw.Data[0],
	}
	if len(raw.Data) >= 8+count*8 {
		dl.Offsets = make([]uint64, count)
		for i := range dl.Offsets {
			dl.Offsets[i] = binary.LittleEndian.Uint64(raw.Data[8+i*8:])
		}
	}
	return dl, nil
}

func (d *DLBlock) Encode(b *Builder) int64 {
	links := make([]int64, 1+len(d.Blocks))
	links[0] = d.NextDL
	copy(links[1:], d.Blocks)
	data := make([]byte, 8+len(d.Offsets)*8)
	data[0] = d.Flags
	binary.LittleEndian.PutUint32(data[4:], uint32(len(d.Blocks)))
	for i, off := range d.Offsets {
		binary.LittleEndian.PutUint64(data[8+i*8:], off)
	}
	return b.BlockV4(TagDL, links, data)
}

// HLBlock fronts a DL chain of compressed blocks.
type HLBlock struct {
	FirstDL int64
	Flags   uint16
	ZipType uint8
}

func ParseHL(raw *RawBlock) (*HLBlock, error) {
	if len(raw.Data) < 8 {
		return nil, truncated(raw, 8)
	}
	return &HLBlock{
		FirstDL: raw.Link(0),
		Flags:   binary.LittleEndian.Uint16(raw.Data[0:]),
		ZipType: raw.Data[2],
	}, nil
}

func (h *HLBlock) Encode(b *Builder) int64 {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], h.Flags)
	data[2] = h.ZipType
	return b.BlockV4(TagHL, []int64{h.FirstDL}, data)
}

func truncated(raw *RawBlock, want int) error {
	return &core.FormatError{Address: raw.Address, Block: raw.Tag, Message: fmt.Sprintf(
		"block payload is %d bytes, need at least %d", len(raw.Data), want)}
}
