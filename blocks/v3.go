package blocks

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/nexusmdf/core"
)

// v3 channel data type codes.
const (
	DT3UintLE uint16 = iota
	DT3SintLE
	DT3FloatLE
	DT3DoubleLE
	_
	_
	_
	DT3String
	DT3ByteArray
	DT3UintBE
	DT3SintBE
	DT3FloatBE
	DT3DoubleBE
)

// v3 conversion type codes.
const (
	CC3Linear    uint16 = 0
	CC3TabInterp uint16 = 1
	CC3Tab       uint16 = 2
	CC3Rational  uint16 = 6
	CC3Formula   uint16 = 10
	CC3VTab      uint16 = 11
	CC3VTabRange uint16 = 12
	CC3Identity  uint16 = 65535
)

// HDBlockV3 is the pre-4.00 header block.
type HDBlockV3 struct {
	FirstDG   int64
	Comment   int64
	Date      string // "DD:MM:YYYY"
	Time      string // "HH:MM:SS"
	Author    string
	Org       string
	Project   string
	Subject   string
	StartNS   uint64 // 3.20+ only, 0 otherwise
	TZOffsetH uint16
}

func ParseHDV3(raw *RawBlock) (*HDBlockV3, error) {
	if len(raw.Data) < 160 {
		return nil, truncated(raw, 160)
	}
	d := raw.Data
	hd := &HDBlockV3{
		FirstDG: int64(binary.LittleEndian.Uint32(d[0:])),
		Comment: int64(binary.LittleEndian.Uint32(d[4:])),
		Date:    cstring(d[14:24]),
		Time:    cstring(d[24:32]),
		Author:  cstring(d[32:64]),
		Org:     cstring(d[64:96]),
		Project: cstring(d[96:128]),
		Subject: cstring(d[128:160]),
	}
	if len(d) >= 170 {
		hd.StartNS = binary.LittleEndian.Uint64(d[160:])
		hd.TZOffsetH = binary.LittleEndian.Uint16(d[168:])
	}
	return hd, nil
}

func (h *HDBlockV3) Encode(b *Builder, full bool) int64 {
	n := 160
	if full {
		n = 204 // 3.30 layout with absolute time and timer id
	}
	d := make([]byte, n)
	binary.LittleEndian.PutUint32(d[0:], uint32(h.FirstDG))
	binary.LittleEndian.PutUint32(d[4:], uint32(h.Comment))
	fixedText(d[14:24], h.Date)
	fixedText(d[24:32], h.Time)
	fixedText(d[32:64], h.Author)
	fixedText(d[64:96], h.Org)
	fixedText(d[96:128], h.Project)
	fixedText(d[128:160], h.Subject)
	if full {
		binary.LittleEndian.PutUint64(d[160:], h.StartNS)
		binary.LittleEndian.PutUint16(d[168:], h.TZOffsetH)
	}
	return b.BlockV3(TagV3HD, d)
}

// DGBlockV3 is the pre-4.00 data group block.
type DGBlockV3 struct {
	NextDG    int64
	FirstCG   int64
	Data      int64
	CGCount   uint16
	RecIDSize uint16
}

func ParseDGV3(raw *RawBlock) (*DGBlockV3, error) {
	if len(raw.Data) < 20 {
		return nil, truncated(raw, 20)
	}
	d := raw.Data
	return &DGBlockV3{
		NextDG:    int64(binary.LittleEndian.Uint32(d[0:])),
		FirstCG:   int64(binary.LittleEndian.Uint32(d[4:])),
		Data:      int64(binary.LittleEndian.Uint32(d[12:])),
		CGCount:   binary.LittleEndian.Uint16(d[16:]),
		RecIDSize: binary.LittleEndian.Uint16(d[18:]),
	}, nil
}

func (g *DGBlockV3) Encode(b *Builder) int64 {
	d := make([]byte, 24)
	binary.LittleEndian.PutUint32(d[0:], uint32(g.NextDG))
	binary.LittleEndian.PutUint32(d[4:], uint32(g.FirstCG))
	binary.LittleEndian.PutUint32(d[12:], uint32(g.Data))
	binary.LittleEndian.PutUint16(d[16:], g.CGCount)
	binary.LittleEndian.PutUint16(d[18:], g.RecIDSize)
	return b.BlockV3(TagV3DG, d)
}

// CGBlockV3 is the pre-4.00 channel group block.
type CGBlockV3 struct {
	NextCG        int64
	FirstCN       int64
	Comment       int64
	RecordID      uint16
	ChannelCount  uint16
	SamplesByteNr uint16
	Cycles        uint32
}

func ParseCGV3(raw *RawBlock) (*CGBlockV3, error) {
	if len(raw.Data) < 22 {
		return nil, truncated(raw, 22)
	}
	d := raw.Data
	return &CGBlockV3{
		NextCG:        int64(binary.LittleEndian.Uint32(d[0:])),
		FirstCN:       int64(binary.LittleEndian.Uint32(d[4:])),
		Comment:       int64(binary.LittleEndian.Uint32(d[8:])),
		RecordID:      binary.LittleEndian.Uint16(d[12:]),
		ChannelCount:  binary.LittleEndian.Uint16(d[14:]),
		SamplesByteNr: binary.LittleEndian.Uint16(d[16:]),
		Cycles:        binary.LittleEndian.Uint32(d[18:]),
	}, nil
}

func (c *CGBlockV3) Encode(b *Builder) int64 {
	d := make([]byte, 22)
	binary.LittleEndian.PutUint32(d[0:], uint32(c.NextCG))
	binary.LittleEndian.PutUint32(d[4:], uint32(c.FirstCN))
	binary.LittleEndian.PutUint32(d[8:], uint32(c.Comment))
	binary.LittleEndian.PutUint16(d[12:], c.RecordID)
	binary.LittleEndian.PutUint16(d[14:], c.ChannelCount)
	binary.LittleEndian.PutUint16(d[16:], c.SamplesByteNr)
	binary.LittleEndian.PutUint32(d[18:], c.Cycles)
	return b.BlockV3(TagV3CG, d)
}

// CNBlockV3 is the pre-4.00 channel block. The short name is embedded;
// long and display names are TX links appended in 2.12+/3.00+.
type CNBlockV3 struct {
	NextCN         int64
	Conversion     int64
	Comment        int64
	ChannelType    uint16 // 1 = master
	ShortName      string
	Description    string
	StartBitOffset uint16
	BitCount       uint16
	RawDataType    uint16
	RangeValid     bool
	Min, Max       float64
	SamplingRate   float64
	LongName       int64
	DisplayName    int64
	AddlByteOffset uint16
}

func ParseCNV3(raw *RawBlock) (*CNBlockV3, error) {
	if len(raw.Data) < 194 {
		return nil, truncated(raw, 194)
	}
	d := raw.Data
	cn := &CNBlockV3{
		NextCN:         int64(binary.LittleEndian.Uint32(d[0:])),
		Conversion:     int64(binary.LittleEndian.Uint32(d[4:])),
		Comment:        int64(binary.LittleEndian.Uint32(d[16:])),
		ChannelType:    binary.LittleEndian.Uint16(d[20:]),
		ShortName:      cstring(d[22:54]),
		Description:    cstring(d[54:182]),
		StartBitOffset: binary.LittleEndian.Uint16(d[182:]),
		BitCount:       binary.LittleEndian.Uint16(d[184:]),
		RawDataType:    binary.LittleEndian.Uint16(d[186:]),
		RangeValid:     binary.LittleEndian.Uint16(d[188:]) != 0,
	}
	if len(d) >= 214 {
		cn.Min = math.Float64frombits(binary.LittleEndian.Uint64(d[190:]))
		cn.Max = math.Float64frombits(binary.LittleEndian.Uint64(d[198:]))
		cn.SamplingRate = math.Float64frombits(binary.LittleEndian.Uint64(d[206:]))
	}
	if len(d) >= 224 {
		cn.LongName = int64(binary.LittleEndian.Uint32(d[214:]))
		cn.DisplayName = int64(binary.LittleEndian.Uint32(d[218:]))
		cn.AddlByteOffset = binary.LittleEndian.Uint16(d[222:])
	}
	return cn, nil
}

func (c *CNBlockV3) Encode(b *Builder) int64 {
	d := make([]byte, 224)
	binary.LittleEndian.PutUint32(d[0:], uint32(c.NextCN))
	binary.LittleEndian.PutUint32(d[4:], uint32(c.Conversion))
	binary.LittleEndian.PutUint32(d[16:], uint32(c.Comment))
	binary.LittleEndian.PutUint16(d[20:], c.ChannelType)
	fixedText(d[22:54], c.ShortName)
	fixedText(d[54:182], c.Description)
	binary.LittleEndian.PutUint16(d[182:], c.StartBitOffset)
	binary.LittleEndian.PutUint16(d[184:], c.BitCount)
	binary.LittleEndian.PutUint16(d[186:], c.RawDataType)
	if c.RangeValid {
		binary.LittleEndian.PutUint16(d[188:], 1)
	}
	binary.LittleEndian.PutUint64(d[190:], math.Float64bits(c.Min))
	binary.LittleEndian.PutUint64(d[198:], math.Float64bits(c.Max))
	binary.LittleEndian.PutUint64(d[206:], math.Float64bits(c.SamplingRate))
	binary.LittleEndian.PutUint32(d[214:], uint32(c.LongName))
	binary.LittleEndian.PutUint32(d[218:], uint32(c.DisplayName))
	binary.LittleEndian.PutUint16(d[222:], c.AddlByteOffset)
	return b.BlockV3(TagV3CN, d)
}

// DataTypeV3 maps a v3 data type code to the semantic type and order.
func DataTypeV3(code uint16) (core.ChannelDataType, core.ByteOrder, error) {
	switch code {
	case DT3UintLE:
		return core.DTUnsigned, core.LittleEndian, nil
	case DT3SintLE:
		return core.DTSigned, core.LittleEndian, nil
	case DT3FloatLE, DT3DoubleLE:
		return core.DTFloat, core.LittleEndian, nil
	case DT3String:
		return core.DTString, core.LittleEndian, nil
	case DT3ByteArray:
		return core.DTByteArray, core.LittleEndian, nil
	case DT3UintBE:
		return core.DTUnsigned, core.BigEndian, nil
	case DT3SintBE:
		return core.DTSigned, core.BigEndian, nil
	case DT3FloatBE, DT3DoubleBE:
		return core.DTFloat, core.BigEndian, nil
	}
	return 0, 0, &core.FormatError{Message: fmt.Sprintf("unsupported channel data type code %d", code)}
}

// DataTypeCodeV3 is the inverse of DataTypeV3.
func DataTypeCodeV3(t core.ChannelDataType, order core.ByteOrder) uint16 {
	switch t {
	case core.DTUnsigned:
		if order == core.BigEndian {
			return DT3UintBE
		}
		return DT3UintLE
	case core.DTSigned:
		if order == core.BigEndian {
			return DT3SintBE
		}
		return DT3SintLE
	case core.DTFloat:
		if order == core.BigEndian {
			return DT3DoubleBE
		}
		return DT3DoubleLE
	case core.DTString, core.DTVLSDString:
		return DT3String
	default:
		return DT3ByteArray
	}
}

// CCBlockV3 is the pre-4.00 conversion block. The unit is embedded;
// vtab texts are fixed 32-byte fields interleaved with their keys.
type CCBlockV3 struct {
	RangeValid bool
	Min, Max   float64
	Unit       string
	CCType     uint16
	Params     []float64
	Formula    string
	Texts      []string // CC3VTab / CC3VTabRange only
}

func ParseCCV3(raw *RawBlock) (*CCBlockV3, error) {
	if len(raw.Data) < 42 {
		return nil, truncated(raw, 42)
	}
	d := raw.Data
	cc := &CCBlockV3{
		RangeValid: binary.LittleEndian.Uint16(d[0:]) != 0,
		Min:        math.Float64frombits(binary.LittleEndian.Uint64(d[2:])),
		Max:        math.Float64frombits(binary.LittleEndian.Uint64(d[10:])),
		Unit:       cstring(d[18:38]),
		CCType:     binary.LittleEndian.Uint16(d[38:]),
	}
	refNr := int(binary.LittleEndian.Uint16(d[40:]))
	body := d[42:]
	switch cc.CCType {
	case CC3Formula:
		cc.Formula = cstring(body)
	case CC3VTab:
		if len(body) < refNr*40 {
			return nil, truncated(raw, 42+refNr*40)
		}
		cc.Params = make([]float64, refNr)
		cc.Texts = make([]string, refNr)
		for i := 0; i < refNr; i++ {
			cc.Params[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*40:]))
			cc.Texts[i] = cstring(body[i*40+8 : i*40+40])
		}
	case CC3VTabRange:
		if len(body) < refNr*20 {
			return nil, truncated(raw, 42+refNr*20)
		}
		// lower f64, upper f64, text link u32; the default text is the
		// first entry by convention
		cc.Params = make([]float64, 2*refNr)
		cc.Texts = make([]string, refNr)
		for i := 0; i < refNr; i++ {
			cc.Params[2*i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*20:]))
			cc.Params[2*i+1] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*20+8:]))
		}
	default:
		n := len(body) / 8
		if refNr > 0 && refNr <= n {
			n = refNr
		}
		cc.Params = make([]float64, n)
		for i := range cc.Params {
			cc.Params[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
		}
	}
	return cc, nil
}

func (c *CCBlockV3) Encode(b *Builder) int64 {
	var body []byte
	refNr := len(c.Params)
	switch c.CCType {
	case CC3Formula:
		body = append([]byte(c.Formula), 0)
		refNr = len(body)
	case CC3VTab:
		refNr = len(c.Texts)
		body = make([]byte, refNr*40)
		for i := 0; i < refNr; i++ {
			binary.LittleEndian.PutUint64(body[i*40:], math.Float64bits(c.Params[i]))
			fixedText(body[i*40+8:i*40+40], c.Texts[i])
		}
	default:
		body = make([]byte, len(c.Params)*8)
		for i, p := range c.Params {
			binary.LittleEndian.PutUint64(body[i*8:], math.Float64bits(p))
		}
	}

	d := make([]byte, 42+len(body))
	if c.RangeValid {
		binary.LittleEndian.PutUint16(d[0:], 1)
	}
	binary.LittleEndian.PutUint64(d[2:], math.Float64bits(c.Min))
	binary.LittleEndian.PutUint64(d[10:], math.Float64bits(c.Max))
	fixedText(d[18:38], c.Unit)
	binary.LittleEndian.PutUint16(d[38:], c.CCType)
	binary.LittleEndian.PutUint16(d[40:], uint16(refNr))
	copy(d[42:], body)
	return b.BlockV3(TagV3CC, d)
}
