// Package blocks implements the bit-exact block codec for both MDF
// physical families: pre-4.00 (2-byte tags, 16-bit block sizes, 32-bit
// absolute links) and 4.00+ ("##XX" tags, 64-bit sizes and links). All
// multi-byte integers are little-endian.
package blocks

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/nexusmdf/core"
)

const (
	// IDBlockSize is the fixed size of the identification block at
	// file offset 0 in every version family.
	IDBlockSize = 64
	// headerSizeV4 is the fixed part of a v4 block: tag, reserved,
	// length, link count.
	headerSizeV4 = 24
	// headerSizeV3 is tag plus 16-bit size.
	headerSizeV3 = 4
)

// v4 block tags.
const (
	TagHD = "##HD"
	TagFH = "##FH"
	TagDG = "##DG"
	TagCG = "##CG"
	TagCN = "##CN"
	TagCC = "##CC"
	TagSI = "##SI"
	TagTX = "##TX"
	TagMD = "##MD"
	TagDT = "##DT"
	TagDZ = "##DZ"
	TagDL = "##DL"
	TagHL = "##HL"
	TagSD = "##SD"
)

// v3 block tags.
const (
	TagV3HD = "HD"
	TagV3DG = "DG"
	TagV3CG = "CG"
	TagV3CN = "CN"
	TagV3CC = "CC"
	TagV3TX = "TX"
)

// RawBlock is one decoded block frame: its tag, its file address, the
// link table (v4 only; v3 links are embedded in Data) and the payload
// after the links.
type RawBlock struct {
	Tag     string
	Address int64
	Links   []int64
	Data    []byte
}

// Link returns link i, or 0 when the table is shorter. Zero is the
// valid "absent" sentinel, never an error.
func (b *RawBlock) Link(i int) int64 {
	if i < 0 || i >= len(b.Links) {
		return 0
	}
	return b.Links[i]
}

// Reader wraps a random-access stream with bounds-checked reads that
// surface FormatError instead of io errors on truncation.
type Reader struct {
	src  io.ReaderAt
	size int64
}

func NewReader(src io.ReaderAt, size int64) *Reader {
	return &Reader{src: src, size: size}
}

func (r *Reader) Size() int64 { return r.size }

func (r *Reader) ReadAt(addr int64, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+int64(n) > r.size {
		return nil, &core.FormatError{Address: addr, Message: fmt.Sprintf(
			"read of %d bytes exceeds the %d byte stream", n, r.size)}
	}
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, addr); err != nil {
		return nil, &core.FormatError{Address: addr, Message: fmt.Sprintf("read failed: %v", err)}
	}
	return buf, nil
}

// ReadV4 decodes the v4 block at addr. expected is the required tag;
// empty accepts any known tag. Declared lengths beyond the stream are a
// FormatError.
func (r *Reader) ReadV4(addr int64, expected string) (*RawBlock, error) {
	hdr, err := r.ReadAt(addr, headerSizeV4)
	if err != nil {
		return nil, err
	}
	tag := string(hdr[:4])
	if expected != "" && tag != expected {
		return nil, &core.FormatError{Address: addr, Block: expected, Message: fmt.Sprintf(
			"expected %s block, found %q", expected, tag)}
	}
	if tag[0] != '#' || tag[1] != '#' {
		return nil, &core.FormatError{Address: addr, Message: fmt.Sprintf("invalid block tag %q", tag)}
	}
	length := int64(binary.LittleEndian.Uint64(hdr[8:]))
	linkNr := int64(binary.LittleEndian.Uint64(hdr[16:]))
	if length < headerSizeV4+linkNr*8 || addr+length > r.size {
		return nil, &core.FormatError{Address: addr, Block: tag, Message: fmt.Sprintf(
			"declared length %d exceeds the stream or the link table", length)}
	}

	body, err := r.ReadAt(addr+headerSizeV4, int(length-headerSizeV4))
	if err != nil {
		return nil, err
	}
	links := make([]int64, linkNr)
	for i := range links {
		links[i] = int64(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return &RawBlock{
		Tag:     tag,
		Address: addr,
		Links:   links,
		Data:    body[linkNr*8:],
	}, nil
}

// ReadV3 decodes the v3 block at addr. v3 headers carry only a 2-byte
// tag and a 16-bit total size; links live inside Data.
func (r *Reader) ReadV3(addr int64, expected string) (*RawBlock, error) {
	hdr, err := r.ReadAt(addr, headerSizeV3)
	if err != nil {
		return nil, err
	}
	tag := string(hdr[:2])
	if expected != "" && tag != expected {
		return nil, &core.FormatError{Address: addr, Block: expected, Message: fmt.Sprintf(
			"expected %s block, found %q", expected, tag)}
	}
	size := int64(binary.LittleEndian.Uint16(hdr[2:]))
	if size < headerSizeV3 || addr+size > r.size {
		return nil, &core.FormatError{Address: addr, Block: tag, Message: fmt.Sprintf(
			"declared length %d exceeds the stream", size)}
	}
	data, err := r.ReadAt(addr+headerSizeV3, int(size-headerSizeV3))
	if err != nil {
		return nil, err
	}
	return &RawBlock{Tag: tag, Address: addr, Data: data}, nil
}

// Builder assembles a file image block by block, returning the address
// of everything it writes so links can be resolved leaf-first.
type Builder struct {
	buf bytes.Buffer
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Pos() int64 { return int64(b.buf.Len()) }

func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Raw appends p as-is and returns its address.
func (b *Builder) Raw(p []byte) int64 {
	addr := b.Pos()
	b.buf.Write(p)
	return addr
}

// align8 pads to the 8-byte alignment v4 blocks require.
func (b *Builder) align8() {
	for b.buf.Len()%8 != 0 {
		b.buf.WriteByte(0)
	}
}

// BlockV4 appends a v4 block and returns its address.
func (b *Builder) BlockV4(tag string, links []int64, data []byte) int64 {
	b.align8()
	addr := b.Pos()
	var hdr [headerSizeV4]byte
	copy(hdr[:4], tag)
	binary.LittleEndian.PutUint64(hdr[8:], uint64(headerSizeV4+len(links)*8+len(data)))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(len(links)))
	b.buf.Write(hdr[:])
	var link [8]byte
	for _, l := range links {
		binary.LittleEndian.PutUint64(link[:], uint64(l))
		b.buf.Write(link[:])
	}
	b.buf.Write(data)
	return addr
}

// BlockV3 appends a v3 block and returns its address.
func (b *Builder) BlockV3(tag string, data []byte) int64 {
	addr := b.Pos()
	var hdr [headerSizeV3]byte
	copy(hdr[:2], tag)
	binary.LittleEndian.PutUint16(hdr[2:], uint16(headerSizeV3+len(data)))
	b.buf.Write(hdr[:])
	b.buf.Write(data)
	return addr
}

// TextV4 appends a ##TX block holding s. Empty text returns the absent
// link sentinel 0.
func (b *Builder) TextV4(s string) int64 {
	return b.textV4(TagTX, s)
}

// MetaV4 appends a ##MD block holding s (XML metadata), 0 when empty.
func (b *Builder) MetaV4(s string) int64 {
	return b.textV4(TagMD, s)
}

func (b *Builder) textV4(tag, s string) int64 {
	if s == "" {
		return 0
	}
	data := append([]byte(s), 0)
	return b.BlockV4(tag, nil, data)
}

// TextV3 appends a TX block holding s, 0 when empty.
func (b *Builder) TextV3(s string) int64 {
	if s == "" {
		return 0
	}
	return b.BlockV3(TagV3TX, append([]byte(s), 0))
}

// ReadTextV4 resolves a TX/MD link to its string; 0 yields "".
func (r *Reader) ReadTextV4(addr int64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	blk, err := r.ReadV4(addr, "")
	if err != nil {
		return "", err
	}
	if blk.Tag != TagTX && blk.Tag != TagMD {
		return "", &core.FormatError{Address: addr, Message: fmt.Sprintf(
			"expected text block, found %q", blk.Tag)}
	}
	return cstring(blk.Data), nil
}

// ReadTextV3 resolves a v3 TX link to its string; 0 yields "".
func (r *Reader) ReadTextV3(addr int64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	blk, err := r.ReadV3(addr, TagV3TX)
	if err != nil {
		return "", err
	}
	return cstring(blk.Data), nil
}

func cstring(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(bytes.TrimRight(raw, " "))
}

// fixedText writes s into a fixed-width NUL padded field.
func fixedText(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
