// Package busdb defines the message catalog consumed when decoding raw
// bus-frame recordings into per-message signal groups. A catalog maps a
// CAN or LIN frame identifier to the message definition describing how
// the payload bytes break into named signals.
package busdb

import (
	"fmt"
	"sort"
)

// SignalDef describes one signal inside a frame payload. Bit positions
// follow the usual dbc convention: StartBit counts from payload byte 0,
// bit 0 being the least significant bit of that byte.
type SignalDef struct {
	Name         string
	Unit         string
	Comment      string
	StartBit     uint32
	BitCount     uint32
	LittleEndian bool
	Signed       bool
	Scale        float64
	Offset       float64
}

// Physical extracts the signal from payload and applies the linear
// scaling. The second result is false when the payload is too short to
// hold the signal.
func (s *SignalDef) Physical(payload []byte) (float64, bool) {
	raw, ok := s.Raw(payload)
	if !ok {
		return 0, false
	}
	v := float64(raw)
	if s.Signed {
		v = float64(signExtend(uint64(raw), s.BitCount))
	}
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	return v*scale + s.Offset, true
}

// Raw extracts the unscaled bit field from payload.
func (s *SignalDef) Raw(payload []byte) (uint64, bool) {
	if s.BitCount == 0 || s.BitCount > 64 {
		return 0, false
	}
	end := s.StartBit + s.BitCount
	if int(end+7)/8 > len(payload) {
		return 0, false
	}
	var v uint64
	if s.LittleEndian {
		firstByte := s.StartBit / 8
		lastByte := (end - 1) / 8
		for i := int(lastByte); i >= int(firstByte); i-- {
			v = v<<8 | uint64(payload[i])
		}
		v >>= s.StartBit % 8
	} else {
		// Motorola: msb-first walk from StartBit
		for n := uint32(0); n < s.BitCount; n++ {
			idx := s.StartBit + n
			v = v<<1 | uint64(payload[idx/8]>>(7-idx%8)&1)
		}
	}
	if s.BitCount < 64 {
		v &= 1<<s.BitCount - 1
	}
	return v, true
}

func signExtend(v uint64, bits uint32) int64 {
	if bits == 0 || bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// Message is one catalog entry: a frame identifier and its payload
// layout.
type Message struct {
	ID       uint32
	Extended bool
	IsJ1939  bool
	Name     string
	Length   int
	Comment  string
	Signals  []SignalDef
}

// Key returns the lookup key for the message, PGN-folded for J1939
// frames.
func (m *Message) Key() uint32 {
	if m.IsJ1939 {
		return J1939PGN(m.ID)
	}
	return m.ID
}

// J1939PGN folds a 29-bit arbitration identifier to its parameter group
// number. For PDU1 frames (PF < 240) the destination address byte is
// masked out so every destination maps to the same group.
func J1939PGN(id uint32) uint32 {
	pgn := id >> 8 & 0x3FF00
	pf := id >> 16 & 0xFF
	if pf >= 240 {
		pgn += id >> 8 & 0xFF
	}
	return pgn
}

// Catalog resolves frame identifiers to message definitions.
type Catalog interface {
	// Lookup resolves a raw arbitration id. Implementations fold J1939
	// ids themselves when folding applies.
	Lookup(id uint32) (*Message, bool)
	// Messages lists every definition, sorted by identifier.
	Messages() []*Message
}

// StaticCatalog is an in-memory Catalog built from explicit message
// definitions.
type StaticCatalog struct {
	byKey map[uint32]*Message
	j1939 bool
}

// NewStaticCatalog indexes the given messages. Duplicate keys are an
// error so a typo in a hand-built catalog fails loudly.
func NewStaticCatalog(messages ...*Message) (*StaticCatalog, error) {
	c := &StaticCatalog{byKey: make(map[uint32]*Message, len(messages))}
	for _, m := range messages {
		key := m.Key()
		if prev, ok := c.byKey[key]; ok {
			return nil, fmt.Errorf("messages %q and %q share identifier 0x%X", prev.Name, m.Name, key)
		}
		c.byKey[key] = m
		if m.IsJ1939 {
			c.j1939 = true
		}
	}
	return c, nil
}

func (c *StaticCatalog) Lookup(id uint32) (*Message, bool) {
	if m, ok := c.byKey[id]; ok {
		return m, true
	}
	if c.j1939 {
		if m, ok := c.byKey[J1939PGN(id)]; ok {
			return m, true
		}
	}
	return nil, false
}

func (c *StaticCatalog) Messages() []*Message {
	out := make([]*Message, 0, len(c.byKey))
	for _, m := range c.byKey {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Filter restricts a catalog's message decode to a channel subset. A
// nil or empty Filter admits every signal.
type Filter struct {
	names map[string]struct{}
}

func NewFilter(names ...string) *Filter {
	if len(names) == 0 {
		return nil
	}
	f := &Filter{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.names[n] = struct{}{}
	}
	return f
}

func (f *Filter) Admits(name string) bool {
	if f == nil || len(f.names) == 0 {
		return true
	}
	_, ok := f.names[name]
	return ok
}
