package core

import "fmt"

// Source identifies where a channel or channel group was acquired from.
type Source struct {
	Name    string
	Path    string
	Comment string
	Bus     BusType
	// BusChannel is the 1-based bus channel index, 0 when unknown.
	BusChannel uint8
}

// Channel describes one field inside a fixed-size record. A channel may
// own component channels forming a tree (structures and arrays); the
// component list must be acyclic.
type Channel struct {
	Name    string
	Unit    string
	Comment string

	Type     ChannelType
	Sync     SyncType
	DataType ChannelDataType

	// ByteOffset and BitOffset locate the least significant bit of the
	// raw value inside the record. BitOffset is always in 0..7.
	ByteOffset int
	BitOffset  uint8
	BitCount   uint32
	ByteOrder  ByteOrder

	// InvalidationBit is the bit position inside the record's
	// invalidation bytes, or -1 when the channel carries no validity
	// information.
	InvalidationBit int

	Conversion ConversionRule
	Source     *Source

	// Components holds the child channels of a structure/array channel.
	Components []*Channel

	RangeValid bool
	Min, Max   float64
}

// RecordBits returns the highest bit index (exclusive) the channel
// occupies inside the record.
func (c *Channel) RecordBits() uint64 {
	return uint64(c.ByteOffset)*8 + uint64(c.BitOffset) + uint64(c.BitCount)
}

// ByteWidth returns the number of record bytes the raw value spans.
func (c *Channel) ByteWidth() int {
	return int((uint32(c.BitOffset) + c.BitCount + 7) / 8)
}

// ChannelGroup describes one fixed-size record layout and its cycle
// count. It is exclusively owned by its DataGroup.
type ChannelGroup struct {
	Comment string
	AcqName string
	Source  *Source

	// RecordSize is samples_byte_nr: the byte size of the sample part of
	// one record, invalidation bytes excluded.
	RecordSize        int
	InvalidationBytes int
	Cycles            uint64
	Flags             uint16
	RecordID          uint64

	Channels []*Channel
}

// MasterIndex returns the index of the master channel, or -1 when the
// group has no master. A group without master is valid; its signals are
// then indexed by integer position.
func (cg *ChannelGroup) MasterIndex() int {
	for i, ch := range cg.Channels {
		if ch.Type == ChMaster || ch.Type == ChVirtualMaster {
			return i
		}
	}
	return -1
}

// RecordTotalSize is the full byte span of one record including
// invalidation bytes.
func (cg *ChannelGroup) RecordTotalSize() int {
	return cg.RecordSize + cg.InvalidationBytes
}

// DataGroup owns one or more channel groups sharing one physical record
// stream.
type DataGroup struct {
	Comment       string
	ChannelGroups []*ChannelGroup
	// RecordIDSize is the per-record id prefix width in bytes (0, 1, 2,
	// 4 or 8); non-zero only for unsorted groups.
	RecordIDSize int
}

// Validate checks the group-level layout invariants: every channel must
// fit inside its group's record. A record larger than the computed
// layout is tolerated (trailing padding).
func (dg *DataGroup) Validate() error {
	for _, cg := range dg.ChannelGroups {
		limit := uint64(cg.RecordSize) * 8
		for i, ch := range cg.Channels {
			if ch.Type == ChVirtualMaster || ch.DataType == DTVLSDString {
				continue
			}
			if ch.RecordBits() > limit {
				return &FormatError{Message: fmt.Sprintf(
					"channel %q (index %d) spans %d bits but the record is only %d bits",
					ch.Name, i, ch.RecordBits(), limit)}
			}
		}
	}
	return nil
}

// Occurrence locates one channel inside the file: group index plus
// channel index.
type Occurrence struct {
	Group   int
	Channel int
}
