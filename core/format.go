package core

// This file centralizes constants related to the MDF container format:
// magic strings, channel group flags and default sizes used across the
// engine.

// --- File magic ---
const (
	// FileMagic is the 8-byte identifier at offset 0 of a finalized file.
	FileMagic = "MDF     "
	// UnfinalizedMagic marks a recording that was interrupted mid-write.
	UnfinalizedMagic = "UnFinMF "
)

// --- Channel group flags (v4 flag word; synthesized for v3 groups) ---
const (
	FlagCGVLSD          uint16 = 1 << 0
	FlagCGBusEvent      uint16 = 1 << 1
	FlagCGPlainBusEvent uint16 = 1 << 2
	FlagCGRemoteMaster  uint16 = 1 << 3
)

// --- Bus types carried by an acquisition source ---
type BusType uint8

const (
	BusTypeNone BusType = iota
	BusTypeOther
	BusTypeCAN
	BusTypeLIN
	BusTypeMOST
	BusTypeFlexRay
	BusTypeKLine
	BusTypeEthernet
	BusTypeUSB
)

func (b BusType) String() string {
	switch b {
	case BusTypeCAN:
		return "CAN"
	case BusTypeLIN:
		return "LIN"
	case BusTypeFlexRay:
		return "FLEXRAY"
	case BusTypeEthernet:
		return "ETHERNET"
	case BusTypeNone:
		return "NONE"
	default:
		return "OTHER"
	}
}

// --- Default sizes ---
const (
	// DefaultWriteFragmentSize bounds the byte size of a single written
	// data fragment. Zero means unbounded single fragments.
	DefaultWriteFragmentSize = 4 * 1024 * 1024
	// MinReadFragmentSize is the floor for the adaptive read fragment size.
	MinReadFragmentSize = 1 * 1024 * 1024
	// MaxReadFragmentSize is the ceiling for the adaptive read fragment size.
	MaxReadFragmentSize = 64 * 1024 * 1024
)
