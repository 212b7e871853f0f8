package core

// ByteOrder of a channel's raw encoding. MDF allows the order to differ
// per channel inside one record.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (b ByteOrder) String() string {
	if b == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

// ChannelDataType is the semantic type of a channel's raw values,
// normalized across the v3 and v4 on-disk encodings.
type ChannelDataType uint8

const (
	DTUnsigned ChannelDataType = iota
	DTSigned
	DTFloat
	DTString      // fixed-width latin/utf8 text, NUL padded
	DTByteArray   // opaque fixed-width bytes
	DTVLSDString  // variable length text stored out-of-line
	DTCANOpenDate // 7-byte CANopen date structure, decoded as bytes
	DTCANOpenTime // 6-byte CANopen time structure, decoded as bytes
)

func (t ChannelDataType) String() string {
	switch t {
	case DTUnsigned:
		return "unsigned"
	case DTSigned:
		return "signed"
	case DTFloat:
		return "float"
	case DTString:
		return "string"
	case DTByteArray:
		return "bytes"
	case DTVLSDString:
		return "vlsd-string"
	case DTCANOpenDate:
		return "canopen-date"
	case DTCANOpenTime:
		return "canopen-time"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether raw samples of this type decode to a numeric
// column.
func (t ChannelDataType) IsNumeric() bool {
	return t == DTUnsigned || t == DTSigned || t == DTFloat
}

// ChannelType distinguishes the roles a channel can play inside a group.
type ChannelType uint8

const (
	ChValue ChannelType = iota
	ChMaster
	ChVirtualMaster
	ChVLSD
	ChSync
)

// SyncType of a master channel.
type SyncType uint8

const (
	SyncNone SyncType = iota
	SyncTime
	SyncAngle
	SyncDistance
	SyncIndex
)
