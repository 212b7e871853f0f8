package record

import (
	"math"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/core"
)

func testGroup(t *testing.T, channels ...*core.Channel) *core.ChannelGroup {
	t.Helper()
	size := 0
	for _, ch := range channels {
		if end := int(ch.RecordBits()+7) / 8; end > size {
			size = end
		}
	}
	return &core.ChannelGroup{RecordSize: size, Channels: channels}
}

func TestBuildRejectsChannelBeyondRecord(t *testing.T) {
	cg := &core.ChannelGroup{
		RecordSize: 2,
		Channels: []*core.Channel{
			{Name: "too_wide", DataType: core.DTUnsigned, ByteOffset: 1, BitCount: 16, InvalidationBit: -1},
		},
	}
	_, err := Build(cg, nil)
	require.Error(t, err)
	assert.True(t, core.IsFormatError(err))
}

func TestDecodeUnsignedLittleEndian(t *testing.T) {
	cg := testGroup(t, &core.Channel{
		Name: "u16", DataType: core.DTUnsigned, BitCount: 16, InvalidationBit: -1,
	})
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	data := []byte{0x34, 0x12, 0xFF, 0x00}
	s, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1234, 0x00FF}, s.Uints)
}

func TestDecodeUnsignedBigEndian(t *testing.T) {
	cg := testGroup(t, &core.Channel{
		Name: "u16be", DataType: core.DTUnsigned, BitCount: 16,
		ByteOrder: core.BigEndian, InvalidationBit: -1,
	})
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	s, err := plan.DecodeChannel([]byte{0x12, 0x34}, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1234}, s.Uints)
}

func TestDecodeBitPackedFields(t *testing.T) {
	// one byte holding: bit0 flag, bits1-3 a 3-bit counter, bits4-7 unused
	flag := &core.Channel{Name: "flag", DataType: core.DTUnsigned, BitCount: 1, InvalidationBit: -1}
	counter := &core.Channel{Name: "counter", DataType: core.DTUnsigned, BitOffset: 1, BitCount: 3, InvalidationBit: -1}
	cg := testGroup(t, flag, counter)
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	// record 0: flag=1 counter=5 -> 0b1011; record 1: flag=0 counter=7 -> 0b1110
	data := []byte{0x0B, 0x0E}

	flags, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0}, flags.Uints)

	counters, err := plan.DecodeChannel(data, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7}, counters.Uints)
}

func TestDecodeSignedSignExtension(t *testing.T) {
	cg := testGroup(t, &core.Channel{
		Name: "s12", DataType: core.DTSigned, BitCount: 12, InvalidationBit: -1,
	})
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	// -1 in 12 bits is 0xFFF; +5 is 0x005
	data := []byte{0xFF, 0x0F, 0x05, 0x00}
	s, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 5}, s.Ints)
}

func TestDecodeFloats(t *testing.T) {
	f32 := &core.Channel{Name: "f32", DataType: core.DTFloat, BitCount: 32, InvalidationBit: -1}
	f64 := &core.Channel{Name: "f64", DataType: core.DTFloat, ByteOffset: 4, BitCount: 64, InvalidationBit: -1}
	cg := testGroup(t, f32, f64)
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	cols := []Column{
		{Samples: core.FloatSamples([]float64{1.5, -2.25})},
		{Samples: core.FloatSamples([]float64{math.Pi, -0.5})},
	}
	data, err := plan.Encode(cols)
	require.NoError(t, err)

	got32, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2.25}, got32.Floats)

	got64, err := plan.DecodeChannel(data, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{math.Pi, -0.5}, got64.Floats)
}

func TestDecodeStringsNulAndSpacePadded(t *testing.T) {
	cg := testGroup(t, &core.Channel{
		Name: "label", DataType: core.DTString, BitCount: 64, InvalidationBit: -1,
	})
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	data := append([]byte("abc\x00zzzz"), []byte("hi      ")...)
	s, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "hi"}, s.Strings)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	chans := []*core.Channel{
		{Name: "t", DataType: core.DTFloat, BitCount: 64, InvalidationBit: -1},
		{Name: "u8", DataType: core.DTUnsigned, ByteOffset: 8, BitCount: 8, InvalidationBit: -1},
		{Name: "s16", DataType: core.DTSigned, ByteOffset: 9, BitCount: 16, InvalidationBit: -1},
		{Name: "u32be", DataType: core.DTUnsigned, ByteOffset: 11, BitCount: 32, ByteOrder: core.BigEndian, InvalidationBit: -1},
		{Name: "blob", DataType: core.DTByteArray, ByteOffset: 15, BitCount: 24, InvalidationBit: -1},
	}
	cg := testGroup(t, chans...)
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	cols := []Column{
		{Samples: core.FloatSamples([]float64{0.5, 1.5, 2.5})},
		{Samples: core.UintSamples([]uint64{0, 127, 255}, 8)},
		{Samples: core.IntSamples([]int64{-300, 0, 300}, 16)},
		{Samples: core.UintSamples([]uint64{1, 1 << 20, 0xFFFFFFFF}, 32)},
		{Samples: core.ByteSamples([][]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})},
	}
	data, err := plan.Encode(cols)
	require.NoError(t, err)
	require.Len(t, data, 3*cg.RecordSize)

	for i, want := range cols {
		got, err := plan.DecodeChannel(data, i)
		require.NoError(t, err)
		assert.Equal(t, want.Samples, got, "channel %d", i)
	}
}

func TestInvalidationBitsRoundTrip(t *testing.T) {
	ch := &core.Channel{Name: "v", DataType: core.DTUnsigned, BitCount: 8, InvalidationBit: 2}
	cg := &core.ChannelGroup{RecordSize: 1, InvalidationBytes: 1, Channels: []*core.Channel{ch}}
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	inv := roaring.New()
	inv.AddMany([]uint32{1, 3})
	cols := []Column{{Samples: core.UintSamples([]uint64{9, 9, 9, 9}, 8), Invalid: inv}}
	data, err := plan.Encode(cols)
	require.NoError(t, err)
	require.Len(t, data, 4*2)

	got := plan.Invalidation(data, ch.InvalidationBit)
	require.NotNil(t, got)
	assert.True(t, got.Contains(1))
	assert.True(t, got.Contains(3))
	assert.False(t, got.Contains(0))
	assert.False(t, got.Contains(2))

	// the sample bytes themselves are untouched
	samples, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 9, 9, 9}, samples.Uints)
}

func TestCompositeChannelDecode(t *testing.T) {
	parent := &core.Channel{
		Name: "frame", DataType: core.DTByteArray, BitCount: 24, InvalidationBit: -1,
		Components: []*core.Channel{
			{Name: "frame.id", DataType: core.DTUnsigned, BitCount: 16, InvalidationBit: -1},
			{Name: "frame.dlc", DataType: core.DTUnsigned, ByteOffset: 2, BitCount: 8, InvalidationBit: -1},
		},
	}
	cg := testGroup(t, parent)
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	data := []byte{0x21, 0x43, 0x08}
	s, err := plan.DecodeChannel(data, 0)
	require.NoError(t, err)
	require.Equal(t, core.KindRecord, s.Kind)
	require.Len(t, s.Fields, 2)
	assert.Equal(t, []uint64{0x4321}, s.Fields[0].Samples.Uints)
	assert.Equal(t, []uint64{8}, s.Fields[1].Samples.Uints)
}

func TestMixedEndiannessInOneRecord(t *testing.T) {
	le := &core.Channel{Name: "le", DataType: core.DTUnsigned, BitCount: 16, InvalidationBit: -1}
	be := &core.Channel{Name: "be", DataType: core.DTUnsigned, ByteOffset: 2, BitCount: 16, ByteOrder: core.BigEndian, InvalidationBit: -1}
	cg := testGroup(t, le, be)
	plan, err := Build(cg, nil)
	require.NoError(t, err)

	cols := []Column{
		{Samples: core.UintSamples([]uint64{0xAABB}, 16)},
		{Samples: core.UintSamples([]uint64{0xCCDD}, 16)},
	}
	data, err := plan.Encode(cols)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB, 0xAA, 0xCC, 0xDD}, data)
}
