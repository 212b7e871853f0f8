package mdf

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/nexusmdf/blocks"
	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

// measurementFixture builds a measurement exercising the column kinds
// and metadata the codecs must carry.
func measurementFixture(t *testing.T, version core.FormatVersion) *MDF {
	t.Helper()
	m := newTestMDF(t, version)
	m.SetHeader(Header{
		Comment:     "bench run 42",
		Author:      "test rig",
		Project:     "dyno",
		Subject:     "engine",
		StartTimeNS: 1_700_000_000_000_000_000,
	})

	ts := []float64{0, 0.5, 1, 1.5}
	speed := floatSignal("speed", ts, []float64{0, 25, 50, 75})
	speed.Unit = "km/h"
	speed.Comment = "vehicle speed"

	temp := uintSignal("temp", ts, []uint64{0, 40, 80, 120})
	temp.Raw = true
	temp.Conversion = conversion.NewLinear(0.5, -40)
	temp.Unit = "degC"

	state := uintSignal("state", ts, []uint64{0, 1, 2, 1})
	state.Raw = true
	state.Conversion = conversion.NewValueToText(
		[]float64{0, 1, 2}, []string{"off", "idle", "run"}, "unknown")

	label := &core.Signal{
		Name:       "label",
		Samples:    core.StringSamples([]string{"aa", "bb", "cc", "dd"}),
		Timestamps: ts,
	}

	flagged := floatSignal("flagged", ts, []float64{1, 2, 3, 4})
	flagged.Invalid = roaring.BitmapOf(1, 3)

	require.NoError(t, m.Append("bench", []*core.Signal{speed, temp, state, label, flagged}))
	return m
}

func saveToTemp(t *testing.T, m *MDF) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.mf4")
	require.NoError(t, m.Save(context.Background(), path))
	return path
}

func assertFixtureContent(t *testing.T, m *MDF) {
	t.Helper()
	speed, err := m.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, speed.Timestamps)
	assert.Equal(t, []float64{0, 25, 50, 75}, speed.Samples.Floats)
	assert.Equal(t, "km/h", speed.Unit)

	tempRaw, err := m.GetRaw("temp")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 40, 80, 120}, tempRaw.Samples.Uints)
	tempPhys, err := m.Get("temp")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-40, -20, 0, 20}, tempPhys.Samples.Floats, 1e-12)

	state, err := m.Get("state")
	require.NoError(t, err)
	require.Equal(t, core.KindString, state.Samples.Kind)
	assert.Equal(t, []string{"off", "idle", "run", "idle"}, state.Samples.Strings)

	label, err := m.Get("label")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb", "cc", "dd"}, label.Samples.Strings)
}

func TestSaveOpenRoundTripV4(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	path := saveToTemp(t, src)

	m, err := Open(path, testOptions(t))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, core.V4_10, m.Version())
	assert.Equal(t, "bench run 42", m.Header().Comment)
	assert.Equal(t, uint64(1_700_000_000_000_000_000), m.Header().StartTimeNS)
	assertFixtureContent(t, m)

	flagged, err := m.Get("flagged")
	require.NoError(t, err)
	require.NotNil(t, flagged.Invalid)
	assert.Equal(t, []uint32{1, 3}, flagged.Invalid.ToArray())
}

func TestSaveOpenRoundTripV4Uncompressed(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Engine.Write.Compression = "none"
	src, err := New(core.V4_10, opts)
	require.NoError(t, err)
	defer src.Close()
	ts := []float64{0, 1, 2}
	require.NoError(t, src.Append("acq", []*core.Signal{
		floatSignal("v", ts, []float64{7, 8, 9}),
	}))
	path := saveToTemp(t, src)

	m, err := Open(path, testOptions(t))
	require.NoError(t, err)
	defer m.Close()
	v, err := m.Get("v")
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8, 9}, v.Samples.Floats)
}

func TestSaveOpenRoundTripV3(t *testing.T) {
	src := newTestMDF(t, core.V3_30)
	src.SetHeader(Header{
		Comment: "legacy capture",
		Author:  "rig",
		Project: "dyno",
		Subject: "engine",
	})
	ts := []float64{0, 1, 2}
	temp := uintSignal("temp", ts, []uint64{10, 20, 30})
	temp.Raw = true
	temp.Conversion = conversion.NewLinear(2, 1)
	temp.Unit = "K"
	require.NoError(t, src.Append("acq", []*core.Signal{
		floatSignal("speed", ts, []float64{5, 6, 7}),
		temp,
	}))
	path := saveToTemp(t, src)

	m, err := Open(path, testOptions(t))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, core.V3_30, m.Version())
	assert.Equal(t, "legacy capture", m.Header().Comment)
	assert.Equal(t, "rig", m.Header().Author)
	assert.Equal(t, "dyno", m.Header().Project)

	speed, err := m.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7}, speed.Samples.Floats)
	assert.Equal(t, ts, speed.Timestamps)

	raw, err := m.GetRaw("temp")
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30}, raw.Samples.Uints)
	phys, err := m.Get("temp")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{21, 41, 61}, phys.Samples.Floats, 1e-12)
	assert.Equal(t, "K", phys.Unit)
}

func TestWriteToMatchesOpenReader(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	var buf bytes.Buffer
	n, err := src.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)

	m, err := OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), testOptions(t))
	require.NoError(t, err)
	defer m.Close()
	assertFixtureContent(t, m)
}

// TestOpenUnfinalizedFile loads an interrupted recording: the block
// headers are intact, so the content must come back best effort.
func TestOpenUnfinalizedFile(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	img := buf.Bytes()
	copy(img[:8], "UnFinMF ")
	m, err := OpenReader(bytes.NewReader(img), int64(len(img)), testOptions(t))
	require.NoError(t, err)
	defer m.Close()
	assertFixtureContent(t, m)
}

// TestOpenUnfinalizedTruncated checks that an interrupted recording
// whose block chain really is cut short still fails cleanly.
func TestOpenUnfinalizedTruncated(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	img := buf.Bytes()
	copy(img[:8], "UnFinMF ")
	img = img[:len(img)/2]
	_, err = OpenReader(bytes.NewReader(img), int64(len(img)), testOptions(t))
	require.Error(t, err)
	assert.True(t, core.IsFormatError(err))
}

// TestSaveChannelsKeepsSignalDataOnOwner writes a group where a
// composite and a variable-length channel coexist: only the owning
// top-level channel may carry the signal-data link.
func TestSaveChannelsKeepsSignalDataOnOwner(t *testing.T) {
	b := blocks.NewBuilder()
	// mimic the identification block real save flows write first, so
	// block addresses never collide with the absent-link sentinel 0
	b.Raw(make([]byte, 64))
	g := &Group{sd: map[int][]byte{1: {4, 0, 0, 0, 'a', 'b', 'c', 'd'}}}
	channels := []*core.Channel{
		{Name: "frame", DataType: core.DTByteArray, BitCount: 128, InvalidationBit: -1,
			Components: []*core.Channel{
				{Name: "frame.x", DataType: core.DTFloat, BitCount: 64, InvalidationBit: -1},
				{Name: "frame.y", DataType: core.DTFloat, ByteOffset: 8, BitCount: 64, InvalidationBit: -1},
			}},
		{Name: "txt", Type: core.ChVLSD, DataType: core.DTVLSDString, ByteOffset: 16,
			BitCount: 64, InvalidationBit: -1},
	}

	c := &mdf4Codec{}
	first, err := c.saveChannels(b, g, channels)
	require.NoError(t, err)

	img := b.Bytes()
	r := blocks.NewReader(bytes.NewReader(img), int64(len(img)))

	rawFrame, err := r.ReadV4(first, blocks.TagCN)
	require.NoError(t, err)
	frame, err := blocks.ParseCN(rawFrame)
	require.NoError(t, err)
	assert.Zero(t, frame.Data)

	// neither component inherits the blob keyed to top-level index 1
	compAddr := frame.Composition
	for compAddr != 0 {
		raw, err := r.ReadV4(compAddr, blocks.TagCN)
		require.NoError(t, err)
		comp, err := blocks.ParseCN(raw)
		require.NoError(t, err)
		assert.Zero(t, comp.Data)
		compAddr = comp.NextCN
	}

	rawTxt, err := r.ReadV4(frame.NextCN, blocks.TagCN)
	require.NoError(t, err)
	txt, err := blocks.ParseCN(rawTxt)
	require.NoError(t, err)
	require.NotZero(t, txt.Data)
	rawSD, err := r.ReadV4(txt.Data, blocks.TagSD)
	require.NoError(t, err)
	assert.Equal(t, g.sd[1], rawSD.Data)
}

func TestOpenGzipInput(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.mf4.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	m, err := Open(path, testOptions(t))
	require.NoError(t, err)
	defer m.Close()
	assertFixtureContent(t, m)
}

func TestOpenZipInput(t *testing.T) {
	src := measurementFixture(t, core.V4_10)
	var raw bytes.Buffer
	_, err := src.WriteTo(&raw)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("not the measurement"))
	require.NoError(t, err)
	w, err = zw.Create("capture.mf4")
	require.NoError(t, err)
	_, err = w.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	m, err := Open(path, testOptions(t))
	require.NoError(t, err)
	defer m.Close()
	assertFixtureContent(t, m)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.mf4"), testOptions(t))
	require.Error(t, err)
}

func TestOpenGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.mf4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 256), 0o644))
	_, err := Open(path, testOptions(t))
	require.Error(t, err)
}
