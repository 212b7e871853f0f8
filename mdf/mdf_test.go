package mdf

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/config"
	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Engine.Spill.Dir = t.TempDir()
	return Options{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestMDF(t *testing.T, version core.FormatVersion) *MDF {
	t.Helper()
	m, err := New(version, testOptions(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func floatSignal(name string, ts, vals []float64) *core.Signal {
	return &core.Signal{Name: name, Samples: core.FloatSamples(vals), Timestamps: ts}
}

func uintSignal(name string, ts []float64, vals []uint64) *core.Signal {
	return &core.Signal{Name: name, Samples: core.UintSamples(vals, 32), Timestamps: ts}
}

func TestNewRejectsUnknownVersion(t *testing.T) {
	_, err := New(core.FormatVersion(999), testOptions(t))
	require.Error(t, err)
}

func TestAppendAndGet(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1, 2, 3}

	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("speed", ts, []float64{0, 10, 20, 30}),
		uintSignal("count", ts, []uint64{1, 2, 3, 4}),
	}))
	require.Equal(t, 1, m.GroupCount())

	speed, err := m.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20, 30}, speed.Samples.Floats)
	assert.Equal(t, ts, speed.Timestamps)

	count, err := m.Get("count")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, count.Samples.Uints)
}

func TestGetAppliesConversion(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1, 2}
	sig := uintSignal("temp", ts, []uint64{0, 10, 20})
	sig.Raw = true
	sig.Conversion = conversion.NewLinear(0.5, -40)
	sig.Unit = "degC"
	require.NoError(t, m.Append("acq", []*core.Signal{sig}))

	phys, err := m.Get("temp")
	require.NoError(t, err)
	require.Equal(t, core.KindFloat, phys.Samples.Kind)
	assert.Equal(t, []float64{-40, -35, -30}, phys.Samples.Floats)
	assert.False(t, phys.Raw)

	raw, err := m.GetRaw("temp")
	require.NoError(t, err)
	require.Equal(t, core.KindUint, raw.Samples.Kind)
	assert.Equal(t, []uint64{0, 10, 20}, raw.Samples.Uints)
	assert.True(t, raw.Raw)
}

func TestAppendRejectsMismatchedLengths(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	err := m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0, 1}, []float64{1, 2}),
		floatSignal("b", []float64{0, 1, 2}, []float64{1, 2, 3}),
	})
	require.Error(t, err)
}

func TestAppendRejectsEmpty(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.Error(t, m.Append("acq", nil))
}

func TestExtend(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0, 1}, []float64{1, 2}),
	}))
	require.NoError(t, m.Extend(0, []float64{2, 3}, []*core.Signal{
		{Name: "a", Samples: core.FloatSamples([]float64{3, 4})},
	}))

	sig, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, sig.Samples.Floats)
	assert.Equal(t, []float64{0, 1, 2, 3}, sig.Timestamps)
}

// TestExtendBypassesCachedColumn reads once before extending so the
// column lands in the cache, then checks the grown group is decoded
// fresh rather than served stale.
func TestExtendBypassesCachedColumn(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0, 1}, []float64{1, 2}),
	}))

	sig, err := m.Get("a")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, sig.Samples.Floats)

	require.NoError(t, m.Extend(0, []float64{2}, []*core.Signal{
		{Name: "a", Samples: core.FloatSamples([]float64{3})},
	}))
	sig, err = m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, sig.Samples.Floats)
}

// TestExtendGroupWithVirtualMaster grows a group whose master is
// virtual, the shape v4 files with implicit record indexes load as.
func TestExtendGroupWithVirtualMaster(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0, 1}, []float64{1, 2}),
		floatSignal("b", []float64{0, 1}, []float64{3, 4}),
	}))
	master := m.groups[0].ChannelGroup.Channels[0]
	master.Type = core.ChVirtualMaster
	master.DataType = core.DTUnsigned
	master.BitCount = 0
	m.groups[0].plan = nil
	require.NoError(t, m.reindex())

	require.NoError(t, m.Extend(0, []float64{2}, []*core.Signal{
		{Name: "a", Samples: core.FloatSamples([]float64{5})},
		{Name: "b", Samples: core.FloatSamples([]float64{6})},
	}))

	a, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 5}, a.Samples.Floats)
	b, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 6}, b.Samples.Floats)
	ts, err := m.GetMaster(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, ts)
}

func TestEngineCacheMetrics(t *testing.T) {
	opts := testOptions(t)
	met := NewMetrics(false, "")
	opts.Metrics = met
	m, err := New(core.V4_10, opts)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("v", []float64{0, 1}, []float64{1, 2}),
	}))
	_, err = m.Get("v")
	require.NoError(t, err)
	_, err = m.Get("v")
	require.NoError(t, err)

	assert.Equal(t, int64(1), met.CacheHits.Value())
	assert.Equal(t, int64(1), met.CacheMisses.Value())
}

// TestVLSDCorruptOffsetIsFormatError feeds a variable-length record
// whose offset would wrap the bounds arithmetic.
func TestVLSDCorruptOffsetIsFormatError(t *testing.T) {
	cg := &core.ChannelGroup{RecordSize: 8, Channels: []*core.Channel{{
		Name: "txt", Type: core.ChVLSD, DataType: core.DTVLSDString,
		BitCount: 64, InvalidationBit: -1,
	}}}
	g := &Group{ChannelGroup: cg, store: &recordStore{}}
	rec := make([]byte, 8)
	binary.LittleEndian.PutUint64(rec, math.MaxUint64-1)
	require.NoError(t, g.store.appendFragment(rec, 1))

	_, _, err := g.vlsdColumn(0, []byte{1, 0, 0, 0, 'x'})
	require.Error(t, err)
	assert.True(t, core.IsFormatError(err))
}

func TestExtendSignalCountMismatch(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0}, []float64{1}),
		floatSignal("b", []float64{0}, []float64{2}),
	}))
	err := m.Extend(0, []float64{1}, []*core.Signal{
		{Name: "a", Samples: core.FloatSamples([]float64{3})},
	})
	require.Error(t, err)
	assert.True(t, core.IsStructuralMismatch(err))
}

func TestWhereisAndAmbiguousResolve(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("one", []*core.Signal{
		floatSignal("dup", []float64{0, 1}, []float64{1, 2}),
	}))
	require.NoError(t, m.Append("two", []*core.Signal{
		floatSignal("dup", []float64{0, 1}, []float64{3, 4}),
	}))

	occs := m.Whereis("dup")
	require.Len(t, occs, 2)
	assert.Equal(t, core.Occurrence{Group: 0, Channel: 1}, occs[0])
	assert.Equal(t, core.Occurrence{Group: 1, Channel: 1}, occs[1])

	// bare name resolves to the first occurrence
	sig, err := m.Get("dup")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, sig.Samples.Floats)

	// a group qualifier picks the other one
	sig, err = m.GetSpec(ChannelSpec{Name: "dup", Group: 1, Index: -1}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, sig.Samples.Floats)
}

func TestGetUnknownChannel(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	_, err := m.Get("missing")
	require.ErrorIs(t, err, core.ErrChannelNotFound)
}

func TestGetCaseInsensitiveFallback(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1}
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("speed", ts, []float64{1, 2}),
	}))

	sig, err := m.Get("SPEED")
	require.NoError(t, err)
	assert.Equal(t, "speed", sig.Name)
	assert.Equal(t, []float64{1, 2}, sig.Samples.Floats)

	_, err = m.Get("sp eed")
	require.ErrorIs(t, err, core.ErrChannelNotFound)
}

func TestResolvePrefersExactCase(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1}
	require.NoError(t, m.Append("one", []*core.Signal{
		floatSignal("Speed", ts, []float64{1, 2}),
	}))
	require.NoError(t, m.Append("two", []*core.Signal{
		floatSignal("speed", ts, []float64{3, 4}),
	}))

	// an exact match never falls back to the folded scan
	sig, err := m.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, sig.Samples.Floats)

	// a folded lookup sees both and resolves to the first occurrence
	sig, err = m.Get("SPEED")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, sig.Samples.Floats)
}

func TestSelect(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1}
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", ts, []float64{1, 2}),
		floatSignal("b", ts, []float64{3, 4}),
	}))

	sigs, err := m.Select([]ChannelSpec{ByName("b"), ByName("a"), ByName("b")}, false)
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	assert.Equal(t, "b", sigs[0].Name)
	assert.Equal(t, "a", sigs[1].Name)

	// duplicate selections are independent copies
	sigs[0].Samples.Floats[0] = 99
	assert.Equal(t, float64(3), sigs[2].Samples.Floats[0])
}

func TestVirtualGroupsMergeByMaster(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	a := floatSignal("a", []float64{0, 1}, []float64{1, 2})
	a.MasterMeta = "t1"
	b := floatSignal("b", []float64{0, 1}, []float64{3, 4})
	b.MasterMeta = "t1"
	c := floatSignal("c", []float64{0, 1}, []float64{5, 6})
	c.MasterMeta = "t2"
	require.NoError(t, m.Append("g0", []*core.Signal{a}))
	require.NoError(t, m.Append("g1", []*core.Signal{b}))
	require.NoError(t, m.Append("g2", []*core.Signal{c}))

	vg := m.VirtualGroups()
	assert.Equal(t, []int{0, 1}, vg[0])
	assert.Equal(t, []int{2}, vg[2])
}

func TestGetMaster(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 0.5, 1}
	require.NoError(t, m.Append("acq", []*core.Signal{floatSignal("a", ts, []float64{1, 2, 3})}))

	got, err := m.GetMaster(0)
	require.NoError(t, err)
	assert.Equal(t, ts, got)

	_, err = m.GetMaster(5)
	require.Error(t, err)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{floatSignal("a", []float64{0}, []float64{1})}))
	require.NoError(t, m.Close())

	_, err := m.Get("a")
	require.ErrorIs(t, err, core.ErrEngineClosed)
	require.ErrorIs(t, m.Append("x", nil), core.ErrEngineClosed)
}

func TestIterChannels(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("a", []float64{0}, []float64{1}),
		floatSignal("b", []float64{0}, []float64{2}),
	}))

	var names []string
	m.IterChannels(func(occ core.Occurrence, ch *core.Channel) bool {
		names = append(names, ch.Name)
		return true
	})
	assert.Equal(t, []string{"time", "a", "b"}, names)
}
