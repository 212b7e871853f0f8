package mdf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/core"
)

// rampFile builds a single-group measurement: speed = 10*t over t=0..4.
func rampFile(t *testing.T) *MDF {
	t.Helper()
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1, 2, 3, 4}
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("speed", ts, []float64{0, 10, 20, 30, 40}),
		uintSignal("gear", ts, []uint64{1, 1, 2, 3, 3}),
	}))
	return m
}

func fptr(v float64) *float64 { return &v }

func TestCutWindow(t *testing.T) {
	m := rampFile(t)
	out, err := m.Cut(context.Background(), CutOptions{Start: fptr(1), Stop: fptr(3)})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, speed.Timestamps)
	assert.Equal(t, []float64{10, 20, 30}, speed.Samples.Floats)
}

func TestCutIncludeEndsSynthesizesBoundaries(t *testing.T) {
	m := rampFile(t)
	out, err := m.Cut(context.Background(), CutOptions{
		Start: fptr(0.5), Stop: fptr(2.5), IncludeEnds: true,
	})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 2, 2.5}, speed.Timestamps)
	assert.InDeltaSlice(t, []float64{5, 10, 20, 25}, speed.Samples.Floats, 1e-12)

	// integers hold the previous sample instead of interpolating
	gear, err := out.Get("gear")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 1, 2, 2}, gear.Samples.Uints)
}

func TestCutPartition(t *testing.T) {
	m := rampFile(t)
	ctx := context.Background()

	left, err := m.Cut(ctx, CutOptions{Stop: fptr(2)})
	require.NoError(t, err)
	defer left.Close()
	right, err := m.Cut(ctx, CutOptions{Start: fptr(2)})
	require.NoError(t, err)
	defer right.Close()

	l, err := left.Get("speed")
	require.NoError(t, err)
	r, err := right.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, l.Timestamps)
	assert.Equal(t, []float64{2, 3, 4}, r.Timestamps)
	// the two halves reproduce the original set, boundary sample duplicated
	assert.Equal(t, []float64{0, 10, 20}, l.Samples.Floats)
	assert.Equal(t, []float64{20, 30, 40}, r.Samples.Floats)
}

func TestCutTimeFromZero(t *testing.T) {
	m := rampFile(t)
	out, err := m.Cut(context.Background(), CutOptions{
		Start: fptr(2), Stop: fptr(4), TimeFromZero: true,
	})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, speed.Timestamps)
	assert.Equal(t, []float64{20, 30, 40}, speed.Samples.Floats)
}

func TestCutEmptyWindowKeepsGroup(t *testing.T) {
	m := rampFile(t)
	out, err := m.Cut(context.Background(), CutOptions{Start: fptr(10), Stop: fptr(20)})
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 1, out.GroupCount())
	g, err := out.Group(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), g.ChannelGroup.Cycles)

	speed, err := out.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, 0, speed.Len())
}

func TestResampleStep(t *testing.T) {
	m := rampFile(t)
	out, err := m.Resample(context.Background(), Raster{Step: 0.5})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	require.Equal(t, 9, speed.Len())
	assert.Equal(t, 0.0, speed.Timestamps[0])
	assert.Equal(t, 4.0, speed.Timestamps[8])
	assert.InDelta(t, 5.0, speed.Samples.Floats[1], 1e-12)
	for i := 1; i < len(speed.Timestamps); i++ {
		assert.Greater(t, speed.Timestamps[i], speed.Timestamps[i-1])
	}
}

func TestResampleExplicitTimes(t *testing.T) {
	m := rampFile(t)
	raster := []float64{0.25, 1.75, 3.5}
	out, err := m.Resample(context.Background(), Raster{Times: raster})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	// output timestamps are the supplied raster verbatim
	assert.Equal(t, raster, speed.Timestamps)
	assert.InDeltaSlice(t, []float64{2.5, 17.5, 35}, speed.Samples.Floats, 1e-12)
}

func TestResampleChannelRaster(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("fast", []*core.Signal{
		floatSignal("a", []float64{0, 0.5, 1, 1.5, 2}, []float64{0, 1, 2, 3, 4}),
	}))
	require.NoError(t, m.Append("slow", []*core.Signal{
		floatSignal("b", []float64{0, 2}, []float64{0, 20}),
	}))

	out, err := m.Resample(context.Background(), Raster{Channel: "a"})
	require.NoError(t, err)
	defer out.Close()

	b, err := out.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, b.Timestamps)
	assert.InDeltaSlice(t, []float64{0, 5, 10, 15, 20}, b.Samples.Floats, 1e-12)
}

// TestCutKeepsMasterOnlyGroup windows a group that carries nothing but
// its master: the group must survive so indices stay stable.
func TestCutKeepsMasterOnlyGroup(t *testing.T) {
	m := rampFile(t)
	g := m.groups[0]
	g.ChannelGroup.Channels = g.ChannelGroup.Channels[:1]
	g.plan = nil
	require.NoError(t, m.reindex())

	out, err := m.Cut(context.Background(), CutOptions{Start: fptr(1), Stop: fptr(3)})
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 1, out.GroupCount())
	ts, err := out.GetMaster(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, ts)

	// an empty window still keeps the group, with zero cycles
	empty, err := m.Cut(context.Background(), CutOptions{Start: fptr(50), Stop: fptr(60)})
	require.NoError(t, err)
	defer empty.Close()
	require.Equal(t, 1, empty.GroupCount())
	eg, err := empty.Group(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), eg.Cycles())
}

func TestResampleMasterlessGroupPassthrough(t *testing.T) {
	m := rampFile(t)
	// demote the master so the group is indexed by position only
	for _, ch := range m.groups[0].ChannelGroup.Channels {
		if ch.Type == core.ChMaster {
			ch.Type = core.ChValue
		}
	}
	require.NoError(t, m.reindex())

	out, err := m.Resample(context.Background(), Raster{Step: 0.5})
	require.NoError(t, err)
	defer out.Close()

	speed, err := out.Get("speed")
	require.NoError(t, err)
	// samples survive untouched instead of being interpolated onto a
	// half-step raster
	assert.Equal(t, []float64{0, 10, 20, 30, 40}, speed.Samples.Floats)
}

func TestResampleInvalidRaster(t *testing.T) {
	m := rampFile(t)
	_, err := m.Resample(context.Background(), Raster{})
	require.Error(t, err)
}

func TestFilterKeepsGroupAssociation(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	ts := []float64{0, 1}
	require.NoError(t, m.Append("g0", []*core.Signal{
		floatSignal("a", ts, []float64{1, 2}),
		floatSignal("b", ts, []float64{3, 4}),
	}))
	require.NoError(t, m.Append("g1", []*core.Signal{
		floatSignal("c", ts, []float64{5, 6}),
	}))

	out, err := m.Filter(context.Background(), []ChannelSpec{
		ByName("c"), ByName("a"), ByName("a"), // duplicate collapses
	})
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 2, out.GroupCount())
	a, err := out.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, a.Samples.Floats)
	c, err := out.Get("c")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, c.Samples.Floats)
	_, err = out.Get("b")
	require.ErrorIs(t, err, core.ErrChannelNotFound)
}

func TestConvertVersion(t *testing.T) {
	m := rampFile(t)
	out, err := m.ConvertVersion(context.Background(), core.V3_30)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, core.V3_30, out.Version())
	speed, err := out.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20, 30, 40}, speed.Samples.Floats)
}

func TestFlattenArraySignals(t *testing.T) {
	sig := &core.Signal{
		Name: "frame",
		Samples: core.RecordSamples([]core.Field{
			{Name: "x", Samples: core.FloatSamples([]float64{1, 2})},
			{Name: "y", Samples: core.FloatSamples([]float64{3, 4})},
		}),
		Timestamps: []float64{0, 1},
	}
	scalar := floatSignal("plain", []float64{0, 1}, []float64{5, 6})

	m := newTestMDF(t, core.V4_10)
	out := flattenArraySignals([]*core.Signal{sig, scalar}, m.logger)
	require.Len(t, out, 3)
	assert.Equal(t, "frame.x", out[0].Name)
	assert.Equal(t, []float64{1, 2}, out[0].Samples.Floats)
	assert.Equal(t, "frame.y", out[1].Name)
	assert.Equal(t, "plain", out[2].Name)
}

func TestAbortStopsOperation(t *testing.T) {
	m := rampFile(t)
	m.Abort()
	_, err := m.Cut(context.Background(), CutOptions{})
	require.ErrorIs(t, err, core.ErrAborted)

	// the flag is consumed; the instance stays usable
	out, err := m.Cut(context.Background(), CutOptions{})
	require.NoError(t, err)
	out.Close()
}

func TestProgressReported(t *testing.T) {
	opts := testOptions(t)
	var calls [][2]int
	opts.Progress = func(done, total int) { calls = append(calls, [2]int{done, total}) }
	m, err := New(core.V4_10, opts)
	require.NoError(t, err)
	defer m.Close()

	ts := []float64{0, 1}
	require.NoError(t, m.Append("g0", []*core.Signal{floatSignal("a", ts, []float64{1, 2})}))
	require.NoError(t, m.Append("g1", []*core.Signal{floatSignal("b", ts, []float64{3, 4})}))

	out, err := m.Cut(context.Background(), CutOptions{})
	require.NoError(t, err)
	out.Close()
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}
