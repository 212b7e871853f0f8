package mdf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/core"
)

func singleGroupFile(t *testing.T, ts, vals []float64) *MDF {
	t.Helper()
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{floatSignal("v", ts, vals)}))
	return m
}

func TestConcatenateEnforcesMonotonicity(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1, 2, 3, 4}, []float64{0, 1, 2, 3, 4})
	b := singleGroupFile(t, []float64{0, 1, 2}, []float64{10, 11, 12})

	out, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.NoError(t, err)
	defer out.Close()

	v, err := out.Get("v")
	require.NoError(t, err)
	require.Equal(t, 8, v.Len())
	// the second file starts past the first file's end, bumped by its
	// own sample delta
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, v.Timestamps)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 10, 11, 12}, v.Samples.Floats)
	for i := 1; i < v.Len(); i++ {
		assert.GreaterOrEqual(t, v.Timestamps[i], v.Timestamps[i-1])
	}
}

func TestConcatenateSingleSampleDelta(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{0, 1})
	b := singleGroupFile(t, []float64{0}, []float64{9})

	out, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.NoError(t, err)
	defer out.Close()

	v, err := out.Get("v")
	require.NoError(t, err)
	// a one-sample file has no delta of its own; 1ms is synthesized
	assert.InDelta(t, 1.001, v.Timestamps[2], 1e-9)
}

func TestConcatenateDirectTimestampContinuation(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{0, 1})
	// starts well past the first file's end: without the option the gap
	// would survive
	b := singleGroupFile(t, []float64{100, 101}, []float64{2, 3})

	out, err := Concatenate(context.Background(), []*MDF{a, b},
		ConcatOptions{DirectTimestampContinuation: true})
	require.NoError(t, err)
	defer out.Close()

	v, err := out.Get("v")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, v.Timestamps)
}

func TestConcatenateAddSamplesOrigin(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{0, 1})
	b := singleGroupFile(t, []float64{0, 1}, []float64{2, 3})

	out, err := Concatenate(context.Background(), []*MDF{a, b},
		ConcatOptions{AddSamplesOrigin: true})
	require.NoError(t, err)
	defer out.Close()

	origin, err := out.Get("__samples_origin")
	require.NoError(t, err)
	require.Equal(t, 4, origin.Len())
	// unnamed in-memory instances fall back to their index
	assert.Equal(t, []string{"file 0", "file 0", "file 1", "file 1"}, origin.Samples.Strings)
}

func TestConcatenateSync(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{0, 1})
	a.SetHeader(Header{StartTimeNS: 1_000_000_000})
	b := singleGroupFile(t, []float64{0, 1}, []float64{2, 3})
	b.SetHeader(Header{StartTimeNS: 3_000_000_000})

	out, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{Sync: true})
	require.NoError(t, err)
	defer out.Close()

	v, err := out.Get("v")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, v.Timestamps)
	assert.Equal(t, uint64(1_000_000_000), out.Header().StartTimeNS)
}

func TestConcatenateGroupCountMismatch(t *testing.T) {
	a := singleGroupFile(t, []float64{0}, []float64{1})
	b := newTestMDF(t, core.V4_10)
	require.NoError(t, b.Append("g0", []*core.Signal{floatSignal("v", []float64{0}, []float64{1})}))
	require.NoError(t, b.Append("g1", []*core.Signal{floatSignal("w", []float64{0}, []float64{2})}))

	_, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.Error(t, err)
	assert.True(t, core.IsStructuralMismatch(err))
}

func TestConcatenateChannelNameMismatch(t *testing.T) {
	a := singleGroupFile(t, []float64{0}, []float64{1})
	b := newTestMDF(t, core.V4_10)
	require.NoError(t, b.Append("acq", []*core.Signal{floatSignal("other", []float64{0}, []float64{1})}))

	_, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.Error(t, err)
	assert.True(t, core.IsStructuralMismatch(err))
}

func TestConcatenateRemapsByName(t *testing.T) {
	ts := []float64{0, 1}
	a := newTestMDF(t, core.V4_10)
	require.NoError(t, a.Append("acq", []*core.Signal{
		floatSignal("x", ts, []float64{1, 2}),
		floatSignal("y", ts, []float64{3, 4}),
	}))
	b := newTestMDF(t, core.V4_10)
	require.NoError(t, b.Append("acq", []*core.Signal{
		floatSignal("y", ts, []float64{7, 8}),
		floatSignal("x", ts, []float64{5, 6}),
	}))

	out, err := Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.NoError(t, err)
	defer out.Close()

	x, err := out.Get("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 5, 6}, x.Samples.Floats)
	y, err := out.Get("y")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 7, 8}, y.Samples.Floats)
}

func TestConcatenateStrictChannelOrder(t *testing.T) {
	ts := []float64{0, 1}
	opts := testOptions(t)
	opts.Config.Engine.StrictChannelOrder = true
	a, err := New(core.V4_10, opts)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Append("acq", []*core.Signal{
		floatSignal("x", ts, []float64{1, 2}),
		floatSignal("y", ts, []float64{3, 4}),
	}))
	b := newTestMDF(t, core.V4_10)
	require.NoError(t, b.Append("acq", []*core.Signal{
		floatSignal("y", ts, []float64{7, 8}),
		floatSignal("x", ts, []float64{5, 6}),
	}))

	_, err = Concatenate(context.Background(), []*MDF{a, b}, ConcatOptions{})
	require.Error(t, err)
	assert.True(t, core.IsStructuralMismatch(err))
}

func TestStack(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{1, 2})
	b := singleGroupFile(t, []float64{0, 1}, []float64{3, 4})

	out, err := Stack(context.Background(), []*MDF{a, b}, StackOptions{AddSamplesOrigin: true})
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 2, out.GroupCount())
	g0, err := out.Group(0)
	require.NoError(t, err)
	g1, err := out.Group(1)
	require.NoError(t, err)
	assert.Equal(t, "acq (file 0)", g0.ChannelGroup.AcqName)
	assert.Equal(t, "acq (file 1)", g1.ChannelGroup.AcqName)
}

func TestStackSync(t *testing.T) {
	a := singleGroupFile(t, []float64{0, 1}, []float64{1, 2})
	a.SetHeader(Header{StartTimeNS: 0})
	b := singleGroupFile(t, []float64{0, 1}, []float64{3, 4})
	b.SetHeader(Header{StartTimeNS: 5_000_000_000})

	out, err := Stack(context.Background(), []*MDF{a, b}, StackOptions{Sync: true})
	require.NoError(t, err)
	defer out.Close()

	ts1, err := out.GetMaster(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, ts1)
}
