package mdf

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

func scrambleFixture(t *testing.T) *MDF {
	t.Helper()
	m := newTestMDF(t, core.V4_10)
	m.SetHeader(Header{Comment: "secret project", Author: "jane"})

	ts := []float64{0, 1, 2}
	sig := uintSignal("EngineTorque", ts, []uint64{1, 2, 3})
	sig.Raw = true
	sig.Unit = "Nm"
	sig.Comment = "proprietary"
	sig.Conversion = conversion.NewValueToText([]float64{1, 2}, []string{"low", "high"}, "other")
	require.NoError(t, m.Append("rig A", []*core.Signal{sig}))
	return m
}

func TestScramblePreservesLengthsAndData(t *testing.T) {
	m := scrambleFixture(t)
	require.NoError(t, Scramble(m, rand.New(rand.NewSource(7))))

	h := m.Header()
	assert.Len(t, h.Comment, len("secret project"))
	assert.NotEqual(t, "secret project", h.Comment)
	assert.Len(t, h.Author, 4)

	g, err := m.Group(0)
	require.NoError(t, err)
	ch := g.ChannelGroup.Channels[1]
	assert.Len(t, ch.Name, len("EngineTorque"))
	assert.NotEqual(t, "EngineTorque", ch.Name)
	assert.Len(t, ch.Unit, 2)
	conv := ch.Conversion.(*conversion.Conversion)
	assert.Len(t, conv.Texts[0], 3)
	assert.Len(t, conv.DefaultText, 5)

	// sample data is untouched and reachable under the new name
	sig, err := m.GetRaw(ch.Name)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, sig.Samples.Uints)
}

func TestScrambleDeterministicPerSeed(t *testing.T) {
	a := scrambleFixture(t)
	b := scrambleFixture(t)
	require.NoError(t, Scramble(a, rand.New(rand.NewSource(42))))
	require.NoError(t, Scramble(b, rand.New(rand.NewSource(42))))

	ga, err := a.Group(0)
	require.NoError(t, err)
	gb, err := b.Group(0)
	require.NoError(t, err)
	assert.Equal(t, ga.ChannelGroup.Channels[1].Name, gb.ChannelGroup.Channels[1].Name)
	assert.Equal(t, a.Header().Comment, b.Header().Comment)
}

func TestRepairTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		in       []float64
		want     []float64
		repaired int
	}{
		{name: "clean", in: []float64{0, 1, 2}, want: []float64{0, 1, 2}, repaired: 0},
		{name: "nan", in: []float64{0, math.NaN(), 2}, want: []float64{0, 0, 2}, repaired: 1},
		{name: "backwards", in: []float64{0, 2, 1, 3}, want: []float64{0, 2, 2, 3}, repaired: 1},
		{name: "inf", in: []float64{0, math.Inf(1), 1}, want: []float64{0, 0, 1}, repaired: 1},
		{name: "leading nan", in: []float64{math.NaN(), 1}, want: []float64{0, 1}, repaired: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, n := repairTimestamps(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.repaired, n)
		})
	}
}

func TestCleanupTimestamps(t *testing.T) {
	m := newTestMDF(t, core.V4_10)
	require.NoError(t, m.Append("acq", []*core.Signal{
		floatSignal("v", []float64{0, 1, 0.5, 2}, []float64{10, 20, 30, 40}),
	}))

	out, summary, err := m.CleanupTimestamps(context.Background())
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Repaired[0])

	v, err := out.Get("v")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 2}, v.Timestamps)
	assert.Equal(t, []float64{10, 20, 30, 40}, v.Samples.Floats)
}
