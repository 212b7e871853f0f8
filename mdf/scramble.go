package mdf

import (
	"context"
	"math"
	"math/rand"

	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

const scrambleCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Scramble replaces every text payload of the measurement with random
// characters of the same byte length: header fields, group and channel
// names, units, comments, source identifiers and conversion text
// tables. Sample data and the record layout are untouched, so a saved
// scrambled file keeps its block sizes. The random source is explicit;
// the same seed reproduces the same scrambling.
func Scramble(m *MDF, rnd *rand.Rand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	m.header.Comment = randText(rnd, m.header.Comment)
	m.header.Author = randText(rnd, m.header.Author)
	m.header.Project = randText(rnd, m.header.Project)
	m.header.Subject = randText(rnd, m.header.Subject)

	for _, g := range m.groups {
		g.Comment = randText(rnd, g.Comment)
		g.ChannelGroup.Comment = randText(rnd, g.ChannelGroup.Comment)
		g.ChannelGroup.AcqName = randText(rnd, g.ChannelGroup.AcqName)
		scrambleSource(rnd, g.ChannelGroup.Source)
		for _, ch := range g.ChannelGroup.Channels {
			scrambleChannel(rnd, ch)
		}
	}
	return m.reindex()
}

func scrambleChannel(rnd *rand.Rand, ch *core.Channel) {
	ch.Name = randText(rnd, ch.Name)
	ch.Unit = randText(rnd, ch.Unit)
	ch.Comment = randText(rnd, ch.Comment)
	scrambleSource(rnd, ch.Source)
	if conv, ok := ch.Conversion.(*conversion.Conversion); ok && conv != nil {
		conv.Unit = randText(rnd, conv.Unit)
		conv.Comment = randText(rnd, conv.Comment)
		for i, t := range conv.Texts {
			conv.Texts[i] = randText(rnd, t)
		}
		conv.DefaultText = randText(rnd, conv.DefaultText)
	}
	for _, comp := range ch.Components {
		scrambleChannel(rnd, comp)
	}
}

func scrambleSource(rnd *rand.Rand, s *core.Source) {
	if s == nil {
		return
	}
	s.Name = randText(rnd, s.Name)
	s.Path = randText(rnd, s.Path)
	s.Comment = randText(rnd, s.Comment)
}

func randText(rnd *rand.Rand, s string) string {
	if s == "" {
		return ""
	}
	out := make([]byte, len(s))
	for i := range out {
		out[i] = scrambleCharset[rnd.Intn(len(scrambleCharset))]
	}
	return string(out)
}

// CleanupSummary aggregates the per-group repair counts of
// CleanupTimestamps.
type CleanupSummary struct {
	// Repaired maps group index to the number of rewritten timestamps.
	Repaired map[int]int
	Total    int
}

// CleanupTimestamps returns a copy of the measurement with implausible
// master timestamps repaired: NaN, infinite and backwards-running
// values are clamped to the preceding timestamp. Repairs are tallied
// per group instead of raising, so one bad channel group never aborts
// the whole file.
func (m *MDF) CleanupTimestamps(ctx context.Context) (*MDF, *CleanupSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.CleanupTimestamps")
	defer span.End()
	_ = ctx

	out, err := m.child(m.version)
	if err != nil {
		return nil, nil, err
	}
	summary := &CleanupSummary{Repaired: make(map[int]int)}

	for gi, g := range m.groups {
		if m.aborted() {
			out.Close()
			return nil, nil, core.ErrAborted
		}
		ts, sigs, err := m.extractGroup(gi)
		if err != nil {
			out.Close()
			return nil, nil, err
		}
		repaired, n := repairTimestamps(ts)
		if n > 0 {
			summary.Repaired[gi] = n
			summary.Total += n
			m.logger.Warn("repaired implausible timestamps", "group", gi, "count", n)
		}
		if err := appendGroup(out, g, repaired, sigs); err != nil {
			out.Close()
			return nil, nil, err
		}
		m.reportProgress(gi+1, len(m.groups))
	}
	out.header = m.header
	return out, summary, nil
}

// repairTimestamps clamps non-finite and decreasing values to the last
// good timestamp and reports how many values were rewritten.
func repairTimestamps(ts []float64) ([]float64, int) {
	out := make([]float64, len(ts))
	copy(out, ts)
	repaired := 0
	last := math.Inf(-1)
	for i, t := range out {
		bad := math.IsNaN(t) || math.IsInf(t, 0) || t < last
		if bad {
			if math.IsInf(last, -1) {
				out[i] = 0
			} else {
				out[i] = last
			}
			repaired++
		}
		last = out[i]
	}
	return out, repaired
}
