package mdf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/INLOpen/nexusmdf/core"
)

// extractGroup decodes every channel of group gi into raw signals,
// master excluded. Callers hold at least the read lock.
func (m *MDF) extractGroup(gi int) ([]float64, []*core.Signal, error) {
	g := m.groups[gi]
	ts, err := g.master(m.logger)
	if err != nil {
		return nil, nil, err
	}
	masterIdx := g.ChannelGroup.MasterIndex()

	sigs := make([]*core.Signal, 0, len(g.ChannelGroup.Channels))
	for ci := range g.ChannelGroup.Channels {
		if ci == masterIdx {
			continue
		}
		sig, err := m.signalAt(core.Occurrence{Group: gi, Channel: ci}, true)
		if err != nil {
			return nil, nil, err
		}
		sigs = append(sigs, sig)
	}
	return ts, sigs, nil
}

// CutOptions bounds a cut. Nil Start/Stop leave that side open.
type CutOptions struct {
	Start *float64
	Stop  *float64
	// IncludeEnds synthesizes interpolated boundary samples when a
	// bound falls between two recorded timestamps.
	IncludeEnds bool
	// TimeFromZero shifts every output master to start at zero.
	TimeFromZero bool
}

// Cut returns a new measurement restricted to the given time window.
// Group structure, conversions and units are preserved; a group with no
// samples in the window survives with zero cycles.
func (m *MDF) Cut(ctx context.Context, opts CutOptions) (*MDF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.Cut")
	defer span.End()
	_ = ctx

	out, err := m.child(m.version)
	if err != nil {
		return nil, err
	}
	interp := m.cfg.InterpOptions()

	for gi, g := range m.groups {
		if m.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		ts, sigs, err := m.extractGroup(gi)
		if err != nil {
			out.Close()
			return nil, err
		}

		cutSigs := make([]*core.Signal, len(sigs))
		var cutTs []float64
		for i, sig := range sigs {
			withMaster := *sig
			withMaster.Timestamps = ts
			cut := withMaster.Cut(opts.Start, opts.Stop, opts.IncludeEnds, interp)
			cutSigs[i] = cut
			cutTs = cut.Timestamps
		}
		if len(sigs) == 0 {
			// master-only group: cut the window out of the raster itself
			probe := &core.Signal{Samples: core.FloatSamples(ts), Timestamps: ts}
			cutTs = probe.Cut(opts.Start, opts.Stop, opts.IncludeEnds, interp).Timestamps
		}
		if opts.TimeFromZero && len(cutTs) > 0 {
			base := cutTs[0]
			shifted := make([]float64, len(cutTs))
			for i, t := range cutTs {
				shifted[i] = t - base
			}
			for _, sig := range cutSigs {
				sig.Timestamps = shifted
			}
			cutTs = shifted
		}
		if err := appendGroup(out, g, cutTs, cutSigs); err != nil {
			out.Close()
			return nil, err
		}
		m.reportProgress(gi+1, len(m.groups))
	}
	out.header = m.header
	return out, nil
}

// Raster selects the resample target: exactly one field is set. Step
// spaces a fresh raster over each group's own span; Channel reuses the
// timestamps of a named channel; Times is an explicit raster.
type Raster struct {
	Step    float64
	Channel string
	Times   []float64
}

// Resample re-interpolates every group onto the raster.
func (m *MDF) Resample(ctx context.Context, raster Raster) (*MDF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.Resample")
	defer span.End()
	_ = ctx

	var fixed []float64
	switch {
	case raster.Channel != "":
		occ, err := m.resolve(ByName(raster.Channel))
		if err != nil {
			return nil, err
		}
		fixed, err = m.groups[occ.Group].master(m.logger)
		if err != nil {
			return nil, err
		}
	case len(raster.Times) > 0:
		fixed = raster.Times
	case raster.Step <= 0:
		return nil, fmt.Errorf("resample: raster step must be positive, got %g", raster.Step)
	}

	out, err := m.child(m.version)
	if err != nil {
		return nil, err
	}
	interp := m.cfg.InterpOptions()

	for gi, g := range m.groups {
		if m.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		ts, sigs, err := m.extractGroup(gi)
		if err != nil {
			out.Close()
			return nil, err
		}

		if g.ChannelGroup.MasterIndex() < 0 {
			m.logger.Warn("group has no master channel, resample passes it through", "group", gi)
			if err := appendGroup(out, g, ts, sigs); err != nil {
				out.Close()
				return nil, err
			}
			m.reportProgress(gi+1, len(m.groups))
			continue
		}

		target := fixed
		if target == nil {
			target = stepRaster(ts, raster.Step)
		}
		resampled := make([]*core.Signal, len(sigs))
		for i, sig := range sigs {
			withMaster := *sig
			withMaster.Timestamps = ts
			resampled[i] = withMaster.Interp(target, interp)
		}
		outTs := target
		if len(ts) == 0 {
			outTs = nil
		}
		if err := appendGroup(out, g, outTs, resampled); err != nil {
			out.Close()
			return nil, err
		}
		m.reportProgress(gi+1, len(m.groups))
	}
	out.header = m.header
	return out, nil
}

// stepRaster spaces a raster of the given step over the master's span,
// always including the first timestamp.
func stepRaster(ts []float64, step float64) []float64 {
	if len(ts) == 0 {
		return nil
	}
	start, stop := ts[0], ts[len(ts)-1]
	n := int((stop-start)/step) + 1
	out := make([]float64, 0, n)
	for t := start; t <= stop; t += step {
		out = append(out, t)
	}
	return out
}

// Filter returns a new measurement holding exactly the selected
// channels, preserving their original group association: channels from
// the same source group stay together in one output group.
func (m *MDF) Filter(ctx context.Context, specs []ChannelSpec) (*MDF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.Filter")
	defer span.End()
	_ = ctx

	// resolve, dedupe and bucket per source group
	included := make(map[int][]int)
	seen := make(map[core.Occurrence]bool)
	var groupOrder []int
	for _, spec := range specs {
		occ, err := m.resolve(spec)
		if err != nil {
			return nil, err
		}
		if seen[occ] {
			continue
		}
		seen[occ] = true
		if _, ok := included[occ.Group]; !ok {
			groupOrder = append(groupOrder, occ.Group)
		}
		included[occ.Group] = append(included[occ.Group], occ.Channel)
	}

	out, err := m.child(m.version)
	if err != nil {
		return nil, err
	}
	for done, gi := range groupOrder {
		if m.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		g := m.groups[gi]
		ts, err := g.master(m.logger)
		if err != nil {
			out.Close()
			return nil, err
		}
		masterIdx := g.ChannelGroup.MasterIndex()
		sigs := make([]*core.Signal, 0, len(included[gi]))
		for _, ci := range included[gi] {
			if ci == masterIdx {
				continue
			}
			sig, err := m.signalAt(core.Occurrence{Group: gi, Channel: ci}, true)
			if err != nil {
				out.Close()
				return nil, err
			}
			sigs = append(sigs, sig)
		}
		if len(sigs) == 0 {
			continue
		}
		if err := appendGroup(out, g, ts, sigs); err != nil {
			out.Close()
			return nil, err
		}
		m.reportProgress(done+1, len(groupOrder))
	}
	out.header = m.header
	return out, nil
}

// ConvertVersion re-expresses the measurement under another format
// version. Raw values and conversion rules are carried so the physical
// intent survives the round trip; array channels are flattened for
// pre-4.00 targets, which cannot express them.
func (m *MDF) ConvertVersion(ctx context.Context, target core.FormatVersion) (*MDF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.ConvertVersion")
	defer span.End()
	_ = ctx

	out, err := m.child(target)
	if err != nil {
		return nil, err
	}
	for gi, g := range m.groups {
		if m.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		ts, sigs, err := m.extractGroup(gi)
		if err != nil {
			out.Close()
			return nil, err
		}
		if !target.IsV4() {
			sigs = flattenArraySignals(sigs, m.logger)
		}
		if err := appendGroup(out, g, ts, sigs); err != nil {
			out.Close()
			return nil, err
		}
		m.reportProgress(gi+1, len(m.groups))
	}
	out.header = m.header
	return out, nil
}

// flattenArraySignals splits composite signals into one scalar signal
// per component for targets without array channel support.
func flattenArraySignals(sigs []*core.Signal, logger *slog.Logger) []*core.Signal {
	out := make([]*core.Signal, 0, len(sigs))
	for _, sig := range sigs {
		if sig.Samples.Kind != core.KindRecord {
			out = append(out, sig)
			continue
		}
		logger.Info("flattening array channel for pre-4.00 target", "channel", sig.Name)
		for _, f := range sig.Samples.Fields {
			comp := *sig
			comp.Name = sig.Name + "." + f.Name
			comp.Samples = f.Samples
			comp.Conversion = nil
			out = append(out, &comp)
		}
	}
	return out
}

// appendGroup adds one output group carrying over the source group's
// metadata. A master-only source keeps its place in the output so group
// indices stay stable across structural operations.
func appendGroup(out *MDF, src *Group, ts []float64, sigs []*core.Signal) error {
	for _, sig := range sigs {
		sig.Timestamps = ts
	}
	if len(sigs) == 0 {
		if src.ChannelGroup.MasterIndex() < 0 {
			return nil
		}
		if err := out.appendMasterOnly(src.ChannelGroup.AcqName, src.masterName(), ts); err != nil {
			return err
		}
	} else if err := out.Append(src.ChannelGroup.AcqName, sigs); err != nil {
		return err
	}
	g := out.groups[len(out.groups)-1]
	g.Comment = src.Comment
	g.ChannelGroup.Comment = src.ChannelGroup.Comment
	g.ChannelGroup.Source = src.ChannelGroup.Source
	g.ChannelGroup.Flags = src.ChannelGroup.Flags
	return nil
}
