package mdf

import (
	"context"
	"fmt"
	"sort"

	"github.com/INLOpen/nexusmdf/conversion"
	"github.com/INLOpen/nexusmdf/core"
)

// ConcatOptions tunes Concatenate.
type ConcatOptions struct {
	// Sync shifts each file by its start-time offset from the earliest
	// start so files keep their absolute positions.
	Sync bool
	// DirectTimestampContinuation makes every file start right after the
	// previous file's last sample, regardless of its own timestamps.
	// Ignored under Sync.
	DirectTimestampContinuation bool
	// AddSamplesOrigin appends a __samples_origin channel to every
	// group, carrying the index of the source file with a value-to-text
	// conversion to the file names.
	AddSamplesOrigin bool
}

// Concatenate merges measurements recorded one after another into one.
// Every file must carry the same group structure (group count and
// channel names per group); groups whose channels merely appear in a
// different order are remapped by name, unless StrictChannelOrder makes
// that a structural error.
//
// With Sync, each file keeps its absolute position: timestamps are
// shifted by the file's start-time offset from the earliest start.
// Without Sync, files are appended back to back and monotonicity is
// enforced: a file starting at or before the previous end is bumped
// past it by the master's own sample delta (1ms when unknown).
func Concatenate(ctx context.Context, files []*MDF, opts ConcatOptions) (*MDF, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("concatenate: no files")
	}
	first := files[0]
	ctx, span := first.tracer.Start(ctx, "MDF.Concatenate")
	defer span.End()
	_ = ctx

	out, err := first.child(first.version)
	if err != nil {
		return nil, err
	}
	out.header = first.header

	var originConv *conversion.Conversion
	if opts.AddSamplesOrigin {
		keys := make([]float64, len(files))
		names := make([]string, len(files))
		for i, f := range files {
			keys[i] = float64(i)
			names[i] = f.Name()
			if names[i] == "" {
				names[i] = fmt.Sprintf("file %d", i)
			}
		}
		originConv = conversion.NewValueToText(keys, names, "")
	}

	var minStartNS uint64
	if opts.Sync {
		minStartNS = files[0].header.StartTimeNS
		for _, f := range files[1:] {
			if f.header.StartTimeNS < minStartNS {
				minStartNS = f.header.StartTimeNS
			}
		}
		out.header.StartTimeNS = minStartNS
	}

	// last written master value per output group
	lastTS := make([]float64, first.GroupCount())
	hasData := make([]bool, first.GroupCount())

	for fi, f := range files {
		if first.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		if f.GroupCount() != first.GroupCount() {
			out.Close()
			return nil, &core.StructuralMismatchError{File: fi, Message: fmt.Sprintf(
				"file %d has %d groups, file 0 has %d", fi, f.GroupCount(), first.GroupCount())}
		}

		var syncOffset float64
		if opts.Sync {
			syncOffset = float64(f.header.StartTimeNS-minStartNS) / 1e9
		}

		for gi := 0; gi < f.GroupCount(); gi++ {
			remap, err := channelRemap(first, f, fi, gi)
			if err != nil {
				out.Close()
				return nil, err
			}

			f.mu.RLock()
			ts, sigs, err := f.extractGroup(gi)
			f.mu.RUnlock()
			if err != nil {
				out.Close()
				return nil, err
			}
			if remap != nil {
				reordered := make([]*core.Signal, len(sigs))
				for i, j := range remap {
					reordered[i] = sigs[j]
				}
				sigs = reordered
			}

			offset := syncOffset
			if !opts.Sync && hasData[gi] && len(ts) > 0 &&
				(opts.DirectTimestampContinuation || ts[0] <= lastTS[gi]) {
				delta := 0.001
				if len(ts) > 1 {
					delta = ts[1] - ts[0]
				}
				offset = lastTS[gi] + delta - ts[0]
			}
			if offset != 0 && len(ts) > 0 {
				shifted := make([]float64, len(ts))
				for i, t := range ts {
					shifted[i] = t + offset
				}
				ts = shifted
			}
			if len(ts) > 0 {
				lastTS[gi] = ts[len(ts)-1]
				hasData[gi] = true
			}

			if originConv != nil {
				origin := make([]uint64, len(ts))
				for i := range origin {
					origin[i] = uint64(fi)
				}
				sigs = append(sigs, &core.Signal{
					Name:       "__samples_origin",
					Samples:    core.UintSamples(origin, 16),
					Timestamps: ts,
					Conversion: originConv,
					Raw:        true,
				})
			}

			if fi == 0 {
				if err := appendGroup(out, f.groups[gi], ts, sigs); err != nil {
					out.Close()
					return nil, err
				}
			} else {
				for _, sig := range sigs {
					sig.Timestamps = ts
				}
				if err := out.Extend(gi, ts, sigs); err != nil {
					out.Close()
					return nil, err
				}
			}
		}
		first.reportProgress(fi+1, len(files))
	}
	return out, nil
}

// channelRemap validates that group gi of file f structurally matches
// the first file and returns the value-channel permutation to apply, or
// nil when the order already matches.
func channelRemap(first, f *MDF, fi, gi int) ([]int, error) {
	want := valueChannelNames(first.groups[gi])
	got := valueChannelNames(f.groups[gi])
	if len(want) != len(got) {
		return nil, &core.StructuralMismatchError{File: fi, Message: fmt.Sprintf(
			"file %d group %d has %d channels, file 0 has %d", fi, gi, len(got), len(want))}
	}

	same := true
	for i := range want {
		if want[i] != got[i] {
			same = false
			break
		}
	}
	if same {
		return nil, nil
	}

	wantSorted := append([]string(nil), want...)
	gotSorted := append([]string(nil), got...)
	sort.Strings(wantSorted)
	sort.Strings(gotSorted)
	for i := range wantSorted {
		if wantSorted[i] != gotSorted[i] {
			return nil, &core.StructuralMismatchError{File: fi, Message: fmt.Sprintf(
				"file %d group %d channel names do not match file 0", fi, gi)}
		}
	}

	if first.cfg.Engine.StrictChannelOrder {
		return nil, &core.StructuralMismatchError{File: fi, Message: fmt.Sprintf(
			"file %d group %d channels are ordered differently", fi, gi)}
	}
	first.logger.Warn("channel order differs between files, remapping by name",
		"file", fi, "group", gi)

	index := make(map[string]int, len(got))
	for j, name := range got {
		index[name] = j
	}
	remap := make([]int, len(want))
	for i, name := range want {
		remap[i] = index[name]
	}
	return remap, nil
}

// valueChannelNames lists the group's channel names, master excluded.
func valueChannelNames(g *Group) []string {
	masterIdx := g.ChannelGroup.MasterIndex()
	out := make([]string, 0, len(g.ChannelGroup.Channels))
	for i, ch := range g.ChannelGroup.Channels {
		if i == masterIdx {
			continue
		}
		out = append(out, ch.Name)
	}
	return out
}

// StackOptions tunes Stack.
type StackOptions struct {
	// Sync shifts each file by its start-time offset from the earliest
	// start so the stacked groups share one time base.
	Sync bool
	// AddSamplesOrigin tags every stacked group's acquisition name with
	// the index of the file it came from.
	AddSamplesOrigin bool
}

// Stack unions measurements "horizontally": every group of every file
// becomes a group of the output, with no structural-identity
// requirement.
func Stack(ctx context.Context, files []*MDF, opts StackOptions) (*MDF, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("stack: no files")
	}
	first := files[0]
	ctx, span := first.tracer.Start(ctx, "MDF.Stack")
	defer span.End()
	_ = ctx

	out, err := first.child(first.version)
	if err != nil {
		return nil, err
	}
	out.header = first.header

	var minStartNS uint64
	if opts.Sync {
		minStartNS = files[0].header.StartTimeNS
		for _, f := range files[1:] {
			if f.header.StartTimeNS < minStartNS {
				minStartNS = f.header.StartTimeNS
			}
		}
		out.header.StartTimeNS = minStartNS
	}

	for fi, f := range files {
		if first.aborted() {
			out.Close()
			return nil, core.ErrAborted
		}
		var offset float64
		if opts.Sync {
			offset = float64(f.header.StartTimeNS-minStartNS) / 1e9
		}
		for gi := 0; gi < f.GroupCount(); gi++ {
			f.mu.RLock()
			ts, sigs, err := f.extractGroup(gi)
			f.mu.RUnlock()
			if err != nil {
				out.Close()
				return nil, err
			}
			if offset != 0 {
				shifted := make([]float64, len(ts))
				for i, t := range ts {
					shifted[i] = t + offset
				}
				ts = shifted
			}
			if err := appendGroup(out, f.groups[gi], ts, sigs); err != nil {
				out.Close()
				return nil, err
			}
			if opts.AddSamplesOrigin && len(sigs) > 0 {
				g := out.groups[len(out.groups)-1]
				g.ChannelGroup.AcqName = fmt.Sprintf("%s (file %d)", g.ChannelGroup.AcqName, fi)
			}
		}
		first.reportProgress(fi+1, len(files))
	}
	return out, nil
}
