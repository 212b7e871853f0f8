package mdf

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/INLOpen/nexusmdf/core"
)

// DataframeOptions tunes the tabular projection.
type DataframeOptions struct {
	// Raster re-samples every channel onto this raster; the zero value
	// uses the union of every group's master timestamps.
	Raster Raster
	// Raw skips conversions.
	Raw bool
	// Channels restricts the projection; empty takes every channel.
	Channels []ChannelSpec
}

// Dataframe is a tabular projection: one shared time index and one
// column per channel, all aligned by interpolation.
type Dataframe struct {
	Index   []float64
	Names   []string
	Columns []core.Samples
}

// ToDataframe projects the measurement onto a single time base.
// Duplicate channel names get a ".<n>" occurrence suffix.
func (m *MDF) ToDataframe(ctx context.Context, opts DataframeOptions) (*Dataframe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.ToDataframe")
	defer span.End()
	_ = ctx

	specs := opts.Channels
	if len(specs) == 0 {
		for gi, g := range m.groups {
			masterIdx := g.ChannelGroup.MasterIndex()
			for ci := range g.ChannelGroup.Channels {
				if ci == masterIdx {
					continue
				}
				specs = append(specs, ByPosition(gi, ci))
			}
		}
	}

	index, err := m.dataframeIndex(opts.Raster)
	if err != nil {
		return nil, err
	}

	df := &Dataframe{Index: index}
	interp := m.cfg.InterpOptions()
	used := make(map[string]int)
	for _, spec := range specs {
		occ, err := m.resolve(spec)
		if err != nil {
			return nil, err
		}
		sig, err := m.signalAt(occ, opts.Raw)
		if err != nil {
			return nil, err
		}
		aligned := sig.Interp(index, interp)

		name := sig.Name
		if n := used[name]; n > 0 {
			name = fmt.Sprintf("%s.%d", name, n)
		}
		used[sig.Name]++

		df.Names = append(df.Names, name)
		df.Columns = append(df.Columns, aligned.Samples)
	}
	return df, nil
}

// dataframeIndex computes the shared time base: an explicit raster, or
// the sorted union of every group master.
func (m *MDF) dataframeIndex(raster Raster) ([]float64, error) {
	switch {
	case raster.Channel != "":
		occ, err := m.resolve(ByName(raster.Channel))
		if err != nil {
			return nil, err
		}
		return m.groups[occ.Group].master(m.logger)
	case len(raster.Times) > 0:
		return raster.Times, nil
	}

	var union []float64
	for _, g := range m.groups {
		ts, err := g.master(m.logger)
		if err != nil {
			return nil, err
		}
		union = append(union, ts...)
	}
	sort.Float64s(union)
	dedup := union[:0]
	for i, t := range union {
		if i == 0 || t != union[i-1] {
			dedup = append(dedup, t)
		}
	}
	union = dedup

	if raster.Step > 0 {
		return stepRaster(union, raster.Step), nil
	}
	return union, nil
}

// Rows returns the row count.
func (df *Dataframe) Rows() int { return len(df.Index) }

// MarshalJSON renders the dataframe as a column-oriented object:
// {"index": [...], "columns": {"name": [...]}}.
func (df *Dataframe) MarshalJSON() ([]byte, error) {
	columns := make(map[string]any, len(df.Names))
	for i, name := range df.Names {
		columns[name] = columnValues(df.Columns[i])
	}
	return json.Marshal(struct {
		Index   []float64      `json:"index"`
		Columns map[string]any `json:"columns"`
	}{Index: df.Index, Columns: columns})
}

func columnValues(s core.Samples) any {
	switch s.Kind {
	case core.KindUint:
		return s.Uints
	case core.KindInt:
		return s.Ints
	case core.KindFloat:
		return s.Floats
	case core.KindString:
		return s.Strings
	default:
		out := make([]string, s.Len())
		for i := range out {
			out[i] = s.Text(i)
		}
		return out
	}
}

// WriteCSV streams the dataframe as CSV with a leading timestamps
// column.
func (df *Dataframe) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"timestamps"}, df.Names...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for r := 0; r < df.Rows(); r++ {
		row[0] = strconv.FormatFloat(df.Index[r], 'g', -1, 64)
		for c, col := range df.Columns {
			row[c+1] = col.Text(r)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
