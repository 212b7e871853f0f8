// Package mdf implements the measurement-file engine: loading and
// saving ASAM MDF files of both physical families, channel addressing,
// and the structural operations (cut, resample, filter, select,
// version conversion, concatenate, stack, bus-logging extraction and
// dataframe projection).
package mdf

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusmdf/cache"
	"github.com/INLOpen/nexusmdf/config"
	"github.com/INLOpen/nexusmdf/core"
)

// ProgressFunc is invoked while long structural operations run; done
// and total count processed groups.
type ProgressFunc func(done, total int)

// Options configures a new engine instance. The zero value is usable.
type Options struct {
	Config         *config.Config
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Progress       ProgressFunc
	// Metrics receives the engine's counters; nil creates a private,
	// unpublished set.
	Metrics *Metrics
}

// Header carries the file-level measurement metadata.
type Header struct {
	Comment     string
	Author      string
	Project     string
	Subject     string
	Program     string
	StartTimeNS uint64
}

// MDF is the engine façade: an in-memory measurement with its groups,
// channel index and the version that governs serialization.
type MDF struct {
	mu sync.RWMutex

	version core.FormatVersion
	name    string
	header  Header
	groups  []*Group

	// channelsDB maps a channel name to every place it occurs.
	channelsDB map[string][]core.Occurrence
	// virtualGroups merges groups sharing a master channel name: the
	// key is the lowest member index, the value every member.
	virtualGroups map[int][]int

	cfg       *config.Config
	logger    *slog.Logger
	tracer    trace.Tracer
	progress  ProgressFunc
	spill     *spillStore
	columns   *cache.ColumnCache
	terminate atomic.Bool
	closed    bool
}

// New creates an empty measurement for the given target version.
func New(version core.FormatVersion, opts Options) (*MDF, error) {
	supported := false
	for _, v := range core.SupportedVersions {
		if v == version {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("unsupported format version %s", version)
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(nil); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "MDF")

	var tracer trace.Tracer
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer("github.com/INLOpen/nexusmdf/mdf")
	} else {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	ct, err := cfg.SpillCompression()
	if err != nil {
		return nil, err
	}
	spill, err := newSpillStore(cfg.Engine.Spill.Dir, ct, cfg.Engine.Spill.VerifyChecksums, logger)
	if err != nil {
		return nil, err
	}

	m := &MDF{
		version:       version,
		channelsDB:    make(map[string][]core.Occurrence),
		virtualGroups: make(map[int][]int),
		cfg:           cfg,
		logger:        logger,
		tracer:        tracer,
		progress:      opts.Progress,
		spill:         spill,
		columns:       cache.NewColumnCache(cfg.Engine.Read.CacheCapacity),
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(false, "")
	}
	m.columns.SetMetrics(metrics.CacheHits, metrics.CacheMisses)
	metrics.publishHitRate(m.columns.HitRate)
	return m, nil
}

// child creates an output instance inheriting the receiver's ambient
// configuration.
func (m *MDF) child(version core.FormatVersion) (*MDF, error) {
	return New(version, Options{
		Config:   m.cfg,
		Logger:   m.logger,
		Progress: m.progress,
	})
}

// Version returns the format version governing serialization.
func (m *MDF) Version() core.FormatVersion { return m.version }

// Name returns the source path of an opened file, "" for new instances.
func (m *MDF) Name() string { return m.name }

// Header returns the measurement metadata.
func (m *MDF) Header() Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.header
}

// SetHeader replaces the measurement metadata.
func (m *MDF) SetHeader(h Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = h
}

// GroupCount returns the number of channel groups.
func (m *MDF) GroupCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}

// Group returns group i.
func (m *MDF) Group(i int) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.groups) {
		return nil, fmt.Errorf("group index %d out of range (file has %d)", i, len(m.groups))
	}
	return m.groups[i], nil
}

// Abort requests that the running structural operation stops. The
// aborted call returns core.ErrAborted with a nil result; the instance
// itself stays usable.
func (m *MDF) Abort() { m.terminate.Store(true) }

func (m *MDF) aborted() bool {
	if m.terminate.Load() {
		m.terminate.Store(false)
		return true
	}
	return false
}

func (m *MDF) reportProgress(done, total int) {
	if m.progress != nil {
		m.progress(done, total)
	}
}

// Close releases the spill store. Structural results derived from the
// instance stay valid; their data is independent.
func (m *MDF) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.spill.Close()
}

func (m *MDF) checkOpen() error {
	if m.closed {
		return core.ErrEngineClosed
	}
	return nil
}

// reindex rebuilds the channel index and the virtual groups after a
// structural change. Callers hold the write lock.
func (m *MDF) reindex() error {
	m.channelsDB = make(map[string][]core.Occurrence)
	for gi, g := range m.groups {
		for ci, ch := range g.ChannelGroup.Channels {
			if err := checkComponentCycle(ch, nil); err != nil {
				return err
			}
			m.channelsDB[ch.Name] = append(m.channelsDB[ch.Name], core.Occurrence{Group: gi, Channel: ci})
			for _, comp := range flattenComponents(ch) {
				m.channelsDB[comp.Name] = append(m.channelsDB[comp.Name], core.Occurrence{Group: gi, Channel: ci})
			}
		}
	}

	m.virtualGroups = make(map[int][]int)
	byMaster := make(map[string]int) // master name -> virtual group key
	for gi, g := range m.groups {
		name := g.masterName()
		if name == "" {
			m.virtualGroups[gi] = []int{gi}
			continue
		}
		key, ok := byMaster[name]
		if !ok {
			key = gi
			byMaster[name] = key
		}
		m.virtualGroups[key] = append(m.virtualGroups[key], gi)
	}
	return nil
}

// checkComponentCycle rejects component graphs that loop back on
// themselves.
func checkComponentCycle(ch *core.Channel, path []*core.Channel) error {
	for _, seen := range path {
		if seen == ch {
			return &core.FormatError{Message: fmt.Sprintf(
				"channel %q: component dependency cycle", ch.Name)}
		}
	}
	path = append(path, ch)
	for _, comp := range ch.Components {
		if err := checkComponentCycle(comp, path); err != nil {
			return err
		}
	}
	return nil
}

func flattenComponents(ch *core.Channel) []*core.Channel {
	var out []*core.Channel
	for _, comp := range ch.Components {
		out = append(out, comp)
		out = append(out, flattenComponents(comp)...)
	}
	return out
}

// Whereis lists every occurrence of the named channel.
func (m *MDF) Whereis(name string) []core.Occurrence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Occurrence(nil), m.channelsDB[name]...)
}

// VirtualGroups returns the groups merged per shared master channel.
func (m *MDF) VirtualGroups() map[int][]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int][]int, len(m.virtualGroups))
	for k, v := range m.virtualGroups {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// IterGroups visits every group in index order until fn returns false.
func (m *MDF) IterGroups(fn func(index int, g *Group) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, g := range m.groups {
		if !fn(i, g) {
			return
		}
	}
}

// IterChannels visits every channel of every group until fn returns
// false.
func (m *MDF) IterChannels(fn func(occ core.Occurrence, ch *core.Channel) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for gi, g := range m.groups {
		for ci, ch := range g.ChannelGroup.Channels {
			if !fn(core.Occurrence{Group: gi, Channel: ci}, ch) {
				return
			}
		}
	}
}

// ChannelSpec addresses one channel by name and/or position. Group and
// Index are -1 when unset.
type ChannelSpec struct {
	Name  string
	Group int
	Index int
}

// ByName addresses a channel by name alone.
func ByName(name string) ChannelSpec { return ChannelSpec{Name: name, Group: -1, Index: -1} }

// ByPosition addresses a channel by group and channel index.
func ByPosition(group, index int) ChannelSpec { return ChannelSpec{Group: group, Index: index} }

// resolve maps a spec to a concrete occurrence. Ambiguous names resolve
// to the first occurrence with a warning.
func (m *MDF) resolve(spec ChannelSpec) (core.Occurrence, error) {
	if spec.Name == "" {
		if spec.Group < 0 || spec.Group >= len(m.groups) {
			return core.Occurrence{}, fmt.Errorf("group index %d out of range (file has %d)", spec.Group, len(m.groups))
		}
		if spec.Index < 0 || spec.Index >= len(m.groups[spec.Group].ChannelGroup.Channels) {
			return core.Occurrence{}, fmt.Errorf("channel index %d out of range in group %d", spec.Index, spec.Group)
		}
		return core.Occurrence{Group: spec.Group, Channel: spec.Index}, nil
	}

	occs := m.channelsDB[spec.Name]
	if len(occs) == 0 {
		occs = m.foldOccurrences(spec.Name)
	}
	if len(occs) == 0 {
		return core.Occurrence{}, fmt.Errorf("channel %q: %w", spec.Name, core.ErrChannelNotFound)
	}
	if spec.Group >= 0 {
		for _, occ := range occs {
			if occ.Group == spec.Group && (spec.Index < 0 || occ.Channel == spec.Index) {
				return occ, nil
			}
		}
		return core.Occurrence{}, fmt.Errorf("channel %q not in group %d: %w", spec.Name, spec.Group, core.ErrChannelNotFound)
	}
	if len(occs) > 1 {
		m.logger.Warn("channel name is ambiguous, using the first occurrence",
			"channel", spec.Name, "occurrences", len(occs))
	}
	return occs[0], nil
}

// foldOccurrences is the case-insensitive fallback behind the exact
// channel index. It scans the graph at lookup time instead of keeping
// a second folded index.
func (m *MDF) foldOccurrences(name string) []core.Occurrence {
	var out []core.Occurrence
	for gi, g := range m.groups {
		for ci, ch := range g.ChannelGroup.Channels {
			if strings.EqualFold(ch.Name, name) {
				out = append(out, core.Occurrence{Group: gi, Channel: ci})
				continue
			}
			for _, comp := range flattenComponents(ch) {
				if strings.EqualFold(comp.Name, name) {
					out = append(out, core.Occurrence{Group: gi, Channel: ci})
					break
				}
			}
		}
	}
	return out
}

// Get returns the named channel as a signal with its conversion
// applied.
func (m *MDF) Get(name string) (*core.Signal, error) {
	return m.GetSpec(ByName(name), false)
}

// GetRaw returns the named channel without applying its conversion.
func (m *MDF) GetRaw(name string) (*core.Signal, error) {
	return m.GetSpec(ByName(name), true)
}

// GetSpec returns one channel as a signal. raw skips the conversion.
func (m *MDF) GetSpec(spec ChannelSpec, raw bool) (*core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	occ, err := m.resolve(spec)
	if err != nil {
		return nil, err
	}
	return m.signalAt(occ, raw)
}

// signalAt builds the signal of one occurrence. Callers hold at least
// the read lock.
func (m *MDF) signalAt(occ core.Occurrence, raw bool) (*core.Signal, error) {
	g := m.groups[occ.Group]
	ch := g.ChannelGroup.Channels[occ.Channel]

	key := cache.Key{Group: occ.Group, Channel: occ.Channel, Cycles: g.ChannelGroup.Cycles}
	var samples core.Samples
	var invalid *roaring.Bitmap
	if col, ok := m.columns.Get(key); ok {
		samples, invalid = col.Samples, col.Invalid
	} else {
		var err error
		samples, invalid, err = g.column(occ.Channel, m.logger)
		if err != nil {
			return nil, err
		}
		m.columns.Put(key, cache.Column{Samples: samples, Invalid: invalid})
	}
	ts, err := g.master(m.logger)
	if err != nil {
		return nil, err
	}
	sig := &core.Signal{
		Name:       ch.Name,
		Samples:    samples,
		Timestamps: ts,
		Invalid:    invalid,
		Unit:       ch.Unit,
		Comment:    ch.Comment,
		Source:     ch.Source,
		Conversion: ch.Conversion,
		Raw:        true,
		MasterMeta: g.masterName(),
	}
	if m.cfg.Engine.Read.CopyOnGet {
		sig = sig.Clone()
	}
	if !raw {
		sig = sig.Physical()
	}
	return sig, nil
}

// GetMaster returns the master timestamps of a group.
func (m *MDF) GetMaster(group int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if group < 0 || group >= len(m.groups) {
		return nil, fmt.Errorf("group index %d out of range (file has %d)", group, len(m.groups))
	}
	return m.groups[group].master(m.logger)
}

// Select returns the signals of several channels in spec order.
// Duplicate (group, channel) addresses yield independent signals.
func (m *MDF) Select(specs []ChannelSpec, raw bool) ([]*core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*core.Signal, 0, len(specs))
	for _, spec := range specs {
		occ, err := m.resolve(spec)
		if err != nil {
			return nil, err
		}
		sig, err := m.signalAt(occ, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}
