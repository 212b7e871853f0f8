package mdf

import (
	"expvar"
	"fmt"
)

// Metrics holds the engine's expvar counters. An unpublished instance
// keeps its variables private, so tests and short-lived engines do not
// pollute the process namespace.
type Metrics struct {
	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	published bool
	prefix    string
}

// NewMetrics creates the counter set. With publishGlobally the
// variables register under prefix in the expvar namespace; an existing
// registration of the same type is reset and reused.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(string) *expvar.Int { return new(expvar.Int) }
	if publishGlobally {
		newInt = publishExpvarInt
	}
	return &Metrics{
		CacheHits:   newInt(prefix + "column_cache_hits_total"),
		CacheMisses: newInt(prefix + "column_cache_misses_total"),
		published:   publishGlobally,
		prefix:      prefix,
	}
}

// publishHitRate exposes the cache's hit rate as a computed variable.
// Only the first engine to publish under a prefix owns the variable.
func (mt *Metrics) publishHitRate(rate func() float64) {
	if !mt.published {
		return
	}
	name := mt.prefix + "column_cache_hit_rate"
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(func() interface{} { return rate() }))
}

// publishExpvarInt safely publishes an expvar.Int, resetting and
// reusing an existing registration.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: variable %s already exists with type %T", name, v))
}
