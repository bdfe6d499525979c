package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// Opportunity cache tuning.
const (
	// replaceRatio: a new opportunity must beat the cached ROI by 5% to
	// replace a fresh entry, damping churn from book noise.
	replaceRatio = 1.05
	// entryMaxAge: cached entries older than this lose hysteresis
	// protection.
	entryMaxAge = 2 * time.Second
	// momentumWindow is the cost-trend observation span.
	momentumWindow = 60 * time.Second
	// momentumBand is the relative cost move that separates stable from
	// improving/degrading.
	momentumBand = 0.002
)

type oppEntry struct {
	opp domain.Opportunity
	at  time.Time
}

type costSample struct {
	combinedTicks int64
	at            time.Time
}

// Opportunities caches the best current opportunity per market/pair key and
// tracks the cost trend behind each one.
type Opportunities struct {
	mu      sync.Mutex
	entries map[string]oppEntry
	trend   map[string][]costSample
}

// NewOpportunities creates an empty cache.
func NewOpportunities() *Opportunities {
	return &Opportunities{
		entries: make(map[string]oppEntry),
		trend:   make(map[string][]costSample),
	}
}

// Put offers a new opportunity. It replaces the cached one only when the
// ROI improves by the hysteresis factor or the cached entry has aged out.
// The opportunity's Momentum is stamped from the cost trend. Returns whether
// the cache now holds the offered opportunity.
func (o *Opportunities) Put(opp domain.Opportunity, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	opp.Momentum = o.observe(opp.Key, opp.CombinedTicks(), now)

	cur, ok := o.entries[opp.Key]
	if ok && now.Sub(cur.at) < entryMaxAge && opp.ROI <= cur.opp.ROI*replaceRatio {
		return false
	}
	o.entries[opp.Key] = oppEntry{opp: opp, at: now}
	return true
}

// Get returns the cached opportunity for a key.
func (o *Opportunities) Get(key string) (domain.Opportunity, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	return e.opp, ok
}

// Remove drops a key, e.g. after execution.
func (o *Opportunities) Remove(key string) {
	o.mu.Lock()
	delete(o.entries, key)
	o.mu.Unlock()
}

// TopK returns up to n opportunities by execution priority descending.
func (o *Opportunities) TopK(n int) []domain.Opportunity {
	o.mu.Lock()
	out := make([]domain.Opportunity, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.opp)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Purge drops entries whose backing books have gone stale, plus exhausted
// trend windows.
func (o *Opportunities) Purge(now time.Time, stale func(key string) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.entries {
		if stale(key) {
			delete(o.entries, key)
		}
	}
	for key, samples := range o.trend {
		trimmed := trimSamples(samples, now)
		if len(trimmed) == 0 {
			delete(o.trend, key)
			continue
		}
		o.trend[key] = trimmed
	}
}

// Len returns the number of cached opportunities.
func (o *Opportunities) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// observe appends a cost sample and classifies the trend. Falling combined
// cost means the edge is improving. Caller holds the lock.
func (o *Opportunities) observe(key string, combinedTicks int64, now time.Time) domain.Momentum {
	samples := trimSamples(o.trend[key], now)
	samples = append(samples, costSample{combinedTicks: combinedTicks, at: now})
	o.trend[key] = samples

	if len(samples) < 3 {
		return domain.MomentumNew
	}
	first := samples[0].combinedTicks
	if first <= 0 {
		return domain.MomentumStable
	}
	drift := float64(combinedTicks-first) / float64(first)
	switch {
	case drift <= -momentumBand:
		return domain.MomentumImproving
	case drift >= momentumBand:
		return domain.MomentumDegrading
	default:
		return domain.MomentumStable
	}
}

func trimSamples(samples []costSample, now time.Time) []costSample {
	cutoff := now.Add(-momentumWindow)
	i := 0
	for i < len(samples) && !samples[i].at.After(cutoff) {
		i++
	}
	return samples[i:]
}
