// Package matcher pairs markets across venues that describe the same
// real-world event, using token-set similarity over normalized titles.
package matcher

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/oddsfair/arbot/internal/domain"
)

// Matching thresholds.
const (
	// DefaultThreshold is the Jaccard similarity required to pair.
	DefaultThreshold = 0.80
	// DefaultCloseWindow is how far apart the two close times may be.
	DefaultCloseWindow = 24 * time.Hour
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "be": true, "by": true,
	"for": true, "in": true, "is": true, "of": true, "on": true, "or": true,
	"the": true, "to": true, "will": true, "with": true,
}

// Config tunes the matcher. Zero values take defaults.
type Config struct {
	Threshold   float64
	CloseWindow time.Duration
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.CloseWindow <= 0 {
		c.CloseWindow = DefaultCloseWindow
	}
}

// Matcher pairs markets across two venues.
type Matcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Matcher.
func New(cfg Config, logger *slog.Logger) *Matcher {
	cfg.defaults()
	return &Matcher{cfg: cfg, logger: logger.With(slog.String("component", "matcher"))}
}

// Normalize lowercases a title, strips punctuation and drops stopwords,
// returning the deduplicated token set.
func Normalize(title string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		if !stopwords[tok] {
			tokens[tok] = true
		}
	}
	return tokens
}

// Jaccard computes |a∩b| / |a∪b| over token sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity scores two titles.
func Similarity(a, b string) float64 {
	return Jaccard(Normalize(a), Normalize(b))
}

// Match pairs markets from venue A against venue B. Each market pairs with
// at most one counterpart; ties resolve to the highest similarity. Both
// markets must close within the configured window of each other.
func (m *Matcher) Match(a, b []domain.Market) []domain.MarketPair {
	type cand struct {
		ai, bi int
		sim    float64
	}

	bTokens := make([]map[string]bool, len(b))
	for i := range b {
		bTokens[i] = Normalize(b[i].Title)
	}

	var cands []cand
	for i := range a {
		at := Normalize(a[i].Title)
		for j := range b {
			gap := a[i].CloseTime.Sub(b[j].CloseTime)
			if gap < 0 {
				gap = -gap
			}
			if gap > m.cfg.CloseWindow {
				continue
			}
			if sim := Jaccard(at, bTokens[j]); sim >= m.cfg.Threshold {
				cands = append(cands, cand{ai: i, bi: j, sim: sim})
			}
		}
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].sim > cands[j].sim })

	usedA := make(map[int]bool)
	usedB := make(map[int]bool)
	var pairs []domain.MarketPair
	now := time.Now().UTC()
	for _, c := range cands {
		if usedA[c.ai] || usedB[c.bi] {
			continue
		}
		usedA[c.ai] = true
		usedB[c.bi] = true
		pairs = append(pairs, domain.MarketPair{
			ID:         PairID(a[c.ai], b[c.bi]),
			A:          a[c.ai],
			B:          b[c.bi],
			Similarity: c.sim,
			MatchedAt:  now,
		})
	}

	m.logger.Info("cross-venue matching complete",
		slog.Int("venue_a", len(a)),
		slog.Int("venue_b", len(b)),
		slog.Int("pairs", len(pairs)))
	return pairs
}

// PairID is a stable identifier for a cross-venue pair.
func PairID(a, b domain.Market) string {
	if b.ID < a.ID {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%s|%s", a.ID, b.ID)
}
