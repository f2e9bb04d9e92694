package selector

import (
	"math"
	"math/rand/v2"

	"github.com/hudjsw143/royal-ishq/internal/catalog"
)

// Weights holds the tuning constants of the anti-repetition scorer. The
// defaults are carried-over heuristics, not contracts; callers may tune
// them per deployment.
type Weights struct {
	// Base is the starting weight of an unseen prompt.
	Base int
	// ShortBlockWindow hard-blocks anything served within the last N
	// short-term entries.
	ShortBlockWindow int
	// ShortRecoverWindow bounds the gradual-recovery band that follows
	// the block window.
	ShortRecoverWindow int
	// LongRecentWindow / LongOldWindow bound the two long-term penalty
	// bands, applied multiplicatively.
	LongRecentWindow  int
	LongOldWindow     int
	LongRecentFactor  float64
	LongOldFactor     float64
	// UsageScale multiplies the log2 penalty from the lifetime usage
	// counter.
	UsageScale float64
	// JitterMax is the exclusive upper bound of the random tie-breaker
	// added to every weight.
	JitterMax int
	// CategoryWindow is how many recent categories are avoided before
	// relaxing.
	CategoryWindow int
	// MinCandidates is the smallest candidate set the category filter
	// may produce before relaxing its constraint.
	MinCandidates int
	// MinDeck triggers a deck rebuild when fewer prompts remain.
	MinDeck int
}

// DefaultWeights returns the tuning the original game shipped with.
func DefaultWeights() Weights {
	return Weights{
		Base:               100,
		ShortBlockWindow:   20,
		ShortRecoverWindow: 50,
		LongRecentWindow:   100,
		LongOldWindow:      200,
		LongRecentFactor:   0.70,
		LongOldFactor:      0.85,
		UsageScale:         10,
		JitterMax:          10,
		CategoryWindow:     3,
		MinCandidates:      3,
		MinDeck:            3,
	}
}

func lastIndexOf(history []string, id string) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] == id {
			return i
		}
	}
	return -1
}

// promptWeight scores one prompt id against the three history layers.
// Higher weight means more likely to be drawn; zero means blocked.
func promptWeight(id string, short, long []string, usage map[string]int, w Weights, rng *rand.Rand) int {
	weight := w.Base

	if idx := lastIndexOf(short, id); idx != -1 {
		recency := len(short) - idx
		switch {
		case recency <= w.ShortBlockWindow:
			weight = 0
		case recency <= w.ShortRecoverWindow:
			weight = int(float64(recency-w.ShortBlockWindow) * 1.5)
		default:
			weight = w.ShortRecoverWindow + (recency - w.ShortRecoverWindow)
		}
	}

	if idx := lastIndexOf(long, id); idx != -1 && weight > 0 {
		recency := len(long) - idx
		switch {
		case recency <= w.LongRecentWindow:
			weight = int(float64(weight) * w.LongRecentFactor)
		case recency <= w.LongOldWindow:
			weight = int(float64(weight) * w.LongOldFactor)
		}
	}

	if count := usage[id]; count > 0 {
		penalty := math.Log2(float64(count)+1) * w.UsageScale
		weight = max(0, weight-int(penalty))
	}

	if w.JitterMax > 0 && rng != nil {
		weight += rng.IntN(w.JitterMax)
	}
	return max(0, weight)
}

// filterCategories drops prompts whose category was served recently.
// If that starves the candidate set it relaxes to only the most recent
// category, and finally to no filter at all.
func filterCategories(prompts []catalog.Prompt, categoryHistory []string, w Weights) []catalog.Prompt {
	if len(categoryHistory) == 0 {
		return prompts
	}

	recent := categoryHistory
	if len(recent) > w.CategoryWindow {
		recent = recent[len(recent)-w.CategoryWindow:]
	}
	blocked := make(map[string]bool, len(recent))
	for _, category := range recent {
		blocked[category] = true
	}

	var filtered []catalog.Prompt
	for _, p := range prompts {
		if !blocked[p.Category] {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) >= w.MinCandidates {
		return filtered
	}

	last := categoryHistory[len(categoryHistory)-1]
	var relaxed []catalog.Prompt
	for _, p := range prompts {
		if p.Category != last {
			relaxed = append(relaxed, p)
		}
	}
	if len(relaxed) > 0 {
		return relaxed
	}
	return prompts
}

// weightedSelect draws one prompt proportionally to its weight. A fully
// zero-weighted set degrades to a uniform draw.
func weightedSelect(prompts []catalog.Prompt, short, long []string, usage map[string]int, w Weights, rng *rand.Rand) *catalog.Prompt {
	if len(prompts) == 0 {
		return nil
	}

	weights := make([]int, len(prompts))
	var candidates []int
	for i, p := range prompts {
		weights[i] = promptWeight(p.ID, short, long, usage, w, rng)
		if weights[i] > 0 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		candidates = make([]int, len(prompts))
		for i := range prompts {
			candidates[i] = i
			weights[i] = 1
		}
	}

	total := 0
	for _, i := range candidates {
		total += weights[i]
	}
	roll := rng.IntN(total)
	for _, i := range candidates {
		roll -= weights[i]
		if roll < 0 {
			return &prompts[i]
		}
	}
	return &prompts[candidates[len(candidates)-1]]
}

// shuffle is an in-place Fisher-Yates over prompt ids.
func shuffle(ids []string, rng *rand.Rand) {
	for i := len(ids) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
