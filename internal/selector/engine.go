// Package selector picks the next truth/dare prompt. Selection layers a
// cached shuffled deck, a category anti-monotony filter, and a weighted
// random draw informed by short-term, long-term and lifetime usage
// histories, so repeats stay rare even across sessions. The engine knows
// nothing about networking; in online play the surrounding flow decides
// who may draw and broadcasts the result.
package selector

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/hudjsw143/royal-ishq/internal/catalog"
	"github.com/hudjsw143/royal-ishq/internal/history"
)

// History blob keys, shared with the original client so an upgraded
// install keeps its anti-repetition state.
const (
	keyShortTerm  = "royalIshq_shortTermHistory"
	keyLongTerm   = "royalIshq_longTermHistory"
	keyCategories = "royalIshq_categoryHistory"
	keyUsageMap   = "royalIshq_usageMap"
	keyDeck       = "royalIshq_shuffledDeck"
	keyDeckConfig = "royalIshq_deckConfig"
)

// History caps. Entries beyond these are trimmed oldest-first.
const (
	shortTermLimit = 100
	longTermLimit  = 500
	categoryLimit  = 5
)

// Config fixes the catalog slice one match draws from.
type Config struct {
	Mode   catalog.Mode   `json:"mode"`
	Mood   catalog.Mood   `json:"mood"`
	Status catalog.Status `json:"status"`
}

// Engine owns one match's selection state: current intensity, the
// in-session served set, and the skip/streak counters driving intensity.
// Persistent histories live in the blob store and deliberately survive
// Reset, since anti-repetition is meant to work across matches.
type Engine struct {
	catalog *catalog.Catalog
	store   history.Store
	cfg     Config
	weights Weights
	rng     *rand.Rand
	log     zerolog.Logger

	intensity        int
	sessionHistory   map[string]bool
	consecutiveSkips int
	winStreak        int
	roundsPlayed     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default scorer tuning.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithRand injects a deterministic source for tests.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New builds an engine for one match.
func New(cat *catalog.Catalog, store history.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		catalog:        cat,
		store:          store,
		cfg:            cfg,
		weights:        DefaultWeights(),
		log:            zerolog.Nop(),
		intensity:      catalog.MinIntensity,
		sessionHistory: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		now := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(now, now>>32))
	}
	return e
}

// Intensity returns the current setting, 1..5.
func (e *Engine) Intensity() int { return e.intensity }

// RoundsPlayed returns how many prompts this match has served.
func (e *Engine) RoundsPlayed() int { return e.roundsPlayed }

// GetPrompt returns the next prompt of the given type, or nil once the
// eligible pool is fully exhausted even after an in-session reset.
func (e *Engine) GetPrompt(t catalog.Type) *catalog.Prompt {
	if selected := e.draw(t); selected != nil {
		return selected
	}
	// Exhausted: forget what this session already served and try once
	// more before giving up.
	if len(e.sessionHistory) > 0 {
		e.sessionHistory = make(map[string]bool)
		e.saveDeck(nil)
		if selected := e.draw(t); selected != nil {
			return selected
		}
	}
	return nil
}

func (e *Engine) draw(t catalog.Type) *catalog.Prompt {
	short := e.loadStrings(keyShortTerm)
	long := e.loadStrings(keyLongTerm)
	categories := e.loadStrings(keyCategories)
	usage := e.loadUsage()

	deck, rebuilt := e.currentDeck()
	candidates := e.eligible(deck, t)
	if len(candidates) == 0 && !rebuilt {
		deck = e.rebuildDeck()
		candidates = e.eligible(deck, t)
	}
	if len(candidates) == 0 {
		return nil
	}

	candidates = filterCategories(candidates, categories, e.weights)
	selected := weightedSelect(candidates, short, long, usage, e.weights, e.rng)
	if selected == nil {
		return nil
	}

	e.record(*selected, short, long, categories, usage, deck)
	return selected
}

// eligible narrows the deck to the requested type at or below the
// current intensity, skipping anything already served this session.
func (e *Engine) eligible(deck []string, t catalog.Type) []catalog.Prompt {
	var out []catalog.Prompt
	for _, id := range deck {
		if e.sessionHistory[id] {
			continue
		}
		p, ok := e.catalog.ByID(id)
		if !ok {
			continue
		}
		if p.Type == t && p.Intensity <= e.intensity {
			out = append(out, p)
		}
	}
	return out
}

// currentDeck returns the cached deck, rebuilding when it is missing,
// nearly empty, or was shuffled for a different configuration.
func (e *Engine) currentDeck() (deck []string, rebuilt bool) {
	deck = e.loadStrings(keyDeck)
	var cfg Config
	stale := true
	if blob, err := e.store.GetBlob(keyDeckConfig); err == nil && blob != nil {
		if json.Unmarshal(blob, &cfg) == nil {
			stale = cfg != e.cfg
		}
	}
	if stale || len(deck) < e.weights.MinDeck {
		return e.rebuildDeck(), true
	}
	return deck, false
}

func (e *Engine) rebuildDeck() []string {
	var ids []string
	for _, p := range e.catalog.FilterConfig(e.cfg.Mode, e.cfg.Mood, e.cfg.Status) {
		if !e.sessionHistory[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	shuffle(ids, e.rng)
	e.saveDeck(ids)
	if blob, err := json.Marshal(e.cfg); err == nil {
		e.setBlob(keyDeckConfig, blob)
	}
	return ids
}

// record commits the chosen prompt into all four history layers and
// removes it from the cached deck.
func (e *Engine) record(p catalog.Prompt, short, long, categories []string, usage map[string]int, deck []string) {
	e.sessionHistory[p.ID] = true
	e.roundsPlayed++

	e.saveStrings(keyShortTerm, append(short, p.ID), shortTermLimit)
	e.saveStrings(keyLongTerm, append(long, p.ID), longTermLimit)
	e.saveStrings(keyCategories, append(categories, p.Category), categoryLimit)

	usage[p.ID]++
	if blob, err := json.Marshal(usage); err == nil {
		e.setBlob(keyUsageMap, blob)
	}

	remaining := deck[:0:0]
	for _, id := range deck {
		if id != p.ID {
			remaining = append(remaining, id)
		}
	}
	e.saveDeck(remaining)
}

// OnPromptCompleted records a completed prompt; every 4th consecutive
// completion raises the intensity one step.
func (e *Engine) OnPromptCompleted() {
	e.winStreak++
	e.consecutiveSkips = 0
	if e.winStreak%4 == 0 && e.intensity < catalog.MaxIntensity {
		e.intensity++
		e.log.Debug().Int("intensity", e.intensity).Msg("intensity raised")
	}
}

// OnPromptSkipped records a skip; two in a row lower the intensity and
// reset the streak.
func (e *Engine) OnPromptSkipped() {
	e.consecutiveSkips++
	e.winStreak = 0
	if e.consecutiveSkips >= 2 && e.intensity > catalog.MinIntensity {
		e.intensity--
		e.log.Debug().Int("intensity", e.intensity).Msg("intensity lowered")
	}
}

// OnPromptHesitation is the softer negative signal: it decays the streak
// without touching intensity.
func (e *Engine) OnPromptHesitation() {
	e.winStreak = max(0, e.winStreak-2)
}

// Reset clears in-session state for a new match. Persistent histories
// are left alone; ClearHistory is the destructive variant.
func (e *Engine) Reset() {
	e.intensity = catalog.MinIntensity
	e.sessionHistory = make(map[string]bool)
	e.consecutiveSkips = 0
	e.winStreak = 0
	e.roundsPlayed = 0
}

// ClearHistory wipes every persistent history layer. Distinct from Reset
// on purpose: this forgets everything ever served on this device.
func (e *Engine) ClearHistory() {
	for _, key := range []string{keyShortTerm, keyLongTerm, keyCategories, keyUsageMap, keyDeck, keyDeckConfig} {
		if err := e.store.Delete(key); err != nil {
			e.log.Warn().Err(err).Str("key", key).Msg("clear history")
		}
	}
}

// Storage helpers. All best-effort: a failed read behaves as empty, a
// failed write is logged and dropped.

func (e *Engine) loadStrings(key string) []string {
	blob, err := e.store.GetBlob(key)
	if err != nil || blob == nil {
		return nil
	}
	var out []string
	if json.Unmarshal(blob, &out) != nil {
		return nil
	}
	return out
}

func (e *Engine) saveStrings(key string, values []string, limit int) {
	if len(values) > limit {
		values = values[len(values)-limit:]
	}
	if blob, err := json.Marshal(values); err == nil {
		e.setBlob(key, blob)
	}
}

func (e *Engine) loadUsage() map[string]int {
	usage := make(map[string]int)
	if blob, err := e.store.GetBlob(keyUsageMap); err == nil && blob != nil {
		_ = json.Unmarshal(blob, &usage)
	}
	return usage
}

func (e *Engine) saveDeck(deck []string) {
	if blob, err := json.Marshal(deck); err == nil {
		e.setBlob(keyDeck, blob)
	}
}

func (e *Engine) setBlob(key string, blob []byte) {
	if err := e.store.SetBlob(key, blob); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("persist history")
	}
}
