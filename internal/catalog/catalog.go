// Package catalog loads the immutable prompt table and answers filtered
// lookups. Content is data, not code: prompts ship in a JSON file and are
// read once at startup.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Type distinguishes truths from dares.
type Type string

const (
	Truth Type = "truth"
	Dare  Type = "dare"
)

// Session configuration axes. Every prompt is tagged with all three.
type (
	Mode   string
	Mood   string
	Status string
)

const (
	ModeOffline Mode = "offline"
	ModeAI      Mode = "ai"
	ModeOnline  Mode = "online"

	MoodCasual   Mood = "casual"
	MoodIntimate Mood = "intimate"

	StatusRelationship Status = "relationship"
	StatusMarried      Status = "married"
)

// Intensity bounds. Prompts at or below the current setting stay
// eligible; raising intensity widens the pool rather than shifting it.
const (
	MinIntensity = 1
	MaxIntensity = 5
)

// Prompt is one immutable catalog entry. Identity is the ID.
type Prompt struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Content   string `json:"content"`
	Mode      Mode   `json:"mode"`
	Mood      Mood   `json:"mood"`
	Status    Status `json:"status"`
	Intensity int    `json:"intensity"`
	Category  string `json:"category"`
}

// Catalog is a read-only prompt collection with an ID index.
type Catalog struct {
	prompts []Prompt
	byID    map[string]*Prompt
}

// New builds a catalog from prompts already in memory.
func New(prompts []Prompt) *Catalog {
	c := &Catalog{
		prompts: prompts,
		byID:    make(map[string]*Prompt, len(prompts)),
	}
	for i := range c.prompts {
		c.byID[c.prompts[i].ID] = &c.prompts[i]
	}
	return c
}

// Load reads the prompt table from a JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var prompts []Prompt
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return New(prompts), nil
}

// Len returns the total prompt count.
func (c *Catalog) Len() int {
	return len(c.prompts)
}

// ByID looks a prompt up by identity.
func (c *Catalog) ByID(id string) (Prompt, bool) {
	p, ok := c.byID[id]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// All returns every prompt, for serving the table to clients.
func (c *Catalog) All() []Prompt {
	out := make([]Prompt, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// Filter returns prompts matching the session configuration, of the given
// type, with intensity at or below maxIntensity.
func (c *Catalog) Filter(t Type, mode Mode, mood Mood, status Status, maxIntensity int) []Prompt {
	var out []Prompt
	for _, p := range c.prompts {
		if p.Type == t && p.Mode == mode && p.Mood == mood && p.Status == status && p.Intensity <= maxIntensity {
			out = append(out, p)
		}
	}
	return out
}

// FilterConfig returns every prompt for a session configuration,
// regardless of type or intensity. The selector builds its deck from
// this and narrows per draw.
func (c *Catalog) FilterConfig(mode Mode, mood Mood, status Status) []Prompt {
	var out []Prompt
	for _, p := range c.prompts {
		if p.Mode == mode && p.Mood == mood && p.Status == status {
			out = append(out, p)
		}
	}
	return out
}
