// Package persona carries the assistant's system text and the structured
// profile that is folded into every prompt envelope.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
)

// Persona is the identity the assistant answers as. Prompt is the free-form
// system text; Profile is machine-readable metadata rendered as a second
// system message so the model can quote exact facts.
type Persona struct {
	Name    string  `json:"name"`
	Prompt  string  `json:"prompt"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Role         string   `json:"role,omitempty"`
	Education    string   `json:"education,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Projects     []string `json:"projects,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
}

const defaultPrompt = `You are a personal assistant answering on behalf of your owner.
Answer in first person, drawing only on the profile facts provided.
Keep replies concise and conversational; they may be read aloud.
If a question falls outside the profile, say so instead of inventing details.`

// Default returns a neutral persona used when no persona file is configured.
func Default() Persona {
	return Persona{
		Name:   "Aide",
		Prompt: defaultPrompt,
	}
}

// Load reads a persona JSON file. An empty path yields Default.
func Load(path string) (Persona, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona: %w", err)
	}
	var p Persona
	if err := json.Unmarshal(raw, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona: %w", err)
	}
	if p.Prompt == "" {
		p.Prompt = defaultPrompt
	}
	return p, nil
}

// SystemMessages renders the persona as ordered system texts for an envelope.
func (p Persona) SystemMessages() []string {
	out := []string{p.Prompt}
	if ctx := p.profileContext(); ctx != "" {
		out = append(out, ctx)
	}
	return out
}

func (p Persona) profileContext() string {
	if p.Profile.Role == "" &&
		p.Profile.Education == "" &&
		len(p.Profile.Skills) == 0 &&
		len(p.Profile.Projects) == 0 &&
		len(p.Profile.Interests) == 0 &&
		len(p.Profile.Achievements) == 0 {
		return ""
	}
	raw, err := json.Marshal(p.Profile)
	if err != nil {
		return ""
	}
	return "Personal context: " + string(raw)
}
