// Package persona loads the system instruction and the fixed user-facing
// strings that make up the bot's policy. The conversation flow depends only
// on their structural role, never on their wording.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona is the swappable policy configuration for one deployment.
type Persona struct {
	Name          string `yaml:"name"`
	Health        string `yaml:"health"`
	FallbackReply string `yaml:"fallback_reply"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// Default returns the embedded real-estate appraisal persona.
func Default() Persona {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a persona file. An empty path yields the embedded default.
func Load(path string) (Persona, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: read %q: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: %q: %w", path, err)
	}
	return p, nil
}

// Parse decodes a persona document. Missing health and fallback strings are
// filled from the embedded default; the system prompt is mandatory.
func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("decode yaml: %w", err)
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if p.SystemPrompt == "" {
		return Persona{}, errors.New("system_prompt must not be empty")
	}
	if strings.TrimSpace(p.Health) == "" || strings.TrimSpace(p.FallbackReply) == "" {
		var def Persona
		if err := yaml.Unmarshal(defaultYAML, &def); err != nil {
			return Persona{}, fmt.Errorf("decode default: %w", err)
		}
		if strings.TrimSpace(p.Health) == "" {
			p.Health = def.Health
		}
		if strings.TrimSpace(p.FallbackReply) == "" {
			p.FallbackReply = def.FallbackReply
		}
	}
	return p, nil
}
