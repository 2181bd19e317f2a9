package playground

import "strings"

// ModelConfig declares one selectable playground model.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Live     bool   `yaml:"live"`
	Upstream string `yaml:"upstream"`
}

// DefaultModels mirrors the portal's model picker: one live model, the rest simulated.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{Name: "Gemini-1.5-Pro"},
		{Name: "Claude 3.5 Sonnet", Live: true},
		{Name: "GPT-4"},
		{Name: "Jamba"},
	}
}

// Build wires a Router from model declarations. Live models call chatURL; they fall
// back to simulation when no URL is configured. The first live model becomes the
// default.
func Build(models []ModelConfig, chatURL, apiKey string) *Router {
	if len(models) == 0 {
		models = DefaultModels()
	}
	def := ""
	for _, m := range models {
		if m.Live {
			def = m.Name
			break
		}
	}
	if def == "" {
		def = models[0].Name
	}
	r := NewRouter(def)
	for _, m := range models {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		if m.Live && strings.TrimSpace(chatURL) != "" {
			r.Register(m.Name, NewHTTPBackend(chatURL, apiKey, m.Upstream))
			continue
		}
		r.Register(m.Name, Simulated{})
	}
	return r
}
