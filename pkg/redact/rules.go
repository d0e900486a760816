package redact

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule masks every match of Pattern with Mask.
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Rules is the redaction configuration. Values stored under one of Keys are
// masked whole, whatever they contain.
type Rules struct {
	Rules []Rule   `yaml:"rules" json:"rules"`
	Keys  []string `yaml:"keys" json:"keys"`
}

func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Rules{}, err
	}

	var cfg Rules
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Rules{}, err
	}
	if len(cfg.Rules) == 0 && len(cfg.Keys) == 0 {
		return Rules{}, errors.New("no redaction rules configured")
	}
	return cfg, nil
}

func DefaultRules() Rules {
	return Rules{
		Rules: []Rule{
			{Name: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "***@***", Enabled: true},
			{Name: "phone", Pattern: `(?:\+\d{1,3}[\s-]?)?\(?\d{3}\)?[\s-]?\d{3}[\s-]?\d{4}\b`, Mask: "***-***-****", Enabled: true},
			{Name: "national_id", Pattern: `\b\d{3}-\d{2}-\d{4}\b|\b\d{4}\s\d{4}\s\d{4}\b`, Mask: "****", Enabled: true},
		},
		Keys: []string{"phone", "mobile", "email", "address", "contact"},
	}
}
