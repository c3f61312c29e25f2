package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tripsage/tripsage-core/pkg/models"
)

// File is the YAML agent/tool configuration.
//
//	agents:
//	  destinationResearch:
//	    maxSteps: 20
//	    temperature: 0.4
//	tools:
//	  webSearch:
//	    rateLimit: {limit: 20, window: 1m}
//	    cacheTTL: 10m
//	    bypassWhen: 'params.fresh == true'
type File struct {
	Agents map[string]map[string]interface{} `yaml:"agents"`
	Tools  map[string]ToolOverride           `yaml:"tools"`
}

// ToolOverride replaces parts of a tool's built-in guardrail configuration.
type ToolOverride struct {
	RateLimit *RateLimitOverride `yaml:"rateLimit"`
	CacheTTL  time.Duration      `yaml:"cacheTTL"`
	// BypassWhen is an expr-lang expression over `params` that skips the cache.
	BypassWhen string `yaml:"bypassWhen"`
}

type RateLimitOverride struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// LoadFile reads the YAML configuration. A missing file yields an empty
// configuration, so every agent runs with defaults.
func LoadFile(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", path).Msg("No agent config file, using defaults")
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes YAML configuration bytes.
func ParseFile(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for name, o := range f.Tools {
		if o.RateLimit != nil && (o.RateLimit.Limit <= 0 || o.RateLimit.Window <= 0) {
			return nil, fmt.Errorf("tool %q: rateLimit needs positive limit and window", name)
		}
	}
	return f, nil
}

// AgentConfig returns the stored configuration for a workflow kind.
// Values stay loosely typed; AgentConfig.Resolve applies the defaults.
func (f *File) AgentConfig(kind models.WorkflowKind) models.AgentConfig {
	cfg := models.AgentConfig{Kind: kind, Parameters: map[string]interface{}{}}
	if f == nil {
		return cfg
	}
	for k, v := range f.Agents[string(kind)] {
		cfg.Parameters[k] = v
	}
	return cfg
}

// ToolOverride returns the override for a tool, if any.
func (f *File) ToolOverride(name string) (ToolOverride, bool) {
	if f == nil {
		return ToolOverride{}, false
	}
	o, ok := f.Tools[name]
	return o, ok
}
