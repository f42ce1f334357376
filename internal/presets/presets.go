// Package presets holds named output profiles: a target encoding plus the
// retry policy used to reach it. Built-ins can be overridden or extended by
// a YAML file that is re-read when it changes.
package presets

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// Preset is one named output profile.
type Preset struct {
	Name        string                `yaml:"-" json:"name"`
	Description string                `yaml:"description" json:"description,omitempty"`
	Spec        transcode.TargetSpec  `yaml:"spec" json:"spec"`
	Policy      transcode.RetryPolicy `yaml:"-" json:"policy"`
}

// Builtins returns the presets available without a presets file.
func Builtins() map[string]Preset {
	builtin := []Preset{
		{
			Name:        "standard",
			Description: "720p, balanced quality",
			Spec:        transcode.TargetSpec{Width: 1280, Height: 720, FrameRate: 30, Quality: 23},
		},
		{
			Name:        "high",
			Description: "1080p, higher quality",
			Spec:        transcode.TargetSpec{Width: 1920, Height: 1080, FrameRate: 30, Quality: 20},
		},
		{
			Name:        "draft",
			Description: "480p preview, fastest",
			Spec:        transcode.TargetSpec{Width: 854, Height: 480, FrameRate: 24, Quality: 30, Preset: "ultrafast"},
		},
		{
			Name:        "vertical",
			Description: "1080x1920 portrait",
			Spec:        transcode.TargetSpec{Width: 1080, Height: 1920, FrameRate: 30, Quality: 23},
		},
	}

	out := make(map[string]Preset, len(builtin))
	for _, p := range builtin {
		p.Spec = p.Spec.WithDefaults()
		p.Policy = transcode.DefaultRetryPolicy()
		out[p.Name] = p
	}
	return out
}

// fileFormat is the presets YAML document:
//
//	presets:
//	  square:
//	    description: 1:1 social
//	    spec: {width: 1080, height: 1080, frame_rate: 30}
//	    policy: {degraded: false}
type fileFormat struct {
	Presets map[string]filePreset `yaml:"presets"`
}

type filePreset struct {
	Description string               `yaml:"description"`
	Spec        transcode.TargetSpec `yaml:"spec"`
	Policy      yaml.Node            `yaml:"policy"`
}

// LoadFile parses a presets file. Missing codec fields take defaults and
// policy keys overlay the default policy.
func LoadFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	return Parse(data)
}

// Parse decodes presets YAML.
func Parse(data []byte) (map[string]Preset, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	out := make(map[string]Preset, len(doc.Presets))
	for name, fp := range doc.Presets {
		name = normalizeName(name)
		if name == "" {
			return nil, fmt.Errorf("preset with empty name")
		}
		p := Preset{
			Name:        name,
			Description: fp.Description,
			Spec:        fp.Spec.WithDefaults(),
			Policy:      transcode.DefaultRetryPolicy(),
		}
		if fp.Policy.Kind != 0 {
			if err := fp.Policy.Decode(&p.Policy); err != nil {
				return nil, fmt.Errorf("preset %q policy: %w", name, err)
			}
		}
		if err := p.Spec.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry is the live preset set. Safe for concurrent use.
type Registry struct {
	defaultName string
	logger      *slog.Logger

	mu      sync.RWMutex
	path    string
	presets map[string]Preset
}

// NewRegistry starts with the built-ins. defaultName must name a built-in
// or a preset later loaded from file.
func NewRegistry(defaultName string, logger *slog.Logger) *Registry {
	return &Registry{
		defaultName: normalizeName(defaultName),
		logger:      logger,
		presets:     Builtins(),
	}
}

// LoadFile overlays path onto the built-ins and remembers path for Reload.
// On error the current set is kept.
func (r *Registry) LoadFile(path string) error {
	loaded, err := LoadFile(path)
	if err != nil {
		return err
	}

	merged := Builtins()
	for name, p := range loaded {
		merged[name] = p
	}
	if _, ok := merged[r.defaultName]; !ok {
		return fmt.Errorf("default preset %q not defined", r.defaultName)
	}

	r.mu.Lock()
	r.path = path
	r.presets = merged
	r.mu.Unlock()

	r.logger.Info("presets loaded", "path", path, "count", len(merged), "from_file", len(loaded))
	return nil
}

// Reload re-reads the file given to LoadFile. Without one it is a no-op.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := r.LoadFile(path); err != nil {
		r.logger.Warn("presets reload failed, keeping previous set", "path", path, "error", err)
		return err
	}
	return nil
}

// Get returns the named preset. An empty name selects the default.
func (r *Registry) Get(name string) (Preset, bool) {
	name = normalizeName(name)
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	return p, ok
}

// Default returns the default preset's name.
func (r *Registry) Default() string {
	return r.defaultName
}

// List returns every preset sorted by name.
func (r *Registry) List() []Preset {
	r.mu.RLock()
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
