// Package config loads the acme-flow configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/textlayer"
)

// Config holds every value read from the TOML file.
type Config struct {
	Cycle      int    `toml:"cycle"`
	DebounceMS int    `toml:"debounce_ms"`
	Anchor     string `toml:"anchor"`
	Accent     string `toml:"accent"`
	LightEnd   string `toml:"light_end"`
	DarkEnd    string `toml:"dark_end"`

	// Mode is used when ModeFile is empty or unreadable.
	Mode     string `toml:"mode"`
	ModeFile string `toml:"mode_file"`

	// Documents and Exclude are glob patterns matched against a
	// document's name; a document is text-bearing when it matches some
	// Documents pattern and no Exclude pattern.
	Documents []string `toml:"documents"`
	Exclude   []string `toml:"exclude"`

	Layer string `toml:"layer"`
	Tag   string `toml:"tag"`
}

// Default returns the stock configuration.
func Default() Config {
	s := gradient.DefaultStops
	return Config{
		Cycle:      textlayer.DefaultCycle,
		DebounceMS: 120,
		Anchor:     s.Anchor.Hex(),
		Accent:     s.Accent.Hex(),
		LightEnd:   s.LightEnd.Hex(),
		DarkEnd:    s.DarkEnd.Hex(),
		Mode:       gradient.Light.String(),
		Documents:  []string{"*"},
		Exclude:    []string{"*/", "+*"},
		Layer:      "flow",
		Tag:        "Flow",
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at p.  An empty path yields Default.
func Load(p string) (Config, error) {
	if p == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", p, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	if c.Cycle <= 0 {
		err = multierr.Append(err, fmt.Errorf("cycle must be positive, got %d", c.Cycle))
	}
	if c.DebounceMS < 0 {
		err = multierr.Append(err, fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMS))
	}
	if _, serr := c.Stops(); serr != nil {
		err = multierr.Append(err, serr)
	}
	if _, merr := gradient.ParseMode(c.Mode); merr != nil {
		err = multierr.Append(err, merr)
	}
	for _, p := range append(append([]string(nil), c.Documents...), c.Exclude...) {
		if _, perr := path.Match(p, ""); perr != nil {
			err = multierr.Append(err, fmt.Errorf("bad pattern %q: %w", p, perr))
		}
	}
	if strings.TrimSpace(c.Layer) == "" {
		err = multierr.Append(err, errors.New("layer must not be empty"))
	}
	if strings.ContainsAny(c.Tag, " \t\n") {
		err = multierr.Append(err, fmt.Errorf("tag %q must be a single word", c.Tag))
	}
	return err
}

// Stops returns the configured gradient colours.
func (c Config) Stops() (gradient.Stops, error) {
	var s gradient.Stops
	var err error
	for _, f := range []struct {
		dst *gradient.RGB
		src string
	}{
		{&s.Anchor, c.Anchor},
		{&s.Accent, c.Accent},
		{&s.LightEnd, c.LightEnd},
		{&s.DarkEnd, c.DarkEnd},
	} {
		v, perr := gradient.ParseHex(f.src)
		if perr != nil {
			err = multierr.Append(err, perr)
			continue
		}
		*f.dst = v
	}
	return s, err
}

// Debounce returns the coalescing window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Accepts reports whether the document named doc is text-bearing.
// Patterns are matched against the whole name and against its last
// element, which keeps a trailing slash so "*/" matches directories.
func (c Config) Accepts(doc string) bool {
	if doc == "" {
		return false
	}
	return matchAny(c.Documents, doc) && !matchAny(c.Exclude, doc)
}

func matchAny(patterns []string, doc string) bool {
	base := doc
	if i := strings.LastIndex(strings.TrimSuffix(doc, "/"), "/"); i >= 0 {
		base = doc[i+1:]
	}
	for _, p := range patterns {
		if ok, _ := path.Match(p, doc); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// ModeSource returns a function reporting the current presentation mode.
// It rereads ModeFile on every call and falls back to Mode.
func (c Config) ModeSource() func() gradient.Mode {
	fallback, _ := gradient.ParseMode(c.Mode)
	file := c.ModeFile
	return func() gradient.Mode {
		if file == "" {
			return fallback
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fallback
		}
		m, err := gradient.ParseMode(string(data))
		if err != nil {
			return fallback
		}
		return m
	}
}
