package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/affect-pipeline/affect"
)

type Service struct {
	URL string `yaml:"url"`
}
type Services struct {
	Face          Service `yaml:"face"`
	ASR           Service `yaml:"asr"`
	Chat          Service `yaml:"chat"`
	Visualization Service `yaml:"visualization"`
}
type Audio struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}
type Features struct {
	TimeWindow int `yaml:"time_window"`
	Overlap    int `yaml:"overlap"`
}

// Channel tunes one detection channel: its smoother, its confidence range
// and its loop timing.
type Channel struct {
	Capacity     int     `yaml:"capacity"`
	Window       int     `yaml:"window"`
	MinHistory   int     `yaml:"min_history"`
	FastPath     float64 `yaml:"fast_path"`
	CurrentBoost float64 `yaml:"current_boost"`
	Floor        float64 `yaml:"floor"`
	Ceiling      float64 `yaml:"ceiling"`
	// Interval is the tick period of timer-driven channels.
	Interval time.Duration `yaml:"interval"`
	// PauseThreshold finalizes an utterance after this much silence.
	PauseThreshold time.Duration `yaml:"pause_threshold"`
	// SettleDelay separates teardown and re-acquisition on retry.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// WarnAfter is the consecutive failed ticks that raise a warning.
	WarnAfter int `yaml:"warn_after"`
}

func (c Channel) Bounds() affect.Bounds {
	return affect.Bounds{Floor: c.Floor, Ceiling: c.Ceiling}
}

func (c Channel) Smoother() affect.SmootherConfig {
	return affect.SmootherConfig{
		Capacity:     c.Capacity,
		Window:       c.Window,
		MinHistory:   c.MinHistory,
		FastPath:     c.FastPath,
		CurrentBoost: c.CurrentBoost,
		Bounds:       c.Bounds(),
	}
}

type Channels struct {
	Facial Channel `yaml:"facial"`
	Vocal  Channel `yaml:"vocal"`
	Text   Channel `yaml:"text"`
}

type Root struct {
	Pipeline struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		LogLvl  string `yaml:"log_level"`
	} `yaml:"pipeline"`
	Audio    Audio    `yaml:"audio"`
	Services Services `yaml:"services"`
	Features Features `yaml:"features"`
	Channels Channels `yaml:"channels"`
	Paths    struct {
		Data    string `yaml:"data"`
		Outputs string `yaml:"outputs"`
	} `yaml:"paths"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Rules struct {
		LexiconPath string `yaml:"lexicon_path"`
	} `yaml:"rules"`
}

// Default returns the built-in configuration. Files are decoded on top of it,
// so a file only needs the keys it changes.
func Default() *Root {
	c := &Root{}
	c.Pipeline.Name = "affect-pipeline"
	c.Pipeline.Version = "0.1.0"
	c.Pipeline.LogLvl = "info"
	c.Audio = Audio{SampleRate: 16000, Channels: 1}
	c.Features = Features{TimeWindow: 30, Overlap: 10}
	c.Channels = Channels{
		Facial: Channel{
			Capacity: 50, Window: 7, MinHistory: 3, FastPath: 0.85, CurrentBoost: 1.8,
			Floor: 0.5, Ceiling: 0.97,
			Interval: 500 * time.Millisecond, SettleDelay: 500 * time.Millisecond, WarnAfter: 3,
		},
		Vocal: Channel{
			Capacity: 50, Window: 5, MinHistory: 3, FastPath: 0.85, CurrentBoost: 1.5,
			Floor: 0.5, Ceiling: 0.95,
			PauseThreshold: 1500 * time.Millisecond, SettleDelay: 500 * time.Millisecond, WarnAfter: 3,
		},
		Text: Channel{
			Capacity: 100, Window: 3, MinHistory: 3, FastPath: 0.85, CurrentBoost: 1.5,
			Floor: 0.5, Ceiling: 0.97,
			PauseThreshold: 1500 * time.Millisecond, SettleDelay: 500 * time.Millisecond, WarnAfter: 3,
		},
	}
	c.Paths.Data = "data"
	c.Paths.Outputs = "outputs"
	c.Server.Listen = ":8085"
	c.Store.Path = "affect.db"
	c.NATS.Subject = "affect.observations"
	return c
}

// Load reads the config for CONFIG_ENV (default "dev"), falling back to the
// shared config file.
func Load() (*Root, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	var guess []string = []string{
		filepath.Join("config", env, "config.yaml"),
		filepath.Join("src", "shared", "config.yaml"),
	}
	var err error
	for _, p := range guess {
		var cfg *Root
		if cfg, err = LoadFile(p); err == nil {
			return cfg, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, err
}

// LoadFile reads and validates the config at path.
func LoadFile(path string) (*Root, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges the pipeline relies on.
func (c *Root) Validate() error {
	var errs []error
	for name, ch := range map[string]Channel{
		"facial": c.Channels.Facial,
		"vocal":  c.Channels.Vocal,
		"text":   c.Channels.Text,
	} {
		if ch.Capacity < 1 {
			errs = append(errs, fmt.Errorf("channels.%s.capacity must be positive", name))
		}
		if ch.Window < 1 {
			errs = append(errs, fmt.Errorf("channels.%s.window must be positive", name))
		}
		if ch.Floor < 0 || ch.Ceiling > 1 || ch.Floor > ch.Ceiling {
			errs = append(errs, fmt.Errorf("channels.%s: need 0 <= floor <= ceiling <= 1", name))
		}
		if ch.CurrentBoost <= 0 {
			errs = append(errs, fmt.Errorf("channels.%s.current_boost must be positive", name))
		}
	}
	if c.Channels.Facial.Interval <= 0 {
		errs = append(errs, errors.New("channels.facial.interval must be positive"))
	}
	if c.Features.TimeWindow <= 0 || c.Features.Overlap < 0 || c.Features.Overlap >= c.Features.TimeWindow {
		errs = append(errs, errors.New("features: need 0 <= overlap < time_window"))
	}
	return errors.Join(errs...)
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
