package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML decoding of values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// yamlConfig is the YAML file layout.
type yamlConfig struct {
	Listen string          `yaml:"listen"`
	Stats  string          `yaml:"stats"`
	Log    yamlLogConfig   `yaml:"log"`
	Flush  yamlFlushConfig `yaml:"flush"`
	Nodes  []Node          `yaml:"nodes"`
}

type yamlLogConfig struct {
	Level string `yaml:"level"`
}

type yamlFlushConfig struct {
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// LoadYAML reads the config file at path into cfg. Unknown keys are
// configuration errors; per-node defaults are applied after decoding.
func LoadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var yc yamlConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&yc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if yc.Listen != "" {
		cfg.ListenAddr = yc.Listen
	}
	if yc.Stats != "" {
		cfg.StatsAddr = yc.Stats
	}
	if yc.Log.Level != "" {
		cfg.LogLevel = yc.Log.Level
	}
	if yc.Flush.Interval != 0 {
		cfg.FlushInterval = time.Duration(yc.Flush.Interval)
	}
	if yc.Flush.Timeout != 0 {
		cfg.FlushTimeout = time.Duration(yc.Flush.Timeout)
	}

	cfg.Nodes = yc.Nodes
	for i := range cfg.Nodes {
		applyNodeDefaults(&cfg.Nodes[i])
	}
	return nil
}
