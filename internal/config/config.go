// Package config holds the process configuration: global settings from
// flags and the per-destination node blocks from the YAML file.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Buffer size bounds for a node's send buffer, in bytes.
const (
	MinBufferSize = 1024
	MaxBufferSize = 1024 * 128
)

// Per-node defaults.
const (
	DefaultPort       = 8883
	DefaultTopic      = "collectd"
	DefaultBufferSize = MaxBufferSize
	// DefaultProtocolVersion pins MQTT 3.1.1.
	DefaultProtocolVersion = 4
	DefaultKeepalive       = 60 * time.Second
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config is the full process configuration.
type Config struct {
	// ListenAddr is the record ingest HTTP listen address.
	ListenAddr string
	// StatsAddr serves Prometheus metrics and health endpoints.
	StatsAddr string
	// FlushInterval is how often the periodic flusher runs.
	FlushInterval time.Duration
	// FlushTimeout is the staleness timeout passed to periodic flushes;
	// a batch younger than this is left to accumulate.
	FlushTimeout time.Duration
	// LogLevel is the minimum log severity (debug, info, warn, error).
	LogLevel string
	// Nodes are the configured publish destinations.
	Nodes []Node

	ShowHelp    bool
	ShowVersion bool
}

// Node is one publish destination with its own buffer and connection.
type Node struct {
	// Name identifies the destination in logs and metrics.
	Name string `yaml:"name"`
	// Driver selects the transport backend: mqtt (default) or amqp.
	Driver string `yaml:"driver"`
	// Host is the broker host. Required.
	Host string `yaml:"host"`
	// Port is the broker port.
	Port int `yaml:"port"`
	// ClientID identifies this client to the broker. Defaults to the
	// local hostname.
	ClientID string `yaml:"client_id"`
	// Username and Password authenticate against the broker.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// CAPath enables TLS when set.
	CAPath string `yaml:"ca_path"`
	// ClientKey and ClientCert enable mutual TLS.
	ClientKey  string `yaml:"client_key"`
	ClientCert string `yaml:"client_cert"`
	// Insecure skips broker certificate verification.
	Insecure bool `yaml:"insecure"`
	// ProtocolVersion pins the MQTT protocol level.
	ProtocolVersion uint `yaml:"protocol_version"`
	// QoS is the delivery quality level, 0 or 1.
	QoS int `yaml:"qos"`
	// Topic is the publish topic (AMQP: routing key).
	Topic string `yaml:"topic"`
	// StoreRates converts counter-like values to rates before encoding.
	StoreRates bool `yaml:"store_rates"`
	// BufferSize is the send buffer capacity in bytes.
	BufferSize int `yaml:"buffer_size"`
	// Compression compresses the finalized batch: none, gzip or zstd.
	Compression string `yaml:"compression"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		StatsAddr:     ":9090",
		FlushInterval: 10 * time.Second,
		FlushTimeout:  30 * time.Second,
		LogLevel:      "info",
	}
}

// applyNodeDefaults fills unset node fields with their defaults.
func applyNodeDefaults(n *Node) {
	if n.Driver == "" {
		n.Driver = "mqtt"
	}
	if n.Port == 0 {
		n.Port = DefaultPort
	}
	if n.ClientID == "" {
		if hostname, err := os.Hostname(); err == nil {
			n.ClientID = hostname
		}
	}
	if n.ProtocolVersion == 0 {
		n.ProtocolVersion = DefaultProtocolVersion
	}
	if n.Topic == "" {
		n.Topic = DefaultTopic
	}
	if n.BufferSize == 0 {
		n.BufferSize = DefaultBufferSize
	}
	if n.Compression == "" {
		n.Compression = "none"
	}
	if n.Name == "" {
		n.Name = n.Host
	}
}

// Validate checks one node block. A failing node is not registered; other
// nodes are unaffected.
func (n *Node) Validate() error {
	if n.Host == "" {
		return fmt.Errorf("node %q: no Host defined", n.Name)
	}
	if n.Port < 1 || n.Port > 65535 {
		return fmt.Errorf("node %q: invalid port %d", n.Name, n.Port)
	}
	if n.QoS < 0 || n.QoS > 1 {
		return fmt.Errorf("node %q: invalid QoS %d, must be 0 or 1", n.Name, n.QoS)
	}
	if n.BufferSize < MinBufferSize || n.BufferSize > MaxBufferSize {
		return fmt.Errorf("node %q: buffer size %d out of range [%d, %d]",
			n.Name, n.BufferSize, MinBufferSize, MaxBufferSize)
	}
	switch n.Driver {
	case "mqtt", "amqp":
	default:
		return fmt.Errorf("node %q: unsupported driver %q", n.Name, n.Driver)
	}
	switch n.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("node %q: unsupported compression %q", n.Name, n.Compression)
	}
	return nil
}

// ParseFlags parses command-line flags and loads the YAML config file.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Record ingest HTTP listen address")
	flag.StringVar(&cfg.StatsAddr, "stats", cfg.StatsAddr, "Metrics and health listen address")
	flag.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "How often the periodic flusher runs")
	flag.DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "Staleness timeout for periodic flushes")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log severity: debug, info, warn or error")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Print usage and exit")
	flag.Parse()

	if cfg.ShowHelp || cfg.ShowVersion {
		return cfg, nil
	}

	if configFile != "" {
		if err := LoadYAML(configFile, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// PrintUsage prints flag usage.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
}

// PrintVersion prints the build version.
func PrintVersion() {
	fmt.Printf("mqtt-publisher %s\n", Version)
}
