// Package config defines the Config shape consumed by the core, per
// spec.md §6.1: the loader itself is boundary glue (cmd/flowcollector), but
// this package owns the exact recognized option set and its YAML
// (de)serialization, grounded on the teacher's config-less design enriched
// with the original's extra_plugins/output/clickhouse YAML plugin
// configuration (columns[]/connection block) and the rest of the pack's use
// of gopkg.in/yaml.v3 for structured config.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint is one (host, port) pair the InserterPool rotates through on
// reconnect.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Connection holds the remote store's address and credentials (§6.1
// connection.*).
type Connection struct {
	Endpoints []Endpoint `yaml:"endpoints"`
	User      string     `yaml:"user"`
	Password  string     `yaml:"password"`
	Database  string     `yaml:"database"`
	Table     string     `yaml:"table"`
}

// ColumnSource names where a Column's value comes from: a raw IANA/PEN
// element, a configured Alias, or the special per-message observation
// domain id, per spec.md §3 Column and §6.1 columns[].source.
type ColumnSource struct {
	// Element, if set, names an Information Element by its registry name
	// (e.g. "sourceIPv4Address").
	Element string `yaml:"element,omitempty"`

	// Alias, if set, names a configured Alias instead of a single Element.
	Alias string `yaml:"alias,omitempty"`

	// Special, if set, is "odid" — the only special source spec.md defines.
	Special string `yaml:"special,omitempty"`
}

// Column configures one output column: its name, where its value is
// resolved from, and whether it accepts SQL NULL.
type Column struct {
	Name     string       `yaml:"name"`
	Source   ColumnSource `yaml:"source"`
	Nullable bool         `yaml:"nullable"`
}

// Config is the exact recognized option set of §6.1, consumed as-is by the
// core regardless of which loader (file, env, flags) produced it.
type Config struct {
	Connection Connection `yaml:"connection"`
	Columns    []Column   `yaml:"columns"`

	InserterThreads int `yaml:"inserter_threads"`
	Blocks          int `yaml:"blocks"`

	BlockInsertThreshold    int `yaml:"block_insert_threshold"`
	BlockInsertMaxDelaySecs int `yaml:"block_insert_max_delay_secs"`

	SplitBiflow           bool `yaml:"split_biflow"`
	BiflowEmptyAutoignore bool `yaml:"biflow_empty_autoignore"`

	Nonblocking bool `yaml:"nonblocking"`
}

// BlockInsertMaxDelay returns BlockInsertMaxDelaySecs as a time.Duration.
func (c Config) BlockInsertMaxDelay() time.Duration {
	return time.Duration(c.BlockInsertMaxDelaySecs) * time.Second
}

// Load parses a YAML config document.
func Load(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the option set for the invariants spec.md §6.1 implies:
// at least one endpoint, a positive worker/pool size, and exactly one
// source kind per column.
func (c Config) Validate() error {
	if len(c.Connection.Endpoints) == 0 {
		return fmt.Errorf("config: connection.endpoints must have at least one entry")
	}
	if c.Connection.Table == "" {
		return fmt.Errorf("config: connection.table is required")
	}
	if c.InserterThreads <= 0 {
		return fmt.Errorf("config: inserter_threads must be positive")
	}
	if c.Blocks <= 0 {
		return fmt.Errorf("config: blocks must be positive")
	}
	if c.BlockInsertThreshold <= 0 {
		return fmt.Errorf("config: block_insert_threshold must be positive")
	}
	for i, col := range c.Columns {
		if err := col.Source.validate(); err != nil {
			return fmt.Errorf("config: column #%d (%q): %w", i, col.Name, err)
		}
	}
	return nil
}

func (s ColumnSource) validate() error {
	n := 0
	if s.Element != "" {
		n++
	}
	if s.Alias != "" {
		n++
	}
	if s.Special != "" {
		if s.Special != "odid" {
			return fmt.Errorf("unknown special source %q", s.Special)
		}
		n++
	}
	if n != 1 {
		return fmt.Errorf("exactly one of element, alias, or special must be set")
	}
	return nil
}
