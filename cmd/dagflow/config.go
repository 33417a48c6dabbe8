package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dagflow/dagflow/internal/connector/ethlog"
	"github.com/dagflow/dagflow/internal/connector/kafkasource"
	"github.com/dagflow/dagflow/internal/connector/objectstore"
	"github.com/dagflow/dagflow/internal/connector/pgsource"
	"github.com/dagflow/dagflow/pkg/dag"
)

// runConfig is the YAML shape the "run" command loads: a discriminated
// "kind" field on its source selects which of the demo connectors to build.
type runConfig struct {
	DataDir          string `yaml:"dataDir"`
	MetricsAddr      string `yaml:"metricsAddr"`
	LogLevel         string `yaml:"logLevel"`
	LogJSON          bool   `yaml:"logJSON"`
	ChannelBuffer    int    `yaml:"channelBuffer"`
	IdleEpochSeconds int    `yaml:"idleEpochSeconds"`

	Source sourceConfig `yaml:"source"`

	IdleEpoch time.Duration `yaml:"-"`
}

type sourceConfig struct {
	Kind        string             `yaml:"kind"`
	Pgsource    *pgsource.Config   `yaml:"pgsource,omitempty"`
	Objectstore *objectstore.Config `yaml:"objectstore,omitempty"`
	Ethlog      *ethlog.Config     `yaml:"ethlog,omitempty"`
	Kafkasource *kafkasource.Config `yaml:"kafkasource,omitempty"`
}

func loadConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &runConfig{
		DataDir:          "./dagflow-data",
		MetricsAddr:      ":9090",
		LogLevel:         "info",
		ChannelBuffer:    0,
		IdleEpochSeconds: 5,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.IdleEpoch = time.Duration(cfg.IdleEpochSeconds) * time.Second
	return cfg, nil
}

// buildSource resolves the configured source kind into a dag.SourceFactory
// (every concrete factory also satisfies engine.SourceFactory).
func buildSource(c sourceConfig) (dag.SourceFactory, error) {
	switch c.Kind {
	case "pgsource":
		if c.Pgsource == nil {
			return nil, fmt.Errorf("source.pgsource config is required for kind pgsource")
		}
		return pgsource.NewFactory(*c.Pgsource), nil
	case "objectstore":
		if c.Objectstore == nil {
			return nil, fmt.Errorf("source.objectstore config is required for kind objectstore")
		}
		return objectstore.NewSourceFactory(*c.Objectstore), nil
	case "ethlog":
		if c.Ethlog == nil {
			return nil, fmt.Errorf("source.ethlog config is required for kind ethlog")
		}
		return ethlog.NewFactory(*c.Ethlog), nil
	case "kafkasource":
		if c.Kafkasource == nil {
			return nil, fmt.Errorf("source.kafkasource config is required for kind kafkasource")
		}
		return kafkasource.NewFactory(*c.Kafkasource), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", c.Kind)
	}
}
