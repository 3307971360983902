package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/chain"
	"github.com/84hero/evm-gamefinder/pkg/finder"
	"github.com/84hero/evm-gamefinder/pkg/monitor"
	"github.com/84hero/evm-gamefinder/pkg/rpc"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/84hero/evm-gamefinder/pkg/sink"
	"github.com/84hero/evm-gamefinder/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

var ErrInvalidContract = errors.New("contract must be a hex address")

type Config struct {
	Project string    `mapstructure:"project"`
	Log     LogConfig `mapstructure:"log"`

	// Network names a built-in preset whose endpoints come first.
	Network   string           `mapstructure:"network"`
	Contract  string           `mapstructure:"contract"`
	Endpoints []chain.Endpoint `mapstructure:"endpoints"`

	Health  rpc.HealthConfig    `mapstructure:"health"`
	Fetch   scanner.FetchConfig `mapstructure:"fetch"`
	Finder  finder.Config       `mapstructure:"finder"`
	Monitor monitor.Config      `mapstructure:"monitor"`
	Scanner scanner.Config      `mapstructure:"scanner"`
	Storage storage.Config      `mapstructure:"storage"`
	Metrics MetricsConfig       `mapstructure:"metrics"`
	Outputs sink.Config         `mapstructure:"outputs"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

// ContractAddress returns the parsed contract address.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GAMEFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalars read from the environment only when viper knows the key.
	v.SetDefault("contract", "")
	v.SetDefault("network", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.url", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyPreset() error {
	if c.Network == "" {
		return nil
	}
	p, ok := chain.Get(c.Network)
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	c.Endpoints = append(p.Endpoints, c.Endpoints...)
	if c.Scanner.ChainID == "" {
		c.Scanner.ChainID = p.ChainID
	}
	if c.Scanner.Confirmations == 0 {
		c.Scanner.Confirmations = p.ReorgSafe
	}
	if c.Scanner.BatchSize == 0 {
		c.Scanner.BatchSize = p.BatchSize
	}
	if c.Scanner.Interval == 0 {
		c.Scanner.Interval = p.BlockTime
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scanner.BatchSize == 0 {
		c.Scanner.BatchSize = 100
	}
	if c.Scanner.Interval == 0 {
		c.Scanner.Interval = 3 * time.Second
	}
	if len(c.Finder.Windows) == 0 {
		c.Finder.Windows = append([]uint64(nil), finder.DefaultWindows...)
	}
	if c.Finder.FocusRadius == 0 {
		c.Finder.FocusRadius = finder.DefaultFocusRadius
	}
	if c.Finder.DisplayLimit == 0 {
		c.Finder.DisplayLimit = finder.DefaultDisplayLimit
	}
	if c.Outputs.Postgres.Table == "" {
		c.Outputs.Postgres.Table = "game_records"
	}
	if c.Outputs.Redis.Mode == "" {
		c.Outputs.Redis.Mode = "list"
	}
}

// Validate fails fast on settings no component can run with.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("%w: %q", ErrInvalidContract, c.Contract)
	}
	return chain.ValidateEndpoints(c.Endpoints)
}
