package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boristopalov/silentsky/pkg/messaging"
)

type Config struct {
	Environment EnvConfig    `yaml:"environment"`
	Bridge      BridgeConfig `yaml:"bridge"`
	Agent       AgentConfig  `yaml:"agent"`
	Logging     LogConfig    `yaml:"logging"`
}

type EnvConfig struct {
	Sectors       int                `yaml:"sectors"`
	EpisodeLength int                `yaml:"episode_length"`
	InitialBudget float64            `yaml:"initial_budget"`
	Seed          *int64             `yaml:"seed"`
	RewardWeights map[string]float64 `yaml:"reward_weights"`
}

// BridgeConfig is the messaging bridge section. Host and ports are joined
// into endpoint addresses by MessagingConfig.
type BridgeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	PubPort     int           `yaml:"pub_port"`
	RepPort     int           `yaml:"rep_port"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

type AgentConfig struct {
	Type       string `yaml:"type"`
	Strategy   string `yaml:"strategy"`
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Seed       *int64 `yaml:"seed"`
	MemorySize int    `yaml:"memory_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	EpisodeDir string `yaml:"episode_dir"`
	Catalog    string `yaml:"catalog"`
	Format     string `yaml:"format"`
	Compress   bool   `yaml:"compress"`
}

var (
	agentTypes      = []string{"heuristic", "llm"}
	agentStrategies = []string{"greedy", "round_robin", "hybrid", "random"}
	providers       = []string{"openai", "google"}
	episodeFormats  = []string{"json", "cbor"}
)

func Default() *Config {
	return &Config{
		Environment: EnvConfig{
			Sectors:       8,
			EpisodeLength: 100,
			InitialBudget: 1000,
		},
		Bridge: BridgeConfig{
			Host:        "127.0.0.1",
			PubPort:     5555,
			RepPort:     5556,
			SettleDelay: messaging.DefaultSettleDelay,
			PollTimeout: messaging.DefaultPollTimeout,
			JoinTimeout: messaging.DefaultJoinTimeout,
		},
		Agent: AgentConfig{
			Type:       "heuristic",
			Strategy:   "greedy",
			Provider:   "openai",
			MemorySize: 10,
		},
		Logging: LogConfig{
			Level:      "info",
			EpisodeDir: "data/episodes",
			Format:     "json",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path or a
// missing file yields the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Environment.Sectors <= 0 {
		errs = append(errs, fmt.Errorf("environment.sectors must be positive, got %d", c.Environment.Sectors))
	}
	if c.Environment.EpisodeLength <= 0 {
		errs = append(errs, fmt.Errorf("environment.episode_length must be positive, got %d", c.Environment.EpisodeLength))
	}
	if c.Environment.InitialBudget <= 0 {
		errs = append(errs, fmt.Errorf("environment.initial_budget must be positive, got %g", c.Environment.InitialBudget))
	}
	for name, port := range map[string]int{"bridge.pub_port": c.Bridge.PubPort, "bridge.rep_port": c.Bridge.RepPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if c.Bridge.PubPort != 0 && c.Bridge.PubPort == c.Bridge.RepPort {
		errs = append(errs, fmt.Errorf("bridge.pub_port and bridge.rep_port must differ, both %d", c.Bridge.PubPort))
	}
	if c.Bridge.PollTimeout <= 0 {
		errs = append(errs, errors.New("bridge.poll_timeout must be positive"))
	}
	if !oneOf(c.Agent.Type, agentTypes) {
		errs = append(errs, fmt.Errorf("agent.type %q not one of %s", c.Agent.Type, strings.Join(agentTypes, ", ")))
	}
	if !oneOf(c.Agent.Strategy, agentStrategies) {
		errs = append(errs, fmt.Errorf("agent.strategy %q not one of %s", c.Agent.Strategy, strings.Join(agentStrategies, ", ")))
	}
	if c.Agent.Type == "llm" && !oneOf(c.Agent.Provider, providers) {
		errs = append(errs, fmt.Errorf("agent.provider %q not one of %s", c.Agent.Provider, strings.Join(providers, ", ")))
	}
	if !oneOf(c.Logging.Format, episodeFormats) {
		errs = append(errs, fmt.Errorf("logging.format %q not one of %s", c.Logging.Format, strings.Join(episodeFormats, ", ")))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// MessagingConfig turns the bridge section into endpoint addresses.
func (b BridgeConfig) MessagingConfig() messaging.Config {
	return messaging.Config{
		Enabled:     b.Enabled,
		PublishAddr: net.JoinHostPort(b.Host, strconv.Itoa(b.PubPort)),
		RequestAddr: net.JoinHostPort(b.Host, strconv.Itoa(b.RepPort)),
	}
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
