package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	FileMonitorModule   = "file_monitor"
	SystemMonitorModule = "system_monitor"

	DefaultWatchPath     = "/tmp/guardian-test"
	DefaultQueueCapacity = 1000
)

var ErrInvalid = errors.New("invalid configuration")

// モジュール設定の構造体
type Config struct {
	Enabled bool                   `mapstructure:"enabled"`
	Options map[string]interface{} `mapstructure:"options"`
}

// オプションを文字列で取得
func (c Config) String(key, fallback string) string {
	if v, ok := c.Options[key]; ok {
		if s := cast.ToString(v); s != "" {
			return s
		}
	}
	return fallback
}

func (c Config) Int(key string, fallback int) int {
	if v, ok := c.Options[key]; ok {
		if i, err := cast.ToIntE(v); err == nil {
			return i
		}
	}
	return fallback
}

func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	if v, ok := c.Options[key]; ok {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ScannerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RulesDir  string        `mapstructure:"rules_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

type RulesConfig struct {
	File string `mapstructure:"file"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Subject  string `mapstructure:"subject"`
	Compress bool   `mapstructure:"compress"`
}

type SinkConfig struct {
	Stdout bool       `mapstructure:"stdout"`
	NATS   NATSConfig `mapstructure:"nats"`
}

// 設定全体の構造体
type Configs struct {
	Hostname      string            `mapstructure:"hostname"`
	QueueCapacity int               `mapstructure:"queue_capacity"`
	MetricsAddr   string            `mapstructure:"metrics_addr"`
	Log           LogConfig         `mapstructure:"log"`
	Modules       map[string]Config `mapstructure:"modules"`
	Scanner       ScannerConfig     `mapstructure:"scanner"`
	Rules         RulesConfig       `mapstructure:"rules"`
	Sink          SinkConfig        `mapstructure:"sink"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("queue_capacity", DefaultQueueCapacity)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("modules.file_monitor.enabled", true)
	v.SetDefault("modules.file_monitor.options.path", DefaultWatchPath)
	v.SetDefault("modules.file_monitor.options.max_depth", 0)
	v.SetDefault("modules.system_monitor.enabled", true)
	v.SetDefault("modules.system_monitor.options.interval", "1s")

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.rules_dir", "")
	v.SetDefault("scanner.timeout", 10*time.Second)
	v.SetDefault("scanner.cache_size", 256)

	v.SetDefault("rules.file", "")

	v.SetDefault("sink.stdout", true)
	v.SetDefault("sink.nats.url", "")
	v.SetDefault("sink.nats.subject", "guardian.events")
	v.SetDefault("sink.nats.compress", false)
}

// 指定されたパスから設定を読み込み（空なら既定値と環境変数のみ）
func LoadConfig(path string) (*Configs, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("modules.file_monitor.options.path", "GUARDIAN_WATCH_PATH"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var configs Configs
	if err := v.Unmarshal(&configs); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := configs.Validate(); err != nil {
		return nil, err
	}

	return &configs, nil
}

// 設定値を検証
func (c *Configs) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue_capacity must be positive, got %d", ErrInvalid, c.QueueCapacity)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalid, c.Log.Format)
	}
	if c.Sink.NATS.URL != "" && c.Sink.NATS.Subject == "" {
		return fmt.Errorf("%w: sink.nats.subject is required when sink.nats.url is set", ErrInvalid)
	}
	return nil
}
