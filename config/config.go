// Package config loads node settings from a YAML file, CLOBD_* environment
// variables and command-line flags, in increasing priority.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CLOBD"

type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Log      LogConfig      `mapstructure:"log"`
	WAL      WALConfig      `mapstructure:"wal"`
	Store    StoreConfig    `mapstructure:"store"`
	Epoch    EpochConfig    `mapstructure:"epoch"`
	Events   EventsConfig   `mapstructure:"events"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type WALConfig struct {
	Dir         string `mapstructure:"dir"`
	SegmentSize int64  `mapstructure:"segment_size"`
	Sync        bool   `mapstructure:"sync"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// EpochConfig drives the local ticker. Zero disables it; batches are then
// triggered only by execute commands on the ingest log.
type EpochConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type EventsConfig struct {
	Driver        string        `mapstructure:"driver"`
	Brokers       []string      `mapstructure:"brokers"`
	ClientID      string        `mapstructure:"client_id"`
	TradeTopic    string        `mapstructure:"trade_topic"`
	TransferTopic string        `mapstructure:"transfer_topic"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    uint32        `mapstructure:"max_retries"`
}

type IngestConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type SnapshotConfig struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
	DriverNone    = "none"
)

var ErrInvalid = errors.New("config: invalid")

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("wal.segment_size", 64<<20)
	v.SetDefault("wal.sync", true)
	v.SetDefault("epoch.interval", time.Second)
	v.SetDefault("events.driver", DriverNone)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.client_id", "clobd")
	v.SetDefault("events.trade_topic", "clob.trades")
	v.SetDefault("events.transfer_topic", "clob.transfers")
	v.SetDefault("events.interval", 250*time.Millisecond)
	v.SetDefault("events.batch_size", 512)
	v.SetDefault("events.max_retries", 0)
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.brokers", []string{"localhost:9092"})
	v.SetDefault("ingest.topic", "clob.commands")
	v.SetDefault("ingest.group", "clobd")
	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("snapshot.interval", time.Minute)
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("data-dir", "", "root directory for store, wal and snapshots")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("metrics-addr", "", "listen address for /metrics, empty to disable")
	fs.Duration("epoch-interval", 0, "local batch interval, 0 to rely on ingest")
	fs.String("events-driver", "", "sarama, kafka-go or none")
}

var flagKeys = map[string]string{
	"data-dir":       "data_dir",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.addr",
	"epoch-interval": "epoch.interval",
	"events-driver":  "events.driver",
}

// Load resolves the configuration. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "read config %s", f.Value.String())
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.fillDirs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fillDirs() {
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(c.DataDir, "store")
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = filepath.Join(c.DataDir, "wal")
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = filepath.Join(c.DataDir, "snapshots")
	}
}

func (c *Config) Validate() error {
	switch c.Events.Driver {
	case DriverSarama, DriverKafkaGo, DriverNone:
	default:
		return errors.Wrapf(ErrInvalid, "events.driver %q", c.Events.Driver)
	}
	if c.Events.Driver != DriverNone && len(c.Events.Brokers) == 0 {
		return errors.Wrap(ErrInvalid, "events.brokers is empty")
	}
	if c.Ingest.Enabled && (len(c.Ingest.Brokers) == 0 || c.Ingest.Topic == "") {
		return errors.Wrap(ErrInvalid, "ingest needs brokers and a topic")
	}
	if c.Epoch.Interval < 0 {
		return errors.Wrap(ErrInvalid, "epoch.interval is negative")
	}
	if c.WAL.SegmentSize <= 0 {
		return errors.Wrap(ErrInvalid, "wal.segment_size must be positive")
	}
	return nil
}
