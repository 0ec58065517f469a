// Package config loads the server's configuration table (spec.md §7:
// ae_title, max_pdu_length, queue_depth, backpressure_policy,
// cache_capacity, cache_ttl, worker_pool_sizes, idle_session_timeout)
// from flags, environment variables, and an optional file, in that
// precedence order. The core packages never import this package; main()
// loads a Config and passes the resolved values down as explicit
// constructor arguments and server.Option values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WorkerPoolSizes gives the worker count for each of the six pipeline
// stages, keyed by the stage names in metrics.Stage*.
type WorkerPoolSizes struct {
	NetworkReceive int `mapstructure:"network_receive" validate:"min=1"`
	PduDecode      int `mapstructure:"pdu_decode" validate:"min=1"`
	DimseProcess   int `mapstructure:"dimse_process" validate:"min=1"`
	Execute        int `mapstructure:"execute" validate:"min=1"`
	ResponseEncode int `mapstructure:"response_encode" validate:"min=1"`
	NetworkSend    int `mapstructure:"network_send" validate:"min=1"`
}

// Config is the resolved, validated configuration table.
type Config struct {
	AETitle            string          `mapstructure:"ae_title" validate:"required,max=16"`
	ListenAddress      string          `mapstructure:"listen_address" validate:"required"`
	MaxPDULength       uint32          `mapstructure:"max_pdu_length" validate:"min=4096"`
	QueueDepth         int             `mapstructure:"queue_depth" validate:"min=1"`
	BackpressurePolicy string          `mapstructure:"backpressure_policy" validate:"oneof=block drop shed_oldest"`
	CacheCapacity      int             `mapstructure:"cache_capacity" validate:"min=0"`
	CacheTTL           time.Duration   `mapstructure:"cache_ttl"`
	WorkerPoolSizes    WorkerPoolSizes `mapstructure:"worker_pool_sizes"`
	IdleSessionTimeout time.Duration   `mapstructure:"idle_session_timeout"`
	IdleSweepInterval  time.Duration   `mapstructure:"idle_sweep_interval"`
	IndexBackend       string          `mapstructure:"index_backend" validate:"oneof=memory sqlite postgres"`
	IndexDSN           string          `mapstructure:"index_dsn"`
	BlobBackend        string          `mapstructure:"blob_backend" validate:"oneof=disk postgres"`
	BlobDSN            string          `mapstructure:"blob_dsn"`
	// MoveDestinations maps a C-MOVE destination AE title to the
	// "host:port" a sub-operation for that title connects to. An AE
	// title absent from this table fails the move with
	// StatusRefusedMoveDestUnknown (0xA801) rather than guessing an
	// address.
	MoveDestinations map[string]string `mapstructure:"move_destinations"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("ae_title", "DICOMNET")
	v.SetDefault("listen_address", ":4242")
	v.SetDefault("max_pdu_length", 16384)
	v.SetDefault("queue_depth", 256)
	v.SetDefault("backpressure_policy", "block")
	v.SetDefault("cache_capacity", 1024)
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("worker_pool_sizes.network_receive", 4)
	v.SetDefault("worker_pool_sizes.pdu_decode", 4)
	v.SetDefault("worker_pool_sizes.dimse_process", 4)
	v.SetDefault("worker_pool_sizes.execute", 16)
	v.SetDefault("worker_pool_sizes.response_encode", 4)
	v.SetDefault("worker_pool_sizes.network_send", 4)
	v.SetDefault("idle_session_timeout", 10*time.Minute)
	v.SetDefault("idle_sweep_interval", 30*time.Second)
	v.SetDefault("index_backend", "memory")
	v.SetDefault("blob_backend", "disk")
	v.SetDefault("blob_dsn", "./data/blobs")
}

// Load resolves the configuration table from, in increasing precedence:
// defaults, an optional file at path (if non-empty and present), environment
// variables prefixed DICOMNET_, and flags already bound onto fs by the
// caller. It validates the result and returns the first validation error.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("dicomnet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}
