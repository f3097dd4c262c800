// Package config loads the pipeline parameters from a YAML file and
// CLUSTERPROMOTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/kmeans"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/knee"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/partition"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g.
// CLUSTERPROMOTE_BASE_EXPERIMENT_NAME.
const EnvPrefix = "CLUSTERPROMOTE"

// DefaultFile is read when Load is given no explicit path.
const DefaultFile = "params.yaml"

// #region types
// Config is the full parameter set.
type Config struct {
	Base      BaseConfig      `mapstructure:"base" yaml:"base"`
	KMeans    KMeansConfig    `mapstructure:"kmeans_cluster" yaml:"kmeans_cluster"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Trainer   TrainerConfig   `mapstructure:"trainer" yaml:"trainer"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
}

type BaseConfig struct {
	RandomState        uint64 `mapstructure:"random_state" yaml:"random_state"`
	ExperimentName     string `mapstructure:"experiment_name" yaml:"experiment_name" validate:"required"`
	PartitioningFamily string `mapstructure:"partitioning_family" yaml:"partitioning_family" validate:"required"`
}

type KMeansConfig struct {
	Init        string     `mapstructure:"init" yaml:"init" validate:"oneof=k-means++ random"`
	MaxClusters int        `mapstructure:"max_clusters" yaml:"max_clusters" validate:"gte=2"`
	MaxIter     int        `mapstructure:"max_iter" yaml:"max_iter" validate:"gte=1"`
	NInit       int        `mapstructure:"n_init" yaml:"n_init" validate:"gte=1"`
	Tolerance   float64    `mapstructure:"tolerance" yaml:"tolerance" validate:"gt=0"`
	KneeLocator KneeConfig `mapstructure:"knee_locator" yaml:"knee_locator"`
}

type KneeConfig struct {
	Curve       string  `mapstructure:"curve" yaml:"curve" validate:"oneof=convex concave"`
	Direction   string  `mapstructure:"direction" yaml:"direction" validate:"oneof=increasing decreasing"`
	Sensitivity float64 `mapstructure:"sensitivity" yaml:"sensitivity" validate:"gte=0"`
}

type ArtifactsConfig struct {
	Backend          string             `mapstructure:"backend" yaml:"backend" validate:"oneof=badger gcs"`
	BadgerPath       string             `mapstructure:"badger_path" yaml:"badger_path" validate:"required_if=Backend badger"`
	InputFilesBucket string             `mapstructure:"input_files_bucket" yaml:"input_files_bucket" validate:"required"`
	ModelBucket      string             `mapstructure:"model_bucket" yaml:"model_bucket" validate:"required"`
	ElbowPlotKey     string             `mapstructure:"elbow_plot_key" yaml:"elbow_plot_key"`
	StageBuckets     StageBucketsConfig `mapstructure:"stage_buckets" yaml:"stage_buckets"`
	GCS              GCSConfig          `mapstructure:"gcs" yaml:"gcs"`
}

type StageBucketsConfig struct {
	Staging    string `mapstructure:"staging" yaml:"staging" validate:"required"`
	Production string `mapstructure:"production" yaml:"production" validate:"required"`
}

// GCSConfig authenticates the gcs backend. An empty credentials file uses
// application default credentials.
type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// RegistryConfig selects the tracking registry. A non-empty Addr talks to a
// registryd over gRPC; otherwise DBPath is opened directly.
type RegistryConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path" validate:"required_without=Addr"`
	Addr   string `mapstructure:"addr" yaml:"addr"`
}

// TrainerConfig names the external per-partition training command.
type TrainerConfig struct {
	Command []string      `mapstructure:"command" yaml:"command,omitempty"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type ServerConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr" validate:"required"`
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr" validate:"required"`
}

type TracingConfig struct {
	Exporter string `mapstructure:"exporter" yaml:"exporter" validate:"oneof=none stdout"`
}
// #endregion types

// #region defaults
// Default returns the parameters used when neither file nor environment
// override a key.
func Default() *Config {
	opts := kmeans.DefaultOptions()
	return &Config{
		Base: BaseConfig{
			RandomState:        opts.Seed,
			ExperimentName:     "default",
			PartitioningFamily: "KMeans",
		},
		KMeans: KMeansConfig{
			Init:        string(opts.Init),
			MaxClusters: 11,
			MaxIter:     opts.MaxIter,
			NInit:       opts.NInit,
			Tolerance:   opts.Tol,
			KneeLocator: KneeConfig{
				Curve:       string(knee.Convex),
				Direction:   string(knee.Decreasing),
				Sensitivity: knee.DefaultSensitivity,
			},
		},
		Artifacts: ArtifactsConfig{
			Backend:          "badger",
			BadgerPath:       "data/artifacts",
			InputFilesBucket: "input-files",
			ModelBucket:      "models",
			ElbowPlotKey:     "plots/elbow.png",
			StageBuckets: StageBucketsConfig{
				Staging:    "models-staging",
				Production: "models-production",
			},
		},
		Registry: RegistryConfig{DBPath: "data/registry.db"},
		Trainer:  TrainerConfig{Timeout: time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Server:   ServerConfig{GRPCAddr: ":7070", HTTPAddr: ":8080"},
		Tracing:  TracingConfig{Exporter: "none"},
	}
}

// SetDefaults registers every key on v so environment overrides resolve
// even when the file omits them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("base.random_state", d.Base.RandomState)
	v.SetDefault("base.experiment_name", d.Base.ExperimentName)
	v.SetDefault("base.partitioning_family", d.Base.PartitioningFamily)

	v.SetDefault("kmeans_cluster.init", d.KMeans.Init)
	v.SetDefault("kmeans_cluster.max_clusters", d.KMeans.MaxClusters)
	v.SetDefault("kmeans_cluster.max_iter", d.KMeans.MaxIter)
	v.SetDefault("kmeans_cluster.n_init", d.KMeans.NInit)
	v.SetDefault("kmeans_cluster.tolerance", d.KMeans.Tolerance)
	v.SetDefault("kmeans_cluster.knee_locator.curve", d.KMeans.KneeLocator.Curve)
	v.SetDefault("kmeans_cluster.knee_locator.direction", d.KMeans.KneeLocator.Direction)
	v.SetDefault("kmeans_cluster.knee_locator.sensitivity", d.KMeans.KneeLocator.Sensitivity)

	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.badger_path", d.Artifacts.BadgerPath)
	v.SetDefault("artifacts.input_files_bucket", d.Artifacts.InputFilesBucket)
	v.SetDefault("artifacts.model_bucket", d.Artifacts.ModelBucket)
	v.SetDefault("artifacts.elbow_plot_key", d.Artifacts.ElbowPlotKey)
	v.SetDefault("artifacts.stage_buckets.staging", d.Artifacts.StageBuckets.Staging)
	v.SetDefault("artifacts.stage_buckets.production", d.Artifacts.StageBuckets.Production)
	v.SetDefault("artifacts.gcs.credentials_file", d.Artifacts.GCS.CredentialsFile)

	v.SetDefault("registry.db_path", d.Registry.DBPath)
	v.SetDefault("registry.addr", d.Registry.Addr)

	v.SetDefault("trainer.command", d.Trainer.Command)
	v.SetDefault("trainer.dir", d.Trainer.Dir)
	v.SetDefault("trainer.timeout", d.Trainer.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
}
// #endregion defaults

// #region load
// Load reads path (or params.yaml in the working directory when path is
// empty and the file exists), applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// WriteDefault writes the default parameters as YAML.
func WriteDefault(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return enc.Close()
}
// #endregion load

// #region builders
// KMeansOptions converts the kmeans_cluster section.
func (c *Config) KMeansOptions() kmeans.Options {
	return kmeans.Options{
		Init:    kmeans.Init(c.KMeans.Init),
		Seed:    c.Base.RandomState,
		MaxIter: c.KMeans.MaxIter,
		Tol:     c.KMeans.Tolerance,
		NInit:   c.KMeans.NInit,
	}
}

// CounterConfig builds the elbow sweep configuration. The plot lands in the
// input-files bucket.
func (c *Config) CounterConfig() partition.CounterConfig {
	cfg := partition.CounterConfig{
		MaxK:        c.KMeans.MaxClusters,
		KMeans:      c.KMeansOptions(),
		Curve:       knee.Curve(c.KMeans.KneeLocator.Curve),
		Direction:   knee.Direction(c.KMeans.KneeLocator.Direction),
		Sensitivity: c.KMeans.KneeLocator.Sensitivity,
	}
	if c.Artifacts.ElbowPlotKey != "" {
		cfg.PlotLocation = artifact.Location{Bucket: c.Artifacts.InputFilesBucket, Key: c.Artifacts.ElbowPlotKey}
	}
	return cfg
}

// AssignerConfig builds the partitioning fit configuration.
func (c *Config) AssignerConfig() partition.AssignerConfig {
	return partition.AssignerConfig{
		KMeans: c.KMeansOptions(),
		Family: c.Base.PartitioningFamily,
		Bucket: c.Artifacts.ModelBucket,
	}
}

// StageBuckets maps promotion stages to their buckets.
func (c *Config) StageBuckets() promote.StageBuckets {
	return promote.StageBuckets{
		registry.StageStaging:    c.Artifacts.StageBuckets.Staging,
		registry.StageProduction: c.Artifacts.StageBuckets.Production,
	}
}

// LoggerConfig builds the logger configuration for service.
func (c *Config) LoggerConfig(service string) logging.Config {
	return logging.Config{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Dir:     c.Logging.Dir,
		Service: service,
	}
}

// TracerConfig builds the tracer configuration for service.
func (c *Config) TracerConfig(service string) tracing.Config {
	return tracing.Config{ServiceName: service, Exporter: c.Tracing.Exporter}
}
// #endregion builders
