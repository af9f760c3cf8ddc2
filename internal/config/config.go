// Package config loads process settings from the environment and an optional
// config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"whispers/internal/blob"
	"whispers/internal/core"
	"whispers/internal/infra/blob/s3"
)

// EnvPrefix prefixes every environment variable, e.g. WHISPERS_STORAGE_DRIVER.
const EnvPrefix = "WHISPERS"

type Config struct {
	StorageDriver string        `mapstructure:"storage_driver"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	LockBackend   string        `mapstructure:"lock_backend"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`

	BlobDriver        string `mapstructure:"blob_driver"`
	BlobRoot          string `mapstructure:"blob_root"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Prefix          string `mapstructure:"s3_prefix"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	S3PathStyle       bool   `mapstructure:"s3_path_style"`

	SendgridAPIKey   string `mapstructure:"sendgrid_api_key"`
	SendgridFrom     string `mapstructure:"sendgrid_from"`
	SendgridFromName string `mapstructure:"sendgrid_from_name"`

	AdminUserID           int64    `mapstructure:"admin_user_id"`
	AdminEmail            string   `mapstructure:"admin_email"`
	WhispersEmail         string   `mapstructure:"whispers_email"`
	PendingDiagnosis      string   `mapstructure:"pending_diagnosis"`
	UndeterminedDiagnosis string   `mapstructure:"undetermined_diagnosis"`
	RequiredCommentTypes  []string `mapstructure:"required_comment_types"`

	GeocoderURL     string        `mapstructure:"geocoder_url"`
	GeocoderTimeout time.Duration `mapstructure:"geocoder_timeout"`

	ReferenceDataPath string `mapstructure:"reference_data_path"`

	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

var keys = []string{
	"storage_driver", "sqlite_path", "postgres_dsn", "lock_backend", "lock_timeout",
	"blob_driver", "blob_root", "s3_bucket", "s3_region", "s3_prefix", "s3_endpoint",
	"s3_access_key_id", "s3_secret_access_key", "s3_path_style",
	"sendgrid_api_key", "sendgrid_from", "sendgrid_from_name",
	"admin_user_id", "admin_email", "whispers_email", "pending_diagnosis",
	"undetermined_diagnosis", "required_comment_types",
	"geocoder_url", "geocoder_timeout", "reference_data_path",
	"log_level", "log_format", "metrics_addr",
}

func setDefaults(v *viper.Viper) {
	def := core.DefaultSettings()
	v.SetDefault("storage_driver", string(core.StorageSQLite))
	v.SetDefault("sqlite_path", "./whispers.db")
	v.SetDefault("lock_backend", string(core.LockLocal))
	v.SetDefault("lock_timeout", core.DefaultLockTimeout)
	v.SetDefault("blob_driver", string(blob.DriverFilesystem))
	v.SetDefault("blob_root", "./archive")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("sendgrid_from_name", "WHISPers")
	v.SetDefault("admin_user_id", def.AdminUserID)
	v.SetDefault("admin_email", def.AdminEmail)
	v.SetDefault("whispers_email", def.WhispersEmail)
	v.SetDefault("pending_diagnosis", def.PendingDiagnosis)
	v.SetDefault("undetermined_diagnosis", def.UndeterminedDiagnosis)
	v.SetDefault("required_comment_types", def.RequiredCommentTypes)
	v.SetDefault("geocoder_timeout", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_addr", ":9090")
}

// Load reads settings. path names an optional config file (yaml, json or
// toml); environment variables override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// env values arrive comma separated and untrimmed
	cfg.RequiredCommentTypes = splitList(strings.Join(cfg.RequiredCommentTypes, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the combinations Load cannot default away.
func (c *Config) Validate() error {
	var errs []error
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_driver %q", c.StorageDriver))
	}
	switch core.LockBackend(c.LockBackend) {
	case core.LockLocal:
	case core.LockAdvisory:
		if core.StorageDriver(c.StorageDriver) != core.StoragePostgres {
			errs = append(errs, errors.New("advisory locks require the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock_backend %q", c.LockBackend))
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3_bucket is required for the s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob_driver %q", c.BlobDriver))
	}
	if c.SendgridAPIKey != "" && c.SendgridFrom == "" {
		errs = append(errs, errors.New("sendgrid_from is required when sendgrid_api_key is set"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// StorageOptions maps the storage settings onto core.
func (c *Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.StorageDriver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
		Lock:        core.LockBackend(c.LockBackend),
		LockTimeout: c.LockTimeout,
	}
}

// Blob maps the archive settings onto blob.Config.
func (c *Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.BlobRoot,
		S3: s3.Config{
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
			PathStyle:       c.S3PathStyle,
		},
	}
}

// Settings maps the operator names onto core.Settings.
func (c *Config) Settings() core.Settings {
	return core.Settings{
		AdminUserID:           c.AdminUserID,
		AdminEmail:            c.AdminEmail,
		WhispersEmail:         c.WhispersEmail,
		PendingDiagnosis:      c.PendingDiagnosis,
		UndeterminedDiagnosis: c.UndeterminedDiagnosis,
		RequiredCommentTypes:  c.RequiredCommentTypes,
	}
}
