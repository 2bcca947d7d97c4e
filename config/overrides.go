package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Viper keys. Environment variables are the upper-cased key with the
// SCHEMABUILD_ prefix, e.g. SCHEMABUILD_MIGRATIONS_DIR.
const (
	KeyURL            = "url"
	KeyHost           = "host"
	KeyPort           = "port"
	KeyDatabase       = "database"
	KeySchema         = "schema"
	KeyUser           = "user"
	KeyPassword       = "password"
	KeyImage          = "image"
	KeyStartupTimeout = "startup_timeout"
	KeyMigrationsDir  = "migrations_dir"
	KeyOutputDir      = "output_dir"
	KeyPackage        = "package"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "SCHEMABUILD"

// ApplyOverrides layers values set in v (bound flags and SCHEMABUILD_* env
// vars) over cfg. Only keys that are explicitly set win over the file.
func ApplyOverrides(cfg Config, v *viper.Viper) (Config, error) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	str(KeyHost, &cfg.Connection.Host)
	str(KeyDatabase, &cfg.Connection.Database)
	str(KeySchema, &cfg.Connection.Schema)
	str(KeyUser, &cfg.Connection.User)
	str(KeyPassword, &cfg.Connection.Password)
	str(KeyImage, &cfg.Image)
	str(KeyMigrationsDir, &cfg.Migrations.Dir)
	str(KeyOutputDir, &cfg.Generate.Output)
	str(KeyPackage, &cfg.Generate.Package)
	str(KeyLogLevel, &cfg.Log.Level)
	str(KeyLogFormat, &cfg.Log.Format)

	if v.IsSet(KeyPort) {
		cfg.Connection.Port = v.GetInt(KeyPort)
	}
	if v.IsSet(KeyStartupTimeout) {
		cfg.StartupTimeout = v.GetDuration(KeyStartupTimeout)
	}

	if v.IsSet(KeyURL) && v.GetString(KeyURL) != "" {
		conn, err := ConnectionFromURL(v.GetString(KeyURL), cfg.Connection)
		if err != nil {
			return Config{}, fmt.Errorf("apply %s: %w", KeyURL, err)
		}
		cfg.Connection = conn
	}
	return cfg, nil
}
