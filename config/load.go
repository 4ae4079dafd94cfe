package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aimux/gateway/errors"
)

// envPrefix is the environment variable prefix for config overrides.
const envPrefix = "AIMUX"

// Load reads configuration from configPath (TOML) layered over built-in
// defaults and AIMUX_-prefixed environment variable overrides. configPath
// may be empty, in which case only defaults and env vars apply.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds every viper key from a zero/default-valued Config via
// reflection over mapstructure tags, so new fields never need a second
// hand-written default line as the schema grows.
func setDefaults(v *viper.Viper, def Config) {
	walkDefaults(v, "", reflect.ValueOf(def))
}

func walkDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct {
			walkDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// DurationFromMS is a small helper for converting the config's millisecond
// integer fields into time.Duration at the call site.
func DurationFromMS(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
