package hound

import (
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaultTTL mirrors the teacher's RegisterOptions.TimeToLive default.
const defaultTTL int64 = 10

// Settings are the two process-scoped values spec.md §6 Configuration
// calls for: the namespace every key in the store is rooted under, and
// a default lease TTL for callers to pass to Register. Register itself
// has no fallback: it rejects a TTL below one second.
type Settings struct {
	Namespace  string
	DefaultTTL int64
}

// LoadSettings reads service_namespace and etcd_ttl via viper, exactly
// as the teacher's NewReadInConfig loads service configuration: a
// config file if one is set, overridable by environment variables and
// command-line flags, with etcd_ttl defaulting to 10 seconds when
// unset. Namespace is required; an empty value after loading is an
// error rather than a silent default, since every store key is rooted
// under it.
func LoadSettings(file string) (Settings, error) {
	v := viper.New()
	v.SetDefault("etcd_ttl", defaultTTL)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, err
		}
	}

	if pflag.Parsed() {
		if err := v.BindPFlags(pflag.CommandLine); err != nil {
			return Settings{}, err
		}
	}

	namespace := v.GetString("service_namespace")
	if namespace == "" {
		return Settings{}, ErrEmptySegment
	}

	ttl := v.GetInt64("etcd_ttl")
	if ttl < 1 {
		ttl = defaultTTL
	}

	return Settings{Namespace: namespace, DefaultTTL: ttl}, nil
}

// String renders settings for logging; not used for parsing.
func (s Settings) String() string {
	return "namespace=" + s.Namespace + " etcd_ttl=" + strconv.FormatInt(s.DefaultTTL, 10)
}
