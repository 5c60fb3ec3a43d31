package config

import (
	"fmt"
	"strings"
	"time"

	auth "github.com/evprediag/go-station-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment keys. A double underscore marks
// a section boundary: STATIONAUTH_IDENTITY__SIGNING_KEY -> identity.signing_key.
const EnvPrefix = "STATIONAUTH_"

const delim = "."

type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server"`
	Database DatabaseConfig `koanf:"database" json:"database"`
	Identity IdentityConfig `koanf:"identity" json:"identity"`
	Guard    GuardConfig    `koanf:"guard" json:"guard"`
	Cache    CacheConfig    `koanf:"cache" json:"cache"`
	Features FeaturesConfig `koanf:"features" json:"features"`
	Logger   LoggerConfig   `koanf:"logger" json:"logger"`
}

type ServerConfig struct {
	Addr                  string `koanf:"addr" json:"addr"`
	ShutdownTimeout       string `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	RegistrationPerMinute int    `koanf:"registration_per_minute" json:"registration_per_minute"`
	RegistrationBurst     int    `koanf:"registration_burst" json:"registration_burst"`
	CookieSecure          bool   `koanf:"cookie_secure" json:"cookie_secure"`
}

func (s ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, 10*time.Second)
}

type DatabaseConfig struct {
	DSN     string `koanf:"dsn" json:"-"`
	Migrate bool   `koanf:"migrate" json:"migrate"`
	Debug   bool   `koanf:"debug" json:"debug"`
}

type IdentityConfig struct {
	SigningKey          string `koanf:"signing_key" json:"-"`
	Issuer              string `koanf:"issuer" json:"issuer"`
	TokenTTL            string `koanf:"token_ttl" json:"token_ttl"`
	BcryptCost          int    `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	RequireConfirmation bool   `koanf:"require_confirmation" json:"require_confirmation"`
	HashedIDs           bool   `koanf:"hashed_ids" json:"hashed_ids"`
}

func (i IdentityConfig) GetTokenTTL() time.Duration {
	return parseDuration(i.TokenTTL, 12*time.Hour)
}

type GuardConfig struct {
	SignInPath string                  `koanf:"sign_in_path" json:"sign_in_path"`
	CookieName string                  `koanf:"cookie_name" json:"cookie_name"`
	Routes     []auth.RouteRequirement `koanf:"routes" json:"routes"`
}

// RouteTable builds the guard's lookup table from the configured routes.
func (g GuardConfig) RouteTable() *auth.RouteTable {
	return auth.NewRouteTable(g.Routes...)
}

type CacheConfig struct {
	StationSize int    `koanf:"station_size" json:"station_size"`
	StationTTL  string `koanf:"station_ttl" json:"station_ttl"`
}

func (c CacheConfig) GetStationTTL() time.Duration {
	return parseDuration(c.StationTTL, 5*time.Minute)
}

type FeaturesConfig struct {
	Signup              bool `koanf:"signup" json:"signup"`
	StationRegistration bool `koanf:"station_registration" json:"station_registration"`
}

type LoggerConfig struct {
	Debug bool `koanf:"debug" json:"debug"`
}

// Defaults are loaded before any file or environment source.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":                    ":8080",
		"server.shutdown_timeout":        "10s",
		"server.registration_per_minute": 5,
		"server.registration_burst":      5,
		"server.cookie_secure":           true,
		"database.dsn":                   "",
		"database.migrate":               true,
		"database.debug":                 false,
		"identity.issuer":                "go-station-auth",
		"identity.token_ttl":             "12h",
		"identity.bcrypt_cost":           10,
		"identity.require_confirmation":  false,
		"identity.hashed_ids":            false,
		"guard.sign_in_path":             "/sign-in",
		"guard.cookie_name":              "station_session",
		"cache.station_size":             1024,
		"cache.station_ttl":              "5m",
		"features.signup":                true,
		"features.station_registration":  true,
		"logger.debug":                   false,
	}
}

// Load merges defaults, the optional YAML file at path and the environment,
// in that order, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(confmap.Provider(Defaults(), delim), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load config defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, delim, envKey), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load config from environment")
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", delim)
}

func (c *Config) Validate() error {
	fields := map[string]string{}

	if c.Server.Addr == "" {
		fields["server.addr"] = "cannot be blank"
	}
	if c.Server.RegistrationPerMinute <= 0 {
		fields["server.registration_per_minute"] = "must be greater than zero"
	}
	if c.Database.DSN == "" {
		fields["database.dsn"] = "cannot be blank"
	}
	if len(c.Identity.SigningKey) < 32 {
		fields["identity.signing_key"] = "must be at least 32 bytes"
	}
	if c.Identity.BcryptCost < 4 || c.Identity.BcryptCost > 31 {
		fields["identity.bcrypt_cost"] = "must be between 4 and 31"
	}
	for _, d := range []struct{ key, value string }{
		{"identity.token_ttl", c.Identity.TokenTTL},
		{"cache.station_ttl", c.Cache.StationTTL},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			fields[d.key] = "invalid duration"
		}
	}
	for i, route := range c.Guard.Routes {
		key := fmt.Sprintf("guard.routes.%d", i)
		if route.Path == "" || !strings.HasPrefix(route.Path, "/") {
			fields[key+".path"] = "must start with /"
		}
		for _, role := range route.RequiredRoles {
			if _, ok := auth.ParseRole(string(role)); !ok {
				fields[key+".required_roles"] = fmt.Sprintf("unknown role %q", role)
			}
		}
		switch route.Match {
		case "", auth.MatchAny, auth.MatchAll:
		default:
			fields[key+".match"] = fmt.Sprintf("unknown match mode %q", route.Match)
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidationFromMap("invalid configuration", fields).
		WithTextCode("INVALID_CONFIG")
}

func parseDuration(expr string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(expr)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
