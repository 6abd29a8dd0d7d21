// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
    "errors"
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Port          string    `yaml:"port"`
    DatabaseURL   string    `yaml:"databaseUrl"`
    DBMigrate     bool      `yaml:"dbMigrate"`
    MigrationsDir string    `yaml:"migrationsDir"`
    RedisURL      string    `yaml:"redisUrl"`
    AllowOrigins  []string  `yaml:"allowOrigins"`
    Auth          Auth      `yaml:"auth"`
    Rate          Rate      `yaml:"rate"`
    Webhooks      Webhooks  `yaml:"webhooks"`
    Log           Log       `yaml:"log"`
    Opt           Opt       `yaml:"opt"`
    Bootstrap     Bootstrap `yaml:"bootstrap"`
}

type Auth struct {
    Mode       string        `yaml:"mode"` // dev | hmac | jwks
    HMACSecret string        `yaml:"hmacSecret"`
    JWKSURL    string        `yaml:"jwksUrl"`
    Issuer     string        `yaml:"issuer"`
    Audience   string        `yaml:"audience"`
    TokenTTL   time.Duration `yaml:"tokenTtl"`
}

type Rate struct {
    RPS   float64 `yaml:"rps"`
    Burst int     `yaml:"burst"`
}

type Webhooks struct {
    MaxAttempts int `yaml:"maxAttempts"`
}

type Log struct {
    Level  string `yaml:"level"`
    File   string `yaml:"file"`
    Format string `yaml:"format"` // text | json
}

// Opt carries optimizer tuning shared by /v1/optimize and round planning.
type Opt struct {
    AverageSpeedKmh float64 `yaml:"averageSpeedKmh"`
    MaxStops        int     `yaml:"maxStops"`
    TwoOpt          bool    `yaml:"twoOpt"`
}

// Bootstrap creates a first admin user on an empty store.
type Bootstrap struct {
    AdminUser     string `yaml:"adminUser"`
    AdminPassword string `yaml:"adminPassword"`
    TenantID      string `yaml:"tenantId"`
}

func Default() Config {
    return Config{
        Port:          "8080",
        DBMigrate:     true,
        MigrationsDir: "db/migrations",
        Auth:          Auth{Mode: "dev", Issuer: "tourplan", TokenTTL: 12 * time.Hour},
        Rate:          Rate{RPS: 10, Burst: 20},
        Webhooks:      Webhooks{MaxAttempts: 10},
        Log:           Log{Level: "info", Format: "text"},
        Opt:           Opt{AverageSpeedKmh: 40, MaxStops: 500},
        Bootstrap:     Bootstrap{TenantID: "t_default"},
    }
}

// Load reads .env (if any), then path (or CONFIG_FILE, or ./config.yaml when
// present), then environment overrides, and validates the result.
func Load(path string) (Config, error) {
    _ = godotenv.Load()
    cfg := Default()
    if path == "" { path = os.Getenv("CONFIG_FILE") }
    explicit := path != ""
    if path == "" { path = "config.yaml" }
    b, err := os.ReadFile(path)
    switch {
    case err == nil:
        if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, fmt.Errorf("parse %s: %w", path, err) }
    case explicit || !errors.Is(err, os.ErrNotExist):
        return cfg, fmt.Errorf("read %s: %w", path, err)
    }
    if err := cfg.applyEnv(os.LookupEnv); err != nil { return cfg, err }
    return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
    str := func(k string, dst *string) {
        if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" { *dst = strings.TrimSpace(v) }
    }
    var errs []error
    num := func(k string, set func(string) error) {
        if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
            if err := set(strings.TrimSpace(v)); err != nil { errs = append(errs, fmt.Errorf("%s: %w", k, err)) }
        }
    }
    str("PORT", &c.Port)
    str("DATABASE_URL", &c.DatabaseURL)
    str("REDIS_URL", &c.RedisURL)
    str("AUTH_MODE", &c.Auth.Mode)
    str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
    str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
    str("LOG_LEVEL", &c.Log.Level)
    str("LOG_FILE", &c.Log.File)
    str("LOG_FORMAT", &c.Log.Format)
    str("BOOTSTRAP_ADMIN_USER", &c.Bootstrap.AdminUser)
    str("BOOTSTRAP_ADMIN_PASSWORD", &c.Bootstrap.AdminPassword)
    if v, ok := lookup("ALLOW_ORIGINS"); ok && strings.TrimSpace(v) != "" {
        c.AllowOrigins = nil
        for _, o := range strings.Split(v, ",") {
            if o = strings.TrimSpace(o); o != "" { c.AllowOrigins = append(c.AllowOrigins, o) }
        }
    }
    num("DB_MIGRATE", func(v string) (err error) { c.DBMigrate, err = strconv.ParseBool(v); return })
    num("AUTH_TOKEN_TTL", func(v string) (err error) { c.Auth.TokenTTL, err = time.ParseDuration(v); return })
    num("RATE_RPS", func(v string) (err error) { c.Rate.RPS, err = strconv.ParseFloat(v, 64); return })
    num("RATE_BURST", func(v string) (err error) { c.Rate.Burst, err = strconv.Atoi(v); return })
    num("WEBHOOK_MAX_ATTEMPTS", func(v string) (err error) { c.Webhooks.MaxAttempts, err = strconv.Atoi(v); return })
    num("OPT_AVG_SPEED_KMH", func(v string) (err error) { c.Opt.AverageSpeedKmh, err = strconv.ParseFloat(v, 64); return })
    num("OPT_MAX_STOPS", func(v string) (err error) { c.Opt.MaxStops, err = strconv.Atoi(v); return })
    num("OPT_TWO_OPT", func(v string) (err error) { c.Opt.TwoOpt, err = strconv.ParseBool(v); return })
    return errors.Join(errs...)
}

func (c Config) Validate() error {
    var errs []error
    if c.Port == "" { errs = append(errs, errors.New("port is required")) }
    switch strings.ToLower(c.Auth.Mode) {
    case "dev", "jwks":
    case "hmac":
        if c.Auth.HMACSecret == "" { errs = append(errs, errors.New("auth.hmacSecret is required in hmac mode")) }
    default:
        errs = append(errs, fmt.Errorf("auth.mode %q: want dev, hmac or jwks", c.Auth.Mode))
    }
    if c.Auth.Mode == "jwks" && c.Auth.JWKSURL == "" { errs = append(errs, errors.New("auth.jwksUrl is required in jwks mode")) }
    if c.Auth.TokenTTL <= 0 { errs = append(errs, errors.New("auth.tokenTtl must be positive")) }
    if c.Rate.RPS < 0 || c.Rate.Burst < 0 { errs = append(errs, errors.New("rate limits must not be negative")) }
    if c.Webhooks.MaxAttempts < 0 { errs = append(errs, errors.New("webhooks.maxAttempts must not be negative")) }
    if c.Opt.AverageSpeedKmh <= 0 { errs = append(errs, errors.New("opt.averageSpeedKmh must be positive")) }
    if c.Opt.MaxStops < 0 { errs = append(errs, errors.New("opt.maxStops must not be negative")) }
    switch c.Log.Format {
    case "", "text", "json":
    default:
        errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
    }
    return errors.Join(errs...)
}
