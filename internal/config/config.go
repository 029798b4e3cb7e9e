package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information for the token
// record store.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig holds the fixed-window limits.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	IPMax         uint          `yaml:"ip_max"`
	OrgMax        uint          `yaml:"org_max"`
	Store         string        `yaml:"store"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// RedisConfig is used by every component configured with the "redis" backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuthConfig holds token issuing settings. TTLs are in seconds.
type AuthConfig struct {
	JWTSecret          string   `yaml:"jwt_secret"`
	RequireSecret      bool     `yaml:"require_secret"`
	Issuer             string   `yaml:"issuer"`
	Audience           string   `yaml:"audience"`
	DefaultTTL         int      `yaml:"default_ttl"`
	MaxTTL             int      `yaml:"max_ttl"`
	DefaultPermissions []string `yaml:"default_permissions"`
	RevocationStore    string   `yaml:"revocation_store"`
}

// UpstreamConfig points at the business service that admitted requests are
// forwarded to.
type UpstreamConfig struct {
	URL string `yaml:"url"`
}

// CORSConfig holds the headers sent on every response.
type CORSConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AllowedMethods []string      `yaml:"allowed_methods"`
	AllowedHeaders []string      `yaml:"allowed_headers"`
	MaxAge         time.Duration `yaml:"max_age"`
}

// RouteRule maps a business path prefix to the permissions it requires.
// Read applies to GET and HEAD, Write to every other method.
type RouteRule struct {
	Prefix          string `yaml:"prefix"`
	ReadPermission  string `yaml:"read_permission"`
	WritePermission string `yaml:"write_permission"`
}

// Config holds the configuration for the gatekeeper.
type Config struct {
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	CORS      CORSConfig      `yaml:"cors"`
	Routes    []RouteRule     `yaml:"routes"`
}

// DefaultRoutes guards the business resources behind the gatekeeper.
var DefaultRoutes = []RouteRule{
	{Prefix: "/api/customers", ReadPermission: "customers:read", WritePermission: "customers:write"},
	{Prefix: "/api/appointments", ReadPermission: "appointments:read", WritePermission: "appointments:write"},
	{Prefix: "/api/businesses", ReadPermission: "businesses:read", WritePermission: "businesses:write"},
	{Prefix: "/api/messages", ReadPermission: "messages:send", WritePermission: "messages:send"},
	{Prefix: "/api/automations", ReadPermission: "automations:run", WritePermission: "automations:run"},
}

// LoadConfig reads and parses the configuration file, then applies .env and
// environment overrides. A missing file is not an error. It returns the
// config and warnings the caller should log.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional; real environment variables always win over it.
	_ = godotenv.Load()

	if err := applyEnv(&config); err != nil {
		return nil, nil, err
	}
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, nil, err
	}

	if config.Auth.JWTSecret == "" {
		if config.Auth.RequireSecret {
			return nil, nil, fmt.Errorf("auth.jwt_secret is required (set GATEKEEPER_JWT_SECRET)")
		}
		secret, err := randomSecret()
		if err != nil {
			return nil, nil, err
		}
		config.Auth.JWTSecret = secret
		warnings = append(warnings, "auth.jwt_secret not set, using a random secret; issued tokens will not survive a restart")
	}

	return &config, warnings, nil
}

func applyEnv(config *Config) error {
	if port := os.Getenv("GATEKEEPER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid GATEKEEPER_PORT: %w", err)
		}
		config.Port = p
	}
	if debug := os.Getenv("GATEKEEPER_DEBUG"); debug != "" {
		config.Debug = debug == "true"
	}
	if secret := os.Getenv("GATEKEEPER_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if require := os.Getenv("GATEKEEPER_REQUIRE_SECRET"); require != "" {
		config.Auth.RequireSecret = require == "true"
	}
	if store := os.Getenv("GATEKEEPER_RATE_LIMIT_STORE"); store != "" {
		config.RateLimit.Store = store
	}
	if store := os.Getenv("GATEKEEPER_REVOCATION_STORE"); store != "" {
		config.Auth.RevocationStore = store
	}
	if window := os.Getenv("GATEKEEPER_RATE_LIMIT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("invalid GATEKEEPER_RATE_LIMIT_WINDOW: %w", err)
		}
		config.RateLimit.Window = d
	}
	if max := os.Getenv("GATEKEEPER_RATE_LIMIT_IP_MAX"); max != "" {
		n, err := strconv.ParseUint(max, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid GATEKEEPER_RATE_LIMIT_IP_MAX: %w", err)
		}
		config.RateLimit.IPMax = uint(n)
	}
	if max := os.Getenv("GATEKEEPER_RATE_LIMIT_ORG_MAX"); max != "" {
		n, err := strconv.ParseUint(max, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid GATEKEEPER_RATE_LIMIT_ORG_MAX: %w", err)
		}
		config.RateLimit.OrgMax = uint(n)
	}
	if addr := os.Getenv("GATEKEEPER_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("GATEKEEPER_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if dsn := os.Getenv("GATEKEEPER_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("GATEKEEPER_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if upstream := os.Getenv("GATEKEEPER_UPSTREAM_URL"); upstream != "" {
		config.Upstream.URL = upstream
	}
	if origins := os.Getenv("GATEKEEPER_CORS_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitList(origins)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 5 * time.Second
	}
	if config.RateLimit.Window == 0 {
		config.RateLimit.Window = 15 * time.Minute
	}
	if config.RateLimit.IPMax == 0 {
		config.RateLimit.IPMax = 100
	}
	if config.RateLimit.OrgMax == 0 {
		config.RateLimit.OrgMax = 1000
	}
	if config.RateLimit.Store == "" {
		config.RateLimit.Store = "memory"
	}
	if config.RateLimit.SweepSchedule == "" {
		config.RateLimit.SweepSchedule = "@every 5m"
	}
	if config.Redis.Prefix == "" {
		config.Redis.Prefix = "gatekeeper"
	}
	if config.Auth.Issuer == "" {
		config.Auth.Issuer = "gatekeeper"
	}
	if config.Auth.Audience == "" {
		config.Auth.Audience = "gatekeeper-services"
	}
	if config.Auth.DefaultTTL == 0 {
		config.Auth.DefaultTTL = 3600
	}
	if config.Auth.MaxTTL == 0 {
		config.Auth.MaxTTL = 86400
	}
	if len(config.Auth.DefaultPermissions) == 0 {
		config.Auth.DefaultPermissions = []string{"automations:run", "messages:send"}
	}
	if config.Auth.RevocationStore == "" {
		config.Auth.RevocationStore = "memory"
	}
	if len(config.CORS.AllowedOrigins) == 0 {
		config.CORS.AllowedOrigins = []string{"*"}
	}
	if len(config.CORS.AllowedMethods) == 0 {
		config.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(config.CORS.AllowedHeaders) == 0 {
		config.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "x-org-id"}
	}
	if config.CORS.MaxAge == 0 {
		config.CORS.MaxAge = 10 * time.Minute
	}
	if len(config.Routes) == 0 {
		config.Routes = DefaultRoutes
	}
}

func validate(config *Config) error {
	switch config.RateLimit.Store {
	case "memory":
	case "redis":
		if config.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.store is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("unsupported rate_limit.store: %s", config.RateLimit.Store)
	}

	switch config.Auth.RevocationStore {
	case "memory":
	case "redis":
		if config.Redis.Addr == "" {
			return fmt.Errorf("auth.revocation_store is redis but redis.addr is empty")
		}
	case "database":
		if config.Database.Type == "" || config.Database.DSN == "" {
			return fmt.Errorf("database type and dsn must be configured when auth.revocation_store is database")
		}
	default:
		return fmt.Errorf("unsupported auth.revocation_store: %s", config.Auth.RevocationStore)
	}

	if config.Auth.DefaultTTL > config.Auth.MaxTTL {
		return fmt.Errorf("auth.default_ttl (%d) exceeds auth.max_ttl (%d)", config.Auth.DefaultTTL, config.Auth.MaxTTL)
	}
	for _, rule := range config.Routes {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("route prefix must start with '/': %q", rule.Prefix)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
