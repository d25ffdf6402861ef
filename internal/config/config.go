// Package config loads server settings from environment variables.
//
// Every setting has a default except JWT_SECRET. Load reports every bad
// value at once (errors.Join) instead of stopping at the first, so a broken
// deployment can be fixed in one pass.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Environment string
	Port        int
	DBPath      string

	JWTSecret     string
	SessionTTL    time.Duration
	AuthRateLimit int // requests per minute per IP on register/login

	// TrustedProxies are the peers whose X-Forwarded-For / X-Real-IP headers
	// are believed. Empty means the socket address is always the client.
	TrustedProxies []netip.Prefix

	LogLevel  string
	LogFormat string // "text" or "json"

	RedisURL string // empty → in-process geocode cache

	GeocoderBaseURL   string
	GeocoderUserAgent string
	GeocoderCacheTTL  time.Duration
	GeocoderTimeout   time.Duration

	// Optional OAuth2 client-credentials for the geocoder. Either all three
	// are set or none.
	GeocoderOAuthClientID     string
	GeocoderOAuthClientSecret string
	GeocoderOAuthTokenURL     string

	OTLPEndpoint    string // empty → tracing off
	ShutdownTimeout time.Duration
}

// GeocoderOAuthEnabled reports whether client-credentials are configured.
func (c *Config) GeocoderOAuthEnabled() bool {
	return c.GeocoderOAuthClientID != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

// load takes the lookup function so tests don't have to touch the real
// environment.
func load(lookup func(string) (string, bool)) (*Config, error) {
	p := &parser{lookup: lookup}

	cfg := &Config{
		Environment:       p.str("ENVIRONMENT", "development"),
		Port:              p.integer("PORT", 8080),
		DBPath:            p.str("DB_PATH", "data/cycleconnect.db"),
		JWTSecret:         p.str("JWT_SECRET", ""),
		SessionTTL:        p.duration("SESSION_TTL", 24*time.Hour),
		AuthRateLimit:     p.integer("AUTH_RATE_LIMIT", 20),
		TrustedProxies:    p.prefixes("TRUSTED_PROXIES"),
		LogLevel:          strings.ToLower(p.str("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(p.str("LOG_FORMAT", "text")),
		RedisURL:          p.str("REDIS_URL", ""),
		GeocoderBaseURL:   p.str("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: p.str("GEOCODER_USER_AGENT", "cycleconnect/1.0 (group ride finder)"),
		GeocoderCacheTTL:  p.duration("GEOCODER_CACHE_TTL", time.Hour),
		GeocoderTimeout:   p.duration("GEOCODER_TIMEOUT", 10*time.Second),

		GeocoderOAuthClientID:     p.str("GEOCODER_OAUTH_CLIENT_ID", ""),
		GeocoderOAuthClientSecret: p.str("GEOCODER_OAUTH_CLIENT_SECRET", ""),
		GeocoderOAuthTokenURL:     p.str("GEOCODER_OAUTH_TOKEN_URL", ""),

		OTLPEndpoint:    p.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	p.check(len(cfg.JWTSecret) >= 16, "JWT_SECRET must be set to at least 16 characters")
	p.check(cfg.Port > 0 && cfg.Port < 65536, "PORT must be between 1 and 65535")
	p.check(cfg.SessionTTL > 0, "SESSION_TTL must be positive")
	p.check(cfg.AuthRateLimit > 0, "AUTH_RATE_LIMIT must be positive")
	p.check(cfg.LogFormat == "text" || cfg.LogFormat == "json", "LOG_FORMAT must be text or json")
	p.check(cfg.DBPath != "", "DB_PATH must not be empty")

	oauthSet := 0
	for _, v := range []string{cfg.GeocoderOAuthClientID, cfg.GeocoderOAuthClientSecret, cfg.GeocoderOAuthTokenURL} {
		if v != "" {
			oauthSet++
		}
	}
	p.check(oauthSet == 0 || oauthSet == 3,
		"GEOCODER_OAUTH_CLIENT_ID, GEOCODER_OAUTH_CLIENT_SECRET and GEOCODER_OAUTH_TOKEN_URL must be set together")

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// parser accumulates errors so Load can report all of them.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return fallback
	}
	return d
}

// prefixes parses a comma-separated list of CIDRs or bare IPs
// ("10.0.0.0/8, 192.0.2.7"). A bare IP becomes a single-address prefix.
func (p *parser) prefixes(key string) []netip.Prefix {
	v := p.str(key, "")
	if v == "" {
		return nil
	}
	var out []netip.Prefix
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			pfx, err := netip.ParsePrefix(item)
			if err != nil {
				p.errs = append(p.errs, fmt.Errorf("invalid %s entry %q: %w", key, item, err))
				continue
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid %s entry %q: %w", key, item, err))
			continue
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out
}

func (p *parser) check(ok bool, msg string) {
	if !ok {
		p.errs = append(p.errs, errors.New(msg))
	}
}
