package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	PublicURL string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	// Pool tuning for a small, bursty index workload: a handful of
	// upserts per successful pairing plus readiness pings.
	DBMaxConnLifetime   time.Duration
	DBMaxConnIdleTime   time.Duration
	DBHealthCheckPeriod time.Duration
	DBStatementTimeout  time.Duration
	DBPingTimeout       time.Duration

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// IndexPath is the JSON session index used when no DB is configured.
	IndexPath string
	// IndexKeyHex seals the index file with XChaCha20-Poly1305 when set.
	IndexKeyHex string

	// If true, WHIZQR_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so token
	// fingerprints in logs are keyed.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("WHIZQR_HTTP_ADDR", "0.0.0.0:8080"),
		PublicURL: EnvString("WHIZQR_PUBLIC_URL", ""),
		LogLevel:  EnvString("WHIZQR_LOG_LEVEL", "info"),
		LogFormat: EnvString("WHIZQR_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("WHIZQR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WHIZQR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WHIZQR_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WHIZQR_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("WHIZQR_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("WHIZQR_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("WHIZQR_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WHIZQR_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WHIZQR_DB_MIN_CONNS", 0),

		DBMaxConnLifetime:   EnvDuration("WHIZQR_DB_MAX_CONN_LIFETIME", 30*time.Minute),
		DBMaxConnIdleTime:   EnvDuration("WHIZQR_DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		DBHealthCheckPeriod: EnvDuration("WHIZQR_DB_HEALTH_CHECK_PERIOD", time.Minute),
		DBStatementTimeout:  EnvDuration("WHIZQR_DB_STATEMENT_TIMEOUT", 5*time.Second),
		DBPingTimeout:       EnvDuration("WHIZQR_DB_PING_TIMEOUT", 3*time.Second),

		ReadinessRequireDB: EnvBool("WHIZQR_READINESS_REQUIRE_DB", false),

		IndexPath:   EnvString("WHIZQR_INDEX_PATH", "data/sessions.json"),
		IndexKeyHex: EnvString("WHIZQR_INDEX_KEY_HEX", ""),

		RequireTokenHMAC: EnvBool("WHIZQR_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvList("WHIZQR_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("WHIZQR_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("WHIZQR_CORS_MAX_AGE_SECONDS", 600),
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, strings.ToLower(o))
		}
	}
	return out
}
