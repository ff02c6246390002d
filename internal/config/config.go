package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	ClientID        string        `mapstructure:"UHC_CLIENT_ID"`
	ClientSecret    string        `mapstructure:"UHC_CLIENT_SECRET"`
	OAuthURL        string        `mapstructure:"UHC_OAUTH_URL"`
	APIBaseURL      string        `mapstructure:"UHC_API_BASE_URL"`
	UpstreamEnv     string        `mapstructure:"UHC_ENV"`
	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	GatewayURL      string        `mapstructure:"GATEWAY_URL"`
	GatewayToken    string        `mapstructure:"GATEWAY_AUTH_TOKEN"`
	TokenStore      string        `mapstructure:"TOKEN_STORE"`
	TokenFile       string        `mapstructure:"TOKEN_FILE"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	SQLitePath      string        `mapstructure:"SQLITE_PATH"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	BlobStore       string        `mapstructure:"BLOB_STORE"`
	BlobDir         string        `mapstructure:"BLOB_DIR"`
	BlobKey         string        `mapstructure:"BLOB_ENCRYPTION_KEY"`
	S3Bucket        string        `mapstructure:"S3_BUCKET"`
	AWSRegion       string        `mapstructure:"AWS_REGION"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	OTLPEndpoint    string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	TraceSampleRate float64       `mapstructure:"OTEL_TRACES_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV",
	"UHC_CLIENT_ID", "UHC_CLIENT_SECRET", "UHC_OAUTH_URL", "UHC_API_BASE_URL", "UHC_ENV",
	"UPSTREAM_TIMEOUT", "GATEWAY_URL", "GATEWAY_AUTH_TOKEN",
	"TOKEN_STORE", "TOKEN_FILE", "REDIS_URL",
	"DATABASE_URL", "SQLITE_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"BLOB_STORE", "BLOB_DIR", "BLOB_ENCRYPTION_KEY", "S3_BUCKET", "AWS_REGION",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("UHC_OAUTH_URL", "https://apimarketplace.uhc.com/v1/oauthtoken")
	v.SetDefault("UHC_API_BASE_URL", "https://apimarketplace.uhc.com/Eligibility")
	v.SetDefault("UHC_ENV", "production")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("TOKEN_STORE", "file")
	v.SetDefault("TOKEN_FILE", "uhc_oauth_token.json")
	v.SetDefault("SQLITE_PATH", "eligibility.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BLOB_STORE", "file")
	v.SetDefault("BLOB_DIR", "member-cards")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "http://localhost:" + cfg.Port
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, every request is treated as admin.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasCredentials reports whether both halves of the upstream client
// credentials are present.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// ValidateGateway checks what the proxy gateway needs to start. Missing
// upstream credentials are a configuration error that must halt the process.
func (c *Config) ValidateGateway() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "UHC_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "UHC_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("upstream credentials not found: set %s", strings.Join(missing, " and "))
	}
	if c.OAuthURL == "" || c.APIBaseURL == "" {
		return fmt.Errorf("UHC_OAUTH_URL and UHC_API_BASE_URL must not be empty")
	}
	return nil
}

// Validate checks that the configuration is safe to run the full server.
func (c *Config) Validate() error {
	if err := c.ValidateGateway(); err != nil {
		return err
	}

	switch c.TokenStore {
	case "file", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_STORE is \"redis\"")
		}
	default:
		return fmt.Errorf("TOKEN_STORE must be \"file\", \"redis\", or \"memory\", got %q", c.TokenStore)
	}

	switch c.BlobStore {
	case "file", "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_STORE is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_STORE must be \"file\", \"s3\", or \"memory\", got %q", c.BlobStore)
	}

	if c.BlobKey != "" {
		if key, err := hex.DecodeString(c.BlobKey); err != nil || len(key) != 32 {
			return fmt.Errorf("BLOB_ENCRYPTION_KEY must be 64 hex characters")
		}
	}

	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}

	return nil
}
