package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"wallet-auth-service/internal/util"
)

type ServerConfig struct {
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers         []string
	AuthEventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL             string
	Username        string
	Password        string
	AuthEventsIndex string
}

type TwilioConfig struct {
	AccountSID     string
	APIKey         string
	APISecret      string
	FromNumber     string
	MessagingURL   string
	LookupURL      string
	StatusCallback string
}

type SMSalaConfig struct {
	BaseURL     string
	APIID       string
	APIPassword string
	SenderID    string
}

type IPCheckConfig struct {
	LookupURL          string
	APIKey             string
	Timeout            time.Duration
	BlacklistedIPs     []string
	BlacklistedIPTypes []string
}

type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// LimitConfig is a single named rate limiter budget: at most Points
// consumptions per subject key within Window.
type LimitConfig struct {
	Points int
	Window time.Duration
}

type LimitsConfig struct {
	RequestCodePerPhone  LimitConfig
	RequestCodePerIP     LimitConfig
	LoginAttemptPerPhone LimitConfig
	FailedLoginPerIP     LimitConfig
}

type OTPConfig struct {
	DedupWindow    time.Duration
	ValidityWindow time.Duration
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// TestAccount is a trusted phone/code pair that bypasses OTP dispatch.
type TestAccount struct {
	Phone string
	Code  string
}

type Config struct {
	Environment string
	ServiceName string
	Network     string
	SMSProvider string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Twilio        TwilioConfig
	SMSala        SMSalaConfig
	IPCheck       IPCheckConfig
	JWT           JWTConfig
	Limits        LimitsConfig
	OTP           OTPConfig
	Bucketing     BucketingConfig
	TestAccounts  []TestAccount
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads .env (if present) and builds the full configuration
// from environment variables with development defaults.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		globalConfig = buildConfig()
	})
	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func buildConfig() *Config {
	return &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		ServiceName: util.GetEnv("SERVICE_NAME", "wallet"),
		Network:     util.GetEnv("NETWORK", "REGTEST"),
		SMSProvider: strings.ToLower(util.GetEnv("SMS_PROVIDER", "twilio")),

		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 3000),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 3443),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", ""),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "wallet_auth"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:         util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuthEventsTopic: util.GetEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "wallet_auth"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:             util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:        util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:        util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			AuthEventsIndex: util.GetEnv("ELASTICSEARCH_AUTH_EVENTS_INDEX", "auth-events"),
		},
		Twilio: TwilioConfig{
			AccountSID:     util.GetEnv("TWILIO_ACCOUNT_SID", ""),
			APIKey:         util.GetEnv("TWILIO_API_KEY", ""),
			APISecret:      util.GetEnv("TWILIO_API_SECRET", ""),
			FromNumber:     util.GetEnv("TWILIO_PHONE_NUMBER", ""),
			MessagingURL:   util.GetEnv("TWILIO_MESSAGING_URL", "https://api.twilio.com"),
			LookupURL:      util.GetEnv("TWILIO_LOOKUP_URL", "https://lookups.twilio.com"),
			StatusCallback: util.GetEnv("TWILIO_STATUS_CALLBACK", ""),
		},
		SMSala: SMSalaConfig{
			BaseURL:     util.GetEnv("SMSALA_BASE_URL", "http://api.smsala.com/api/SendSMS"),
			APIID:       util.GetEnv("SMSALA_API_ID", ""),
			APIPassword: util.GetEnv("SMSALA_API_PASSWORD", ""),
			SenderID:    util.GetEnv("SMSALA_SENDER_ID", ""),
		},
		IPCheck: IPCheckConfig{
			LookupURL:          util.GetEnv("IPCHECK_LOOKUP_URL", "https://proxycheck.io/v2"),
			APIKey:             util.GetEnv("IPCHECK_API_KEY", ""),
			Timeout:            util.GetEnvDuration("IPCHECK_TIMEOUT", 3*time.Second),
			BlacklistedIPs:     util.GetEnvSlice("IPCHECK_BLACKLISTED_IPS", nil),
			BlacklistedIPTypes: util.GetEnvSlice("IPCHECK_BLACKLISTED_TYPES", []string{"vpn", "tor", "hosting"}),
		},
		JWT: JWTConfig{
			Secret:   util.GetEnv("JWT_SECRET", "dev-only-secret"),
			TokenTTL: util.GetEnvDuration("JWT_TOKEN_TTL", 60*24*time.Hour),
		},
		Limits: LimitsConfig{
			RequestCodePerPhone:  loadLimit("REQUEST_CODE_PER_PHONE", 4, time.Hour),
			RequestCodePerIP:     loadLimit("REQUEST_CODE_PER_IP", 8, time.Hour),
			LoginAttemptPerPhone: loadLimit("LOGIN_ATTEMPT_PER_PHONE", 6, time.Hour),
			FailedLoginPerIP:     loadLimit("FAILED_LOGIN_PER_IP", 10, 24*time.Hour),
		},
		OTP: OTPConfig{
			DedupWindow:    util.GetEnvDuration("OTP_DEDUP_WINDOW", 30*time.Second),
			ValidityWindow: util.GetEnvDuration("OTP_VALIDITY_WINDOW", 20*time.Minute),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  util.GetEnvInt("USER_BUCKETS", 100),
			EventBuckets: util.GetEnvInt("EVENT_BUCKETS", 50),
		},
		TestAccounts: parseTestAccounts(util.GetEnv("TEST_ACCOUNTS", "")),
	}
}

func loadLimit(prefix string, defaultPoints int, defaultWindow time.Duration) LimitConfig {
	return LimitConfig{
		Points: util.GetEnvInt("LIMIT_"+prefix+"_POINTS", defaultPoints),
		Window: util.GetEnvDuration("LIMIT_"+prefix+"_WINDOW", defaultWindow),
	}
}

// parseTestAccounts parses "phone:code,phone:code" pairs. Malformed
// entries are skipped rather than failing startup.
func parseTestAccounts(raw string) []TestAccount {
	if raw == "" {
		return nil
	}
	var accounts []TestAccount
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		accounts = append(accounts, TestAccount{Phone: parts[0], Code: parts[1]})
	}
	return accounts
}

// TestAccountFor returns the configured test account matching the phone,
// or nil when the phone is not on the allowlist.
func (c *Config) TestAccountFor(phone string) *TestAccount {
	for i := range c.TestAccounts {
		if c.TestAccounts[i].Phone == phone {
			return &c.TestAccounts[i]
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
