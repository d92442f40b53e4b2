package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

const (
	PortalSAMGov  = "sam_gov"
	PortalGSAeBuy = "gsa_ebuy"
	PortalMock    = "mock"

	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"

	LockBackendMemory = "memory"
	LockBackendFile   = "file"
	LockBackendRedis  = "redis"
)

// PortalCredentials holds whatever a portal adapter needs to authenticate.
// Unused fields are left empty.
type PortalCredentials struct {
	APIKey   string `yaml:"api_key"`
	EntityID string `yaml:"entity_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ProofDir string `yaml:"proof_dir"`
}

// credentialsFile is the layout of PORTAL_CREDENTIALS_FILE.
type credentialsFile struct {
	Portals map[string]PortalCredentials `yaml:"portals"`
}

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreBackend string
	DataDir      string

	MaxConcurrentSubmissions int
	MaxRetries               int
	SubmitTimeout            time.Duration
	VerifyTimeout            time.Duration
	RetryBackoffBase         time.Duration
	PollInterval             time.Duration

	LockBackend    string
	LockKeyPrefix  string
	LockTTLSeconds int

	NotifyWebhookURL string
	NotifyRedisList  string
	WebhookSecret    string

	OperatorUsername      string
	OperatorPasswordHash  string
	SubmitterUsername     string
	SubmitterPasswordHash string

	EnableMockPortal      bool
	SimulatedLatency      time.Duration
	PortalCredentialsFile string
	Portals               map[string]PortalCredentials
}

var AppConfig *Config

// Load populates AppConfig from .env and the environment, exiting on invalid input.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	AppConfig = cfg
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		APIPort:       getEnv("API_PORT", "8080"),
		JWTKey:        []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:        time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 12)) * time.Hour,
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "user"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "rfp_bids"),
		DBSslMode:     getEnv("DB_SSLMODE", "disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendFile)),
		DataDir:      getEnv("DATA_DIR", "./data"),

		MaxConcurrentSubmissions: getEnvAsInt("MAX_CONCURRENT_SUBMISSIONS", 3),
		MaxRetries:               getEnvAsInt("MAX_RETRIES", 3),
		SubmitTimeout:            getEnvAsDuration("SUBMIT_TIMEOUT", 60*time.Second),
		VerifyTimeout:            getEnvAsDuration("VERIFY_TIMEOUT", 15*time.Second),
		RetryBackoffBase:         getEnvAsDuration("RETRY_BACKOFF_BASE", 5*time.Second),
		PollInterval:             getEnvAsDuration("POLL_INTERVAL", 2*time.Second),

		LockBackend:    strings.ToLower(getEnv("LOCK_BACKEND", LockBackendFile)),
		LockKeyPrefix:  getEnv("LOCK_KEY_PREFIX", "submission_job_lock:"),
		LockTTLSeconds: getEnvAsInt("LOCK_TTL_SECONDS", 300),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyRedisList:  getEnv("NOTIFY_REDIS_LIST", ""),
		WebhookSecret:    getEnv("PORTAL_WEBHOOK_SECRET", ""),

		OperatorUsername:     getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),

		SubmitterUsername:     getEnv("SUBMITTER_USERNAME", "submitter"),
		SubmitterPasswordHash: getEnv("SUBMITTER_PASSWORD_HASH", ""),

		EnableMockPortal:      getEnvAsBool("ENABLE_MOCK_PORTAL", true),
		SimulatedLatency:      getEnvAsDuration("SIMULATED_PORTAL_LATENCY", 500*time.Millisecond),
		PortalCredentialsFile: getEnv("PORTAL_CREDENTIALS_FILE", ""),
		Portals:               map[string]PortalCredentials{},
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	if cfg.PortalCredentialsFile != "" {
		portals, err := LoadPortalCredentials(cfg.PortalCredentialsFile)
		if err != nil {
			return nil, err
		}
		cfg.Portals = portals
	}
	applyCredentialEnv(cfg.Portals)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.MaxConcurrentSubmissions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SUBMISSIONS must be at least 1, got %d", c.MaxConcurrentSubmissions)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.SubmitTimeout <= 0 || c.VerifyTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT and VERIFY_TIMEOUT must be positive")
	}
	switch c.StoreBackend {
	case StoreBackendFile, StoreBackendPostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case LockBackendMemory, LockBackendFile, LockBackendRedis:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	return nil
}

// Accounts returns the API logins that have a password hash configured.
func (c *Config) Accounts() []model.Account {
	var accounts []model.Account
	if c.OperatorPasswordHash != "" {
		accounts = append(accounts, model.Account{Username: c.OperatorUsername, PasswordHash: c.OperatorPasswordHash, Role: model.RoleOperator})
	}
	if c.SubmitterPasswordHash != "" {
		accounts = append(accounts, model.Account{Username: c.SubmitterUsername, PasswordHash: c.SubmitterPasswordHash, Role: model.RoleSubmitter})
	}
	return accounts
}

// JobsDir is where snapshot files live for the file store backend.
func (c *Config) JobsDir() string { return filepath.Join(c.DataDir, "jobs") }

// AuditDir is where per-job audit logs live for the file store backend.
func (c *Config) AuditDir() string { return filepath.Join(c.DataDir, "audit") }

// LocksDir holds the per-job lock files of the file lock backend.
func (c *Config) LocksDir() string { return filepath.Join(c.DataDir, "locks") }

// SharedLocks reports whether job locks are visible to other processes.
func (c *Config) SharedLocks() bool { return c.LockBackend != LockBackendMemory }

// ProofDir is where eBuy submission proofs are written unless overridden.
func (c *Config) ProofDir() string {
	if creds, ok := c.Portals[PortalGSAeBuy]; ok && creds.ProofDir != "" {
		return creds.ProofDir
	}
	return filepath.Join(c.DataDir, "proofs")
}

// LoadPortalCredentials reads a YAML file of the form
//
//	portals:
//	  sam_gov:
//	    api_key: ...
func LoadPortalCredentials(path string) (map[string]PortalCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portal credentials: %w", err)
	}
	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse portal credentials %s: %w", path, err)
	}
	if file.Portals == nil {
		file.Portals = map[string]PortalCredentials{}
	}
	return file.Portals, nil
}

func applyCredentialEnv(portals map[string]PortalCredentials) {
	sam := portals[PortalSAMGov]
	sam.APIKey = getEnv("SAM_GOV_API_KEY", sam.APIKey)
	sam.EntityID = getEnv("SAM_GOV_ENTITY_ID", sam.EntityID)
	if sam != (PortalCredentials{}) {
		portals[PortalSAMGov] = sam
	}

	ebuy := portals[PortalGSAeBuy]
	ebuy.Username = getEnv("GSA_EBUY_USERNAME", ebuy.Username)
	ebuy.Password = getEnv("GSA_EBUY_PASSWORD", ebuy.Password)
	ebuy.ProofDir = getEnv("GSA_EBUY_PROOF_DIR", ebuy.ProofDir)
	if ebuy != (PortalCredentials{}) {
		portals[PortalGSAeBuy] = ebuy
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
