package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is built once at process start and handed to constructors by
// pointer. Nothing reads the environment after Load returns.
type Config struct {
	IsProduction bool
	HTTP         HTTPConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Storage      StorageConfig
	Upload       UploadConfig
	Orphans      OrphanConfig

	// AllowedOrigin is the frontend hostname the origin guard admits.
	AllowedOrigin      string `validate:"required"`
	CORSAllowedOrigins []string
}

type HTTPConfig struct {
	Port string `validate:"required,numeric"`
}

type LogConfig struct {
	Level     string
	Format    string `validate:"oneof=json text"`
	AddSource bool
}

type DatabaseConfig struct {
	URL string `validate:"required"`
}

// RedisConfig is optional; an empty Addr disables the domain registry and
// the orphan queue.
type RedisConfig struct {
	Addr string
}

type StorageConfig struct {
	Backend      string
	SignedURLTTL time.Duration `validate:"gt=0"`
	Azure        AzureConfig
	S3           S3Config
	Local        LocalConfig
}

type AzureConfig struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	ContainerName    string
}

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

type LocalConfig struct {
	Root       string
	BaseURL    string
	SigningKey string
}

type UploadConfig struct {
	// DirRoot enables the directory shape for names that resolve to a local
	// directory under it. Empty disables the shape.
	DirRoot  string
	MaxBytes int64 `validate:"gt=0"`
}

type OrphanConfig struct {
	SweepEnabled bool
	QueueName    string `validate:"required"`
}

// Load reads configuration from the process environment and the .env files
// in the working directory.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads configuration with .env files resolved in dir. Lookup order
// is: process environment, then .env.production or .env.development
// (selected by IS_PRODUCTION), then .env. The process environment is never
// modified.
func LoadFrom(dir string) (*Config, error) {
	cfg, err := read(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTool is Load for the worker and the upload CLI. They do not serve HTTP
// or touch postgres, so only the storage, upload and orphan settings are
// validated.
func LoadTool() (*Config, error) {
	return LoadToolFrom(".")
}

// LoadToolFrom is LoadTool with .env files resolved in dir.
func LoadToolFrom(dir string) (*Config, error) {
	cfg, err := read(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateTool(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(dir string) (*Config, error) {
	base, err := readEnvFile(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}

	env := &lookup{files: []map[string]string{base}}

	isProd, err := env.bool("IS_PRODUCTION", false)
	if err != nil {
		return nil, err
	}
	name := ".env.development"
	if isProd {
		name = ".env.production"
	}
	stage, err := readEnvFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	env.files = []map[string]string{stage, base}

	cfg, err := build(env, isProd)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(env *lookup, isProd bool) (*Config, error) {
	ttl, err := env.duration("SIGNED_URL_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	maxBytes, err := env.int64("MAX_UPLOAD_BYTES", 512<<20)
	if err != nil {
		return nil, err
	}
	logSource, err := env.bool("LOG_SOURCE", false)
	if err != nil {
		return nil, err
	}
	sweep, err := env.bool("ORPHAN_SWEEP_ENABLED", false)
	if err != nil {
		return nil, err
	}

	port := env.str("HTTP_PORT", "8080")
	allowed := env.str("WEBSITE_HOSTNAME", "")

	return &Config{
		IsProduction: isProd,
		HTTP:         HTTPConfig{Port: port},
		Log: LogConfig{
			Level:     env.str("LOG_LEVEL", "info"),
			Format:    strings.ToLower(env.str("LOG_FORMAT", "json")),
			AddSource: logSource,
		},
		Database: DatabaseConfig{URL: env.str("DATABASE_URL", "")},
		Redis:    RedisConfig{Addr: env.str("REDIS_ADDR", "")},
		Storage: StorageConfig{
			Backend:      strings.ToLower(env.str("STORAGE_BACKEND", "azure")),
			SignedURLTTL: ttl,
			Azure: AzureConfig{
				ConnectionString: env.str("AZURE_STORAGE_CONNECTION_STRING", ""),
				AccountName:      env.str("AZURE_STORAGE_ACCOUNT_NAME", ""),
				AccountKey:       env.str("AZURE_STORAGE_ACCOUNT_KEY", ""),
				ContainerName:    env.str("AZURE_CONTAINER_NAME", "default-container"),
			},
			S3: S3Config{
				Bucket:   env.str("S3_BUCKET", ""),
				Region:   env.str("S3_REGION", "us-east-1"),
				Endpoint: env.str("S3_ENDPOINT", ""),
			},
			Local: LocalConfig{
				Root:       env.str("STORAGE_LOCAL_ROOT", "./data/blobs"),
				BaseURL:    env.str("STORAGE_LOCAL_BASE_URL", "http://localhost:"+port+"/blobs"),
				SigningKey: env.str("STORAGE_LOCAL_SIGNING_KEY", ""),
			},
		},
		Upload: UploadConfig{
			DirRoot:  env.str("UPLOAD_DIR_ROOT", ""),
			MaxBytes: maxBytes,
		},
		Orphans: OrphanConfig{
			SweepEnabled: sweep,
			QueueName:    env.str("ORPHAN_QUEUE_NAME", "relecloud:orphans"),
		},
		AllowedOrigin:      allowed,
		CORSAllowedOrigins: env.csv("CORS_ALLOWED_ORIGINS", []string{allowed}),
	}, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return c.checkOrphans()
}

// ValidateTool checks the settings shared by every binary.
func (c *Config) ValidateTool() error {
	for _, part := range []any{c.Log, c.Storage, c.Upload, c.Orphans} {
		if err := validate.Struct(part); err != nil {
			return validationError(err)
		}
	}
	return c.checkOrphans()
}

func (c *Config) checkOrphans() error {
	if c.Orphans.SweepEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: ORPHAN_SWEEP_ENABLED requires REDIS_ADDR")
	}
	return c.checkStorage()
}

// checkStorage requires credentials able to sign read URLs for the azure
// backend: a connection string (which carries the account key) or an
// explicit account name and key.
func (c *Config) checkStorage() error {
	if c.Storage.Backend != "azure" {
		return nil
	}
	az := c.Storage.Azure
	if az.ConnectionString == "" && (az.AccountName == "" || az.AccountKey == "") {
		return fmt.Errorf("config: STORAGE_BACKEND=azure requires AZURE_STORAGE_CONNECTION_STRING or AZURE_STORAGE_ACCOUNT_NAME and AZURE_STORAGE_ACCOUNT_KEY")
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("config: %s failed on '%s' validation", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("config: %w", err)
}

func readEnvFile(path string) (map[string]string, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return vals, nil
}

type lookup struct {
	files []map[string]string
}

func (l *lookup) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	for _, f := range l.files {
		if v := strings.TrimSpace(f[key]); v != "" {
			return v
		}
	}
	return ""
}

func (l *lookup) str(key, def string) string {
	if v := l.get(key); v != "" {
		return v
	}
	return def
}

func (l *lookup) bool(key string, def bool) (bool, error) {
	v := l.get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return b, nil
}

func (l *lookup) int64(key string, def int64) (int64, error) {
	v := l.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
}

func (l *lookup) duration(key string, def time.Duration) (time.Duration, error) {
	v := l.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}

func (l *lookup) csv(key string, def []string) []string {
	raw := l.get(key)
	if raw == "" {
		return def
	}
	out := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
