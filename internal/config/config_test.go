package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"IS_PRODUCTION", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
	"DATABASE_URL", "REDIS_ADDR", "WEBSITE_HOSTNAME", "CORS_ALLOWED_ORIGINS",
	"STORAGE_BACKEND", "SIGNED_URL_TTL", "AZURE_STORAGE_CONNECTION_STRING",
	"AZURE_STORAGE_ACCOUNT_NAME", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_CONTAINER_NAME",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "STORAGE_LOCAL_ROOT",
	"STORAGE_LOCAL_BASE_URL", "STORAGE_LOCAL_SIGNING_KEY", "UPLOAD_DIR_ROOT",
	"MAX_UPLOAD_BYTES", "ORPHAN_SWEEP_ENABLED", "ORPHAN_QUEUE_NAME",
}

const azureConn = "AZURE_STORAGE_CONNECTION_STRING=DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net\n"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFrom_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "DATABASE_URL=postgres://localhost/relecloud\nWEBSITE_HOSTNAME=app.example.com\n"+azureConn)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.False(t, cfg.IsProduction)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "azure", cfg.Storage.Backend)
	assert.Equal(t, "default-container", cfg.Storage.Azure.ContainerName)
	assert.Equal(t, time.Hour, cfg.Storage.SignedURLTTL)
	assert.Equal(t, int64(512<<20), cfg.Upload.MaxBytes)
	assert.Empty(t, cfg.Upload.DirRoot)
	assert.Equal(t, "relecloud:orphans", cfg.Orphans.QueueName)
	assert.False(t, cfg.Orphans.SweepEnabled)
	assert.Equal(t, "app.example.com", cfg.AllowedOrigin)
	assert.Equal(t, []string{"app.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "http://localhost:8080/blobs", cfg.Storage.Local.BaseURL)
}

func TestLoadFrom_SelectsStageFile(t *testing.T) {
	tests := []struct {
		name        string
		isProd      string
		wantBackend string
	}{
		{"production", "true", "s3"},
		{"development", "false", "localfs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeFile(t, dir, ".env", "IS_PRODUCTION="+tt.isProd+"\nDATABASE_URL=postgres://x\nWEBSITE_HOSTNAME=h\nSTORAGE_BACKEND=azure\n")
			writeFile(t, dir, ".env.production", "STORAGE_BACKEND=s3\n")
			writeFile(t, dir, ".env.development", "STORAGE_BACKEND=localfs\n")

			cfg, err := LoadFrom(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackend, cfg.Storage.Backend)
		})
	}
}

func TestLoadFrom_ProcessEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "DATABASE_URL=postgres://x\nWEBSITE_HOSTNAME=from-file\n"+azureConn)
	t.Setenv("WEBSITE_HOSTNAME", "from-env")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("SIGNED_URL_TTL", "15m")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AllowedOrigin)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Storage.SignedURLTTL)
}

func TestLoadFrom_NoFiles(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("WEBSITE_HOSTNAME", "h")
	t.Setenv("AZURE_STORAGE_ACCOUNT_NAME", "acct")
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "a2V5")

	_, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing hostname", map[string]string{"DATABASE_URL": "postgres://x"}, "AllowedOrigin"},
		{"missing database", map[string]string{"WEBSITE_HOSTNAME": "h"}, "Database.URL"},
		{"bad ttl", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "SIGNED_URL_TTL": "soon"}, "SIGNED_URL_TTL"},
		{"negative ttl", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "SIGNED_URL_TTL": "-1m"}, "SignedURLTTL"},
		{"bad bool", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "IS_PRODUCTION": "maybe"}, "IS_PRODUCTION"},
		{"bad port", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "HTTP_PORT": "http"}, "HTTP.Port"},
		{"azure without credentials", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h"}, "AZURE_STORAGE_CONNECTION_STRING"},
		{"azure with name only", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "AZURE_STORAGE_ACCOUNT_NAME": "acct"}, "AZURE_STORAGE_ACCOUNT_KEY"},
		{"sweep without redis", map[string]string{"DATABASE_URL": "x", "WEBSITE_HOSTNAME": "h", "ORPHAN_SWEEP_ENABLED": "true"}, "REDIS_ADDR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadToolFrom(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "localfs")

	cfg, err := LoadToolFrom(t.TempDir())
	require.NoError(t, err, "tools need neither DATABASE_URL nor WEBSITE_HOSTNAME")
	assert.Equal(t, "localfs", cfg.Storage.Backend)

	t.Setenv("SIGNED_URL_TTL", "0s")
	_, err = LoadToolFrom(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SignedURLTTL")

	t.Setenv("SIGNED_URL_TTL", "")
	t.Setenv("ORPHAN_SWEEP_ENABLED", "true")
	_, err = LoadToolFrom(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
