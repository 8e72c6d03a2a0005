package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "postgres://localhost/desk")
	t.Setenv("JWT_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 7*24*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, "@every 1h", cfg.ExpiryScanSchedule)
	assert.Equal(t, 10080, cfg.JWTExpiresMin)
	assert.False(t, cfg.EmailEnabled())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_port: "9000"
db_dsn: postgres://file/desk
jwt_secret: from-file
invitation_ttl: 72h
cors_origins:
  - https://app.example.com
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.AppPort)
	assert.Equal(t, "postgres://file/desk", cfg.DBDSN)
	assert.Equal(t, 72*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad ttl", "INVITATION_TTL", "seven days"},
		{"negative ttl", "INVITATION_TTL", "-1h"},
		{"bad int", "JWT_EXPIRES_MIN", "forever"},
		{"bad schedule", "EXPIRY_SCAN_SCHEDULE", "every now and then"},
		{"bad bool", "COOKIE_SECURE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
}

func TestEmailEnabled(t *testing.T) {
	cfg := Config{AWSAccessKeyID: "id", AWSSecretAccessKey: "key", EmailFrom: "desk@example.com"}
	assert.True(t, cfg.EmailEnabled())
}
