package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("INBOUND_API_URL", "")
	t.Setenv("INBOUND_FORMAT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, cfg.APIBaseURL)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "default", cfg.Profile)
}

func TestLoadProfileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
api_url: https://api.example.com/
format: json
profiles:
  staging:
    api_url: https://staging.example.com
    api_key: inb_staging
`)
	t.Setenv("INBOUND_API_URL", "")
	t.Setenv("INBOUND_API_KEY", "")
	t.Setenv("INBOUND_FORMAT", "")

	cfg, err := Load(path, "default")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Empty(t, cfg.APIKey)

	cfg, err = Load(path, "staging")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", cfg.APIBaseURL)
	assert.Equal(t, "inb_staging", cfg.APIKey)
	assert.Equal(t, "json", cfg.OutputFormat)

	t.Setenv("INBOUND_API_URL", "http://localhost:8080/")
	cfg, err = Load(path, "staging")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)

	_, err = Load(path, "prod")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "api_url: [unterminated")
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	sess, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, store.Save(&Session{
		Token:     "jwt",
		Email:     "dev@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	sess, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "jwt", sess.Token)
	assert.False(t, sess.SavedAt.IsZero())
	assert.False(t, sess.Expired(0))
	assert.True(t, sess.Expired(2*time.Hour))

	require.NoError(t, store.Clear())
	sess, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
	require.NoError(t, store.Clear())
}
