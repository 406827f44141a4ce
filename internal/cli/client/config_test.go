package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sck_0123456789abcdef0123456789abcdef"

// useTempConfig points the global config at a fresh directory and clears
// the credential env vars
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "servicechunks")
	path := filepath.Join(dir, "config.json")

	oldDir, oldPath := getConfigDirFunc, getConfigPathFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	getConfigPathFunc = func() (string, error) { return path, nil }
	t.Cleanup(func() {
		getConfigDirFunc, getConfigPathFunc = oldDir, oldPath
	})

	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")
	return path
}

func TestGetConfigPath_Default(t *testing.T) {
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.True(t, strings.HasSuffix(dir, "servicechunks"))

	path, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.json"), path)
}

func TestLoadGlobalConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		useTempConfig(t)

		config, err := LoadGlobalConfig()
		require.NoError(t, err)
		assert.Nil(t, config)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := useTempConfig(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("{invalid json}"), 0600))

		config, err := LoadGlobalConfig()
		assert.Nil(t, config)
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestSaveGlobalConfig(t *testing.T) {
	path := useTempConfig(t)
	config := &GlobalConfig{APIKey: testKey, APIURL: "http://chunks.internal:8080"}

	require.NoError(t, SaveGlobalConfig(config))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk GlobalConfig
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, *config, onDisk)

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestSaveGlobalConfig_NilConfig(t *testing.T) {
	assert.ErrorContains(t, SaveGlobalConfig(nil), "config cannot be nil")
}

func TestDeleteGlobalConfig(t *testing.T) {
	path := useTempConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey}))

	require.NoError(t, DeleteGlobalConfig())
	assert.NoFileExists(t, path)

	require.NoError(t, DeleteGlobalConfig(), "deleting twice is not an error")
}

func TestIsValidAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"hex token", testKey, true},
		{"base64 token", "Zm9vYmFyYmF6cXV4cXV1eA==", true},
		{"dashed token", "ops-dashboard-2026-key", true},
		{"too short", "sck_0123", false},
		{"inner space", "sck_0123456789 abcdef0123", false},
		{"trailing newline", "sck_0123456789abcdef0123\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAPIKey(tt.key))
		})
	}
}

func TestGetCredentialSource(t *testing.T) {
	global := &GlobalConfig{APIKey: "sck_global0123456789abcdef", APIURL: "http://global:8080"}

	tests := []struct {
		name       string
		flagKey    string
		flagURL    string
		envKey     string
		envURL     string
		global     *GlobalConfig
		wantSource CredentialSource
		wantKey    string
		wantURL    string
	}{
		{
			name:    "flags win",
			flagKey: "sck_flag0123456789abcdef", flagURL: "http://flag:8080",
			envKey: "sck_env0123456789abcdef", envURL: "http://env:8080",
			global:     global,
			wantSource: SourceFlag, wantKey: "sck_flag0123456789abcdef", wantURL: "http://flag:8080",
		},
		{
			name:   "env over global config",
			envKey: "sck_env0123456789abcdef", envURL: "http://env:8080",
			global:     global,
			wantSource: SourceEnvFile, wantKey: "sck_env0123456789abcdef", wantURL: "http://env:8080",
		},
		{
			name:       "global config",
			global:     global,
			wantSource: SourceGlobalConfig, wantKey: global.APIKey, wantURL: global.APIURL,
		},
		{
			name:       "partial env is ignored",
			envKey:     "sck_env0123456789abcdef",
			wantSource: SourceNone,
		},
		{
			name:       "nothing configured",
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTempConfig(t)
			t.Setenv(envAPIKey, tt.envKey)
			t.Setenv(envAPIURL, tt.envURL)
			if tt.global != nil {
				require.NoError(t, SaveGlobalConfig(tt.global))
			}

			source, key, url := GetCredentialSource(tt.flagKey, tt.flagURL)

			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantURL, url)
		})
	}
}

func TestNewAPIClientWithCmd_FallsBackToDefaultURL(t *testing.T) {
	useTempConfig(t)
	t.Setenv(envAPIKey, testKey)

	c, err := NewAPIClientWithCmd(nil)

	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, c.baseURL)
	assert.Equal(t, testKey, c.apiKey)
}

func TestNewAPIClientWithCmd_RequiresKey(t *testing.T) {
	useTempConfig(t)

	_, err := NewAPIClientWithCmd(nil)

	assert.ErrorContains(t, err, envAPIKey)
}
