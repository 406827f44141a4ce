package client

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLogin_StoresCredentials(t *testing.T) {
	useTempConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: "sck_old0123456789abcdef", APIURL: "http://old:8080"}))

	var out bytes.Buffer
	require.NoError(t, runAuthLogin(&out, testKey, "http://chunks.internal:8080"))

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, &GlobalConfig{APIKey: testKey, APIURL: "http://chunks.internal:8080"}, config)
	assert.Contains(t, out.String(), "Successfully logged in")
}

func TestAuthLogin_ValidatesKeyFormat(t *testing.T) {
	useTempConfig(t)

	err := runAuthLogin(io.Discard, "short", "http://localhost:8080")

	assert.ErrorContains(t, err, "invalid API key format")
	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestAuthLogout(t *testing.T) {
	useTempConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey, APIURL: defaultAPIURL}))

	require.NoError(t, runAuthLogout(io.Discard))
	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)

	require.NoError(t, runAuthLogout(io.Discard))
}

func TestAuthStatus_Text(t *testing.T) {
	t.Run("global config", func(t *testing.T) {
		useTempConfig(t)
		require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey, APIURL: defaultAPIURL}))

		var out bytes.Buffer
		require.NoError(t, runAuthStatus(&out, false))

		assert.Contains(t, out.String(), "Source: global_config")
		assert.Contains(t, out.String(), "API Key: sck_012...cdef")
		assert.NotContains(t, out.String(), testKey)
	})

	t.Run("environment", func(t *testing.T) {
		useTempConfig(t)
		t.Setenv(envAPIKey, testKey)
		t.Setenv(envAPIURL, "http://env:8080")

		var out bytes.Buffer
		require.NoError(t, runAuthStatus(&out, false))

		assert.Contains(t, out.String(), "Source: env_file")
		assert.Contains(t, out.String(), "API URL: http://env:8080")
	})

	t.Run("not authenticated", func(t *testing.T) {
		useTempConfig(t)

		var out bytes.Buffer
		require.NoError(t, runAuthStatus(&out, false))

		assert.Contains(t, out.String(), "Not authenticated")
		assert.Contains(t, out.String(), "chunkctl auth login")
	})
}

func TestAuthStatus_JSON(t *testing.T) {
	useTempConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey, APIURL: defaultAPIURL}))

	var out bytes.Buffer
	require.NoError(t, runAuthStatus(&out, true))

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, true, result["authenticated"])
	assert.Equal(t, "global_config", result["source"])
	assert.Equal(t, "sck_012...cdef", result["api_key"])
	assert.Equal(t, defaultAPIURL, result["api_url"])
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "sck_012...cdef", maskAPIKey(testKey))
	assert.Equal(t, "***", maskAPIKey("short"))
}
