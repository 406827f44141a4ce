package admin

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	a, err := generateAPIKey()
	require.NoError(t, err)
	b, err := generateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, apiKeyPrefix))
	assert.Len(t, a, len(apiKeyPrefix)+64)
	assert.NotEqual(t, a, b)
}

func TestAPIKeyCmd(t *testing.T) {
	cmd := APIKeyCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--count", "2"})

	require.NoError(t, cmd.Execute())

	keys := strings.Fields(out.String())
	require.Len(t, keys, 2)
	assert.Contains(t, errOut.String(), "API_KEYS="+keys[0]+","+keys[1])
}

func TestAPIKeyCmd_RejectsCount(t *testing.T) {
	cmd := APIKeyCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-n", "0"})

	assert.ErrorContains(t, cmd.Execute(), "count must be between 1 and 20")
}
