package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

func TestParseKind(t *testing.T) {
	kind, prefix, err := parseKind("gateway")
	require.NoError(t, err)
	assert.Equal(t, models.KindSystem, kind)
	assert.Equal(t, auth.SystemKeyPrefix, prefix)

	kind, prefix, err = parseKind(" USER ")
	require.NoError(t, err)
	assert.Equal(t, models.KindEndUser, kind)
	assert.Equal(t, auth.EndUserKeyPrefix, prefix)

	_, _, err = parseKind("admin")
	assert.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHashKeyCommand(t *testing.T) {
	t.Setenv("GATEWAY_KEY_SALT", "pepper")

	out, err := runCLI(t, "hash-key", "llm0_abc")
	require.NoError(t, err)
	assert.Equal(t, auth.HashKey("pepper", "llm0_abc"), strings.TrimSpace(out))
}

func TestGenKeyCommand(t *testing.T) {
	t.Setenv("GATEWAY_KEY_SALT", "pepper")

	out, err := runCLI(t, "gen-key", "--kind", "user")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	key := strings.TrimSpace(strings.TrimPrefix(lines[0], "key:"))
	hash := strings.TrimSpace(strings.TrimPrefix(lines[1], "hash:"))
	assert.True(t, strings.HasPrefix(key, auth.EndUserKeyPrefix))
	assert.Equal(t, auth.HashKey("pepper", key), hash)
}
