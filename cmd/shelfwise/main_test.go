package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryEnv(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsAreRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "seed", "create-admin"} {
		assert.True(t, names[want], want)
	}
}

func TestSeedAgainstMemoryStore(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "created 2 users, 10 categories, 5 authors, 8 books")
}

func TestCreateAdminValidatesPassword(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "create-admin", "--email", "root@example.com", "--password", "short")
	require.Error(t, err)
	assert.Contains(t, out, "password")

	out, err = run(t, "create-admin", "--email", "root@example.com", "--password", "Sup3r!secret")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin root@example.com")
}

func TestMissingConfigFails(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "JWT_SECRET")
}
