package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/auth"
	"threatlens/internal/ledger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threatlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
security:
  jwt_secret: cli-test-secret
  jwt_issuer: threatlens
`)

	out, err := run(t, "token", "issue", "--config", path, "--id", "u1", "--email", "u1@example.com", "--role", "admin", "--role", "analyst")
	require.NoError(t, err)

	verifier := auth.NewJWTVerifier("cli-test-secret", "threatlens", 0)
	principal, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.ID)
	assert.Equal(t, []string{"admin", "analyst"}, principal.Roles())
}

func TestTokenIssueRequiresID(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: error\n")
	_, err := run(t, "token", "issue", "--config", path)
	assert.Error(t, err)
}

func TestLedgerVerifyEmptyBadger(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
ledger:
  backend: badger
  badger_dir: `+filepath.Join(t.TempDir(), "ledger")+`
`)

	out, err := run(t, "ledger", "verify", "--config", path)
	require.NoError(t, err)

	var report ledger.VerifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Zero(t, report.Height)
	assert.Equal(t, ledger.Sentinel, report.Head)
}
