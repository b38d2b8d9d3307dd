// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-seedvault/internal/config"
)

const validPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), NewRootCommand(), args, &stdout, &stderr, strings.NewReader(stdin))
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// writeConfig writes a configuration file whose database lives in the
// test's temporary directory.
func writeConfig(t *testing.T, autoMigrate bool) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Sample()
	cfg.Storage.DSN = filepath.Join(dir, "seedvault.db")
	cfg.Storage.AutoMigrate = autoMigrate
	path := filepath.Join(dir, "seedvault.yaml")
	require.NoError(t, cfg.WriteFile(path, false))
	return path
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestVersion(t *testing.T) {
	r := execute(t, "", "version")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "seedvault version "+Version)

	r = execute(t, "", "version", "-o", "json")
	require.NoError(t, r.err)
	info := decodeJSON[map[string]string](t, r.stdout)
	assert.Equal(t, Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seedvault.yaml")

	r := execute(t, "", "config", "init", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Configuration written to")
	_, err := os.Stat(path)
	require.NoError(t, err)

	r = execute(t, "", "config", "init", path)
	assert.Error(t, r.err)
	assert.Contains(t, r.stderr, "already exists")

	r = execute(t, "", "config", "init", path, "--force")
	require.NoError(t, r.err)

	t.Setenv("SEEDVAULT_SERVER_PORT", "9999")
	r = execute(t, "", "--config", path, "config", "show")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "relying_party:")
	assert.Contains(t, r.stdout, "port: 9999")

	r = execute(t, "", "--config", path, "-o", "json", "config", "show")
	require.NoError(t, r.err)
	shown := decodeJSON[config.Config](t, r.stdout)
	assert.Equal(t, 9999, shown.Server.Port)
}

func TestMigrate(t *testing.T) {
	path := writeConfig(t, false)

	r := execute(t, "", "--config", path, "migrate", "up")
	require.NoError(t, r.err, r.stderr)
	assert.NotContains(t, r.stdout, "Applied 0")

	r = execute(t, "", "--config", path, "migrate", "up")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Applied 0 migration(s)")

	r = execute(t, "", "--config", path, "-o", "json", "migrate", "status")
	require.NoError(t, r.err)
	status := decodeJSON[struct {
		Migrations []struct {
			Version int64  `json:"version"`
			State   string `json:"state"`
		} `json:"migrations"`
	}](t, r.stdout)
	require.NotEmpty(t, status.Migrations)
	for _, m := range status.Migrations {
		assert.Equal(t, "applied", m.State, "migration %d", m.Version)
	}
}

func TestUserCommands(t *testing.T) {
	path := writeConfig(t, true)

	r := execute(t, "", "--config", path, "-o", "json", "user", "create", "alice", "--display-name", "Alice A")
	require.NoError(t, r.err, r.stderr)
	created := decodeJSON[userJSON](t, r.stdout)
	assert.Equal(t, "alice", created.Name)
	assert.Equal(t, "Alice A", created.DisplayName)
	require.NotEmpty(t, created.ID)

	r = execute(t, "", "--config", path, "user", "create", "alice")
	assert.Error(t, r.err, "duplicate names are rejected")

	r = execute(t, "", "--config", path, "user", "show", created.ID)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Alice A")

	r = execute(t, "", "--config", path, "-o", "json", "user", "show", "--name", "alice")
	require.NoError(t, r.err)
	assert.Equal(t, created.ID, decodeJSON[userJSON](t, r.stdout).ID)

	r = execute(t, "", "--config", path, "user", "show", "missing")
	assert.Error(t, r.err)

	r = execute(t, "", "--config", path, "user", "update", created.ID)
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "--display-name")

	r = execute(t, "", "--config", path, "-o", "json", "user", "update", created.ID, "--display-name", "Alice B")
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, "Alice B", decodeJSON[userJSON](t, r.stdout).DisplayName)

	r = execute(t, "", "--config", path, "status", created.ID)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Seed: none")

	r = execute(t, "", "--config", path, "credential", "list", created.ID)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "No credentials found")

	r = execute(t, "", "--config", path, "seed", "delete", created.ID)
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "--yes")

	r = execute(t, "", "--config", path, "seed", "delete", created.ID, "--yes")
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "seed not found")
}

func TestCredentialCommandErrors(t *testing.T) {
	path := writeConfig(t, true)

	r := execute(t, "", "--config", path, "-o", "json", "user", "create", "bob")
	require.NoError(t, r.err)
	user := decodeJSON[userJSON](t, r.stdout)

	r = execute(t, "", "--config", path, "credential", "revoke", user.ID, "not base64!")
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "invalid credential id")

	r = execute(t, "", "--config", path, "-o", "json", "credential", "primary", user.ID, "AQID")
	require.Error(t, r.err)
	out := decodeJSON[map[string]string](t, r.stderr)
	assert.Equal(t, "error", out["status"])

	r = execute(t, "", "--config", path, "credential", "rename", user.ID, "AQID")
	assert.Error(t, r.err, "rename requires a nickname")

	r = execute(t, "", "--config", path, "-v", "credential", "revoke", user.ID, "AQID")
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "event=credential.revoke")
	assert.Contains(t, r.stderr, "outcome=failure")
}

func TestMnemonic(t *testing.T) {
	r := execute(t, "", "-o", "json", "mnemonic", "generate", "--words", "12")
	require.NoError(t, r.err)
	gen := decodeJSON[struct {
		Mnemonic  string `json:"mnemonic"`
		WordCount int    `json:"word_count"`
	}](t, r.stdout)
	assert.Len(t, strings.Fields(gen.Mnemonic), 12)

	r = execute(t, gen.Mnemonic+"\n", "mnemonic", "validate")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "12 words, 128 bits")

	r = execute(t, "", "mnemonic", "validate", strings.ToUpper(validPhrase))
	require.NoError(t, r.err)

	r = execute(t, "", "mnemonic", "validate", strings.Replace(validPhrase, "about", "abandon", 1))
	require.Error(t, r.err)
	assert.NotContains(t, r.stderr, "abandon", "the phrase must not be echoed")

	r = execute(t, "", "mnemonic", "generate", "--words", "13")
	assert.Error(t, r.err)

	r = execute(t, "", "mnemonic", "generate")
	require.NoError(t, r.err)
	assert.Len(t, strings.Fields(r.stdout), 24)
	assert.Contains(t, r.stderr, "Store this phrase offline")
}

func TestMissingConfigFile(t *testing.T) {
	r := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status", "u1")
	assert.Error(t, r.err)
	assert.True(t, strings.HasPrefix(r.stderr, "Error: "))
}
