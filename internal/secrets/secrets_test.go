// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  map[string]string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, NCBIAPIKey, "  ncbi_abc123  \n")
				writeFile(t, dir, OpenFDAAPIKey, "fda_xyz789")
				writeFile(t, dir, ReviewJWTSecret, "hunter2\n")
				return dir
			},
			want: map[string]string{
				NCBIAPIKey:      "ncbi_abc123",
				OpenFDAAPIKey:   "fda_xyz789",
				ReviewJWTSecret: "hunter2",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, AnthropicAPIKey, "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{AnthropicAPIKey: "valid-key"},
		},
		{
			name: "skips dotfiles and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, OpenFDAAPIKey, "fda_real")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{OpenFDAAPIKey: "fda_real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_EnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, NCBIAPIKey, "from-file")
	t.Setenv("TRIALMATCH_NCBI_API_KEY", "from-env")
	t.Setenv("TRIALMATCH_REVIEW_JWT_SECRET", "env-secret")

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got[NCBIAPIKey])
	assert.Equal(t, "env-secret", got[ReviewJWTSecret])
	assert.Equal(t, []string{NCBIAPIKey, ReviewJWTSecret}, Keys(got))
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "TRIALMATCH_ANTHROPIC_API_KEY", EnvName(AnthropicAPIKey))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
