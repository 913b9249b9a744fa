// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file is one secret: the filename is the key and the trimmed contents
// are the value. Environment variables take precedence over files.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Recognized key files.
const (
	AnthropicAPIKey = "anthropic-api-key"
	NCBIAPIKey      = "ncbi-api-key"
	OpenFDAAPIKey   = "openfda-api-key"
	ReviewJWTSecret = "review-jwt-secret"
)

// DefaultDir is where the CLI looks for key files.
const DefaultDir = ".secrets"

// EnvName maps a key file name to its environment override, e.g.
// ncbi-api-key -> TRIALMATCH_NCBI_API_KEY.
func EnvName(key string) string {
	return "TRIALMATCH_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Load reads all files in dir and returns a map of filename to trimmed
// contents, then overlays any TRIALMATCH_* environment overrides for the
// recognized keys. A missing directory is not an error. Unreadable files
// are logged and skipped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	secrets := make(map[string]string)

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", zap.String("key", name), zap.Error(err))
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}

	for _, key := range []string{AnthropicAPIKey, NCBIAPIKey, OpenFDAAPIKey, ReviewJWTSecret} {
		if v := strings.TrimSpace(os.Getenv(EnvName(key))); v != "" {
			secrets[key] = v
		}
	}
	return secrets, nil
}

// Keys returns the loaded key names, sorted, for logging without values.
func Keys(s map[string]string) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
