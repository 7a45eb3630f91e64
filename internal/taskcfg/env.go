package taskcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvStore reads and writes the .env-like settings key/value file the
// operator UI owns. Workers read it once at start.
type EnvStore struct {
	path string
}

// NewEnvStore returns a store over the .env file at path.
func NewEnvStore(path string) *EnvStore {
	return &EnvStore{path: path}
}

// Load parses the .env file, overlaying real environment variables on top so
// container deployments can override file values. A missing file is not an
// error.
func (s *EnvStore) Load() (map[string]string, error) {
	values := map[string]string{}
	if _, err := os.Stat(s.path); err == nil {
		fileValues, err := godotenv.Read(s.path)
		if err != nil {
			return nil, fmt.Errorf("parse env file %s: %w", s.path, err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, known := values[k]; known || strings.HasPrefix(k, "OPENAI_") || strings.HasPrefix(k, "AI_") || strings.HasPrefix(k, "PROXY_") {
			values[k] = v
		}
	}
	return values, nil
}

// Save writes the key/value set atomically with sorted keys. Booleans must
// already be serialized lowercase by the caller; SetBool helps with that.
func (s *EnvStore) Save(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".env-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp env file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename env file: %w", err)
	}
	return nil
}

// SetBool stores a boolean with the lowercase serialization the file format
// requires.
func SetBool(values map[string]string, key string, v bool) {
	values[key] = strconv.FormatBool(v)
}

// EnvBool interprets a settings value as a boolean; empty and unknown values
// are false.
func EnvBool(values map[string]string, key string) bool {
	v, err := strconv.ParseBool(strings.ToLower(values[key]))
	return err == nil && v
}

// EnvBoolDefault is EnvBool with an explicit fallback for keys the operator
// never wrote; an unset key means fallback, not false.
func EnvBoolDefault(values map[string]string, key string, fallback bool) bool {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return fallback
	}
	return v
}

// EnvInt returns an integer setting or fallback when missing or malformed.
func EnvInt(values map[string]string, key string, fallback int) int {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

// EnvStr returns a string setting or fallback when unset.
func EnvStr(values map[string]string, key, fallback string) string {
	if v, ok := values[key]; ok && v != "" {
		return v
	}
	return fallback
}
