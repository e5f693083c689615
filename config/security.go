package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to untrusted configuration input.
const (
	maxConfigSize = 10 << 20
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

// readConfigFile reads a regular JSON or YAML file of bounded size. The
// cleaned path must not climb out through "..".
func readConfigFile(path string) ([]byte, error) {
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(filepath.ToSlash(clean), "../") {
		return nil, fmt.Errorf("path traversal not allowed: %s", path)
	}

	switch strings.ToLower(filepath.Ext(clean)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("only JSON or YAML config files allowed: %s", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	return os.ReadFile(clean)
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth walks the token stream and rejects documents nested
// deeper than maxJSONDepth or left unclosed.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		default:
			depth--
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
