package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
)

// LoadFile reads a settings document from disk. ".yaml" and ".yml" files
// are YAML; anything else is JSON, with comments and trailing commas allowed.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Settings{}, fmt.Errorf("%w: parsing %s: %v", zerrors.ErrInvalidInput, path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: converting %s: %v", zerrors.ErrInvalidInput, path, err)
		}
		return Parse(raw)
	default:
		return Parse(jsonc.ToJSON(data))
	}
}

// Seed stores the settings in path when no record exists yet. It reports
// whether the seed was applied. An empty path is a no-op.
func (s *Store) Seed(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	exists, err := s.Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	seed, err := LoadFile(path)
	if err != nil {
		return false, err
	}
	if err := s.Put(ctx, seed); err != nil {
		return false, err
	}
	s.logger.Info().Str("path", path).Msg("settings seeded from file")
	return true, nil
}
