package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load populates a DefaultConfig() from a YAML file (if present at path)
// and from environment variables prefixed with COREBASE_ (e.g.
// COREBASE_WAL_DIR overrides WAL.Dir). Mirrors the env-override idiom the
// sibling pkg/config.Load in this monorepo uses viper for, adapted to
// corebase's own Config shape.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	const prefix = "COREBASE_"
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefix)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
