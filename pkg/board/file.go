// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a board config from a YAML file, for carriers and boards
// the built-in catalog does not cover. The config is validated but not
// pruned: the engine itself disables paths that fail to open at start.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read board file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse board file %s: %w", path, err)
	}
	if cfg.Name == "" {
		return Config{}, fmt.Errorf("board file %s: name is required", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("board file %s: %w", path, err)
	}
	return cfg, nil
}
