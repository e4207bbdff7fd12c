// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "holoauth"

// Dir returns the XDG config directory for holoauth.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultFile is the config file read when --config is not given.
func DefaultFile() string {
	return filepath.Join(Dir(), "config.yaml")
}

// ResolveFile picks the YAML file layer: an explicit path always wins, then
// DefaultFile if it exists. An empty result skips the file layer.
func ResolveFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if info, err := os.Stat(DefaultFile()); err == nil && !info.IsDir() {
		return DefaultFile()
	}
	return ""
}
