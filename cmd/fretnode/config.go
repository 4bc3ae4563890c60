package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// fileConfig is the on-disk JSON shape for a node's startup configuration;
// command-line flags override whatever a file supplies.
type fileConfig struct {
	Profile     string   `json:"profile,omitempty"`
	NetworkName string   `json:"networkName,omitempty"`
	K           int      `json:"k,omitempty"`
	M           int      `json:"m,omitempty"`
	Capacity    int      `json:"capacity,omitempty"`
	Bootstraps  []string `json:"bootstraps,omitempty"`
	StateFile   string   `json:"stateFile,omitempty"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers FRET_-prefixed environment variables on top of
// a loaded file config; flags still take final precedence in main.go.
func applyEnvOverrides(cfg *fileConfig) {
	if v := os.Getenv("FRET_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("FRET_NETWORK"); v != "" {
		cfg.NetworkName = v
	}
	if v := os.Getenv("FRET_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.K = n
		}
	}
	if v := os.Getenv("FRET_M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.M = n
		}
	}
	if v := os.Getenv("FRET_BOOTSTRAPS"); v != "" {
		cfg.Bootstraps = splitAndTrim(v, ",")
	}
	if v := os.Getenv("FRET_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
