package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds file-based settings. Connection secrets come from the
// environment; the YAML file carries the tunables worth checking in.
type Config struct {
	Duel struct {
		DurationSeconds int `yaml:"duration_seconds"`
	} `yaml:"duel"`
	Workspace struct {
		Dir string `yaml:"dir"`
	} `yaml:"workspace"`
}

func defaultConfig() *Config {
	var config Config
	config.Duel.DurationSeconds = 1200
	config.Workspace.Dir = "./workspaces"
	return &config
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
