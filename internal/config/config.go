// Package config loads the settings the caskdb CLI needs to open a
// database: a data directory plus the handful of DB options an operator
// might reasonably want to override without recompiling. It reads
// config.yml with the usual environment-variable expansion and layers an
// optional .env file on top, in the teacher's style.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config holds the values a caskdb.Open call needs, as read from disk.
type Config struct {
	DataDir           string `yaml:"DATA_DIR"`
	MaxActiveFileSize int64  `yaml:"MAX_ACTIVE_FILE_SIZE"`
	SyncOnWrite       bool   `yaml:"SYNC_ON_WRITE"`
	SyncOnRotate      bool   `yaml:"SYNC_ON_ROTATE"`
	VerifyChecksums   bool   `yaml:"VERIFY_CHECKSUMS"`
	MergeEnabled      bool   `yaml:"MERGE_ENABLED"`
	MergeThreshold    int    `yaml:"MERGE_THRESHOLD"`
}

// defaults matches caskdb's own Option defaults, so a missing or partial
// config.yml still produces a usable Config.
func defaults() Config {
	return Config{
		DataDir:           "caskdb-data",
		MaxActiveFileSize: 2 << 30,
		SyncOnWrite:       false,
		SyncOnRotate:      true,
		VerifyChecksums:   true,
		MergeEnabled:      true,
		MergeThreshold:    100,
	}
}

// Load reads path (falling back to an all-defaults Config if it doesn't
// exist), first loading a .env file from the current working directory if
// present so ${VAR} references in the YAML can be expanded from the
// environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		zap.S().Debugw("no .env file loaded", "error", err)
	}

	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}
