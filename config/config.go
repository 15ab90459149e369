// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads docweave configuration from a TOML file layered
// over defaults. Missing files are not an error; every setting has a
// usable default for a localhost deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains data directory configuration.
type Paths struct {
	// DataDir is the root for the relational database and content cache.
	DataDir string `toml:"data_dir"`
}

// Qdrant contains vector store connection settings.
type Qdrant struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Collection     string `toml:"collection"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AI contains AI provider hosts and models.
type AI struct {
	AnalysisHost   string `toml:"analysis_host"`
	EmbeddingHost  string `toml:"embedding_host"`
	AnalysisModel  string `toml:"analysis_model"`
	EmbeddingModel string `toml:"embedding_model"`
	Token          string `toml:"token"`
	Dimensions     int    `toml:"dimensions"`
}

// Pipeline contains ingestion tuning.
type Pipeline struct {
	ChunkSize             int  `toml:"chunk_size"`
	ChunkOverlap          int  `toml:"chunk_overlap"`
	BatchPauseMillis      int  `toml:"batch_pause_millis"`
	AnalyzeTimeoutSeconds int  `toml:"analyze_timeout_seconds"`
	ContextualEmbeddings  bool `toml:"contextual_embeddings"`
}

// Sweeper contains reclamation intervals and thresholds, in seconds.
type Sweeper struct {
	EmergencyIntervalSeconds int `toml:"emergency_interval_seconds"`
	RegularIntervalSeconds   int `toml:"regular_interval_seconds"`
	StartupDelaySeconds      int `toml:"startup_delay_seconds"`
	HeartbeatTimeoutSeconds  int `toml:"heartbeat_timeout_seconds"`
	MaxRuntimeSeconds        int `toml:"max_runtime_seconds"`
	StuckChunkSeconds        int `toml:"stuck_chunk_seconds"`
	MirrorEvictionSeconds    int `toml:"mirror_eviction_seconds"`
}

// Config is the root configuration.
type Config struct {
	LogLevel string   `toml:"log_level"`
	Paths    Paths    `toml:"paths"`
	Qdrant   Qdrant   `toml:"qdrant"`
	AI       AI       `toml:"ai"`
	Pipeline Pipeline `toml:"pipeline"`
	Sweeper  Sweeper  `toml:"sweeper"`
}

// Default returns the localhost configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Paths: Paths{
			DataDir: "~/.local/share/docweave",
		},
		Qdrant: Qdrant{
			URL:            "http://localhost:6333",
			Collection:     "docweave_chunks",
			TimeoutSeconds: 15,
		},
		AI: AI{
			AnalysisHost:   "http://localhost:11434/v1",
			EmbeddingHost:  "http://localhost:11434/v1",
			AnalysisModel:  "qwen2.5:3b",
			EmbeddingModel: "embeddinggemma",
			Token:          "none",
			Dimensions:     384,
		},
		Pipeline: Pipeline{
			ChunkSize:             2000,
			ChunkOverlap:          200,
			BatchPauseMillis:      500,
			AnalyzeTimeoutSeconds: 30,
			ContextualEmbeddings:  true,
		},
		Sweeper: Sweeper{
			EmergencyIntervalSeconds: 15,
			RegularIntervalSeconds:   60,
			StartupDelaySeconds:      10,
			HeartbeatTimeoutSeconds:  90,
			MaxRuntimeSeconds:        480,
			StuckChunkSeconds:        600,
			MirrorEvictionSeconds:    300,
		},
	}
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docweave/config.toml")
}

// Load parses the configuration at path layered over defaults and
// validates it. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(expanded)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("open config: %w", err)
			}
		} else {
			defer file.Close()
			decoder := toml.NewDecoder(file)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	expanded, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = expanded
	c.Qdrant.URL = strings.TrimRight(strings.TrimSpace(c.Qdrant.URL), "/")
	return nil
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Qdrant.URL) == "" {
		return errors.New("qdrant.url is required")
	}
	if strings.TrimSpace(c.Qdrant.Collection) == "" {
		return errors.New("qdrant.collection is required")
	}
	if c.AI.Dimensions <= 0 {
		return fmt.Errorf("ai.dimensions must be positive, got %d", c.AI.Dimensions)
	}
	if c.Pipeline.ChunkSize <= c.Pipeline.ChunkOverlap {
		return fmt.Errorf("pipeline.chunk_size (%d) must exceed pipeline.chunk_overlap (%d)",
			c.Pipeline.ChunkSize, c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.ChunkOverlap < 0 {
		return fmt.Errorf("pipeline.chunk_overlap must be non-negative, got %d", c.Pipeline.ChunkOverlap)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "docweave.db")
}

// CachePath returns the content cache location under the data dir.
func (c *Config) CachePath() string {
	return filepath.Join(c.Paths.DataDir, "cache")
}

// EnsureDirectories creates the data directory tree.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.CachePath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			return home, nil
		}
		return filepath.Join(home, pathValue[2:]), nil
	}
	return filepath.Clean(pathValue), nil
}
