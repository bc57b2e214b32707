// Package config loads cluster-sorter's runtime configuration from
// environment variables, with the clustering knobs' defaults read from an
// embedded YAML file.
package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the closed configuration record enumerated in §6: every
// recognized option has a named field, and invalid combinations are
// rejected at construction rather than discovered deep in a dynamic
// option bag.
type Config struct {
	Clustering ClusteringConfig
	Embedding  EmbeddingConfig
	Database   DatabaseConfig
	Project    string
}

// ClusteringConfig holds the six tunables §6 enumerates for the
// Clustering Engine and Producer.
type ClusteringConfig struct {
	K                         int     // default 6
	Threshold                 float64 // default 0.15
	RefreshInterval           int     // R, default 20
	BatchSize                 int     // B, default 4
	IterationCap              int     // default 20
	RepresentativesPerCluster int     // default 16
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // fixed at first use for a project
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // default 25
	MaxIdleConns int     // default 5
}

type clusteringDefaults struct {
	K                         int     `yaml:"k"`
	Threshold                 float64 `yaml:"threshold"`
	RefreshInterval           int     `yaml:"refreshInterval"`
	BatchSize                 int     `yaml:"batchSize"`
	IterationCap              int     `yaml:"iterationCap"`
	RepresentativesPerCluster int     `yaml:"representativesPerCluster"`
}

// envInt reads an environment variable and parses it as a positive
// integer, falling back to defaultVal when unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// Load reads the embedded clustering defaults and overlays environment
// variables on top.
func Load() *Config {
	var defaults clusteringDefaults
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Project: os.Getenv("CLUSTER_SORTER_PROJECT"),
		Clustering: ClusteringConfig{
			K:                         envInt("CLUSTER_K", defaults.K),
			Threshold:                 envFloat("CLUSTER_THRESHOLD", defaults.Threshold),
			RefreshInterval:           envInt("CLUSTER_REFRESH_INTERVAL", defaults.RefreshInterval),
			BatchSize:                 envInt("CLUSTER_BATCH_SIZE", defaults.BatchSize),
			IterationCap:              envInt("CLUSTER_ITERATION_CAP", defaults.IterationCap),
			RepresentativesPerCluster: envInt("CLUSTER_REPRESENTATIVES", defaults.RepresentativesPerCluster),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
	}
}
