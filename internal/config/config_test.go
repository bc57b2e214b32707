package config

import "testing"

func TestLoad_ClusteringDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Clustering.K != 6 {
		t.Errorf("expected default K=6, got %d", cfg.Clustering.K)
	}
	if cfg.Clustering.Threshold != 0.15 {
		t.Errorf("expected default threshold=0.15, got %f", cfg.Clustering.Threshold)
	}
	if cfg.Clustering.RepresentativesPerCluster != 16 {
		t.Errorf("expected default representatives=16, got %d", cfg.Clustering.RepresentativesPerCluster)
	}
}

func TestLoad_ClusteringOverrides(t *testing.T) {
	t.Setenv("CLUSTER_K", "10")
	t.Setenv("CLUSTER_THRESHOLD", "0.3")
	t.Setenv("CLUSTER_BATCH_SIZE", "8")

	cfg := Load()
	if cfg.Clustering.K != 10 {
		t.Errorf("expected K=10, got %d", cfg.Clustering.K)
	}
	if cfg.Clustering.Threshold != 0.3 {
		t.Errorf("expected threshold=0.3, got %f", cfg.Clustering.Threshold)
	}
	if cfg.Clustering.BatchSize != 8 {
		t.Errorf("expected batchSize=8, got %d", cfg.Clustering.BatchSize)
	}
}

func TestLoad_InvalidThresholdFallsBackToDefault(t *testing.T) {
	t.Setenv("CLUSTER_THRESHOLD", "1.5")
	cfg := Load()
	if cfg.Clustering.Threshold != 0.15 {
		t.Errorf("expected fallback to default threshold for out-of-range value, got %f", cfg.Clustering.Threshold)
	}
}

func TestLoad_DefaultEmbeddingDim(t *testing.T) {
	cfg := Load()
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_CustomEmbeddingDim(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "768")
	cfg := Load()
	if cfg.Embedding.Dim != 768 {
		t.Errorf("expected embedding dim 768, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_InvalidEmbeddingDimFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "invalid")
	cfg := Load()
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim for invalid input, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_DatabaseConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cluster_sorter")
	cfg := Load()
	if cfg.Database.URL != "postgres://localhost/cluster_sorter" {
		t.Errorf("expected database URL to be set, got %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default MaxOpenConns=25, got %d", cfg.Database.MaxOpenConns)
	}
}
