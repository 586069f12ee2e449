package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.Res != 0.01 || cfg.Search.Scale() != 100 {
		t.Fatalf("default res/scale = %v/%d", cfg.Search.Res, cfg.Search.Scale())
	}
	if cfg.Pipeline.PoolSize != 20 || cfg.Pipeline.PoolLow != 5 || cfg.Pipeline.PoolHigh != 15 {
		t.Fatalf("default pool = %d/%d/%d", cfg.Pipeline.PoolSize, cfg.Pipeline.PoolLow, cfg.Pipeline.PoolHigh)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
paths:
  dbPath: /data/index
  dataset: /data/spectra
search:
  dM: 10.5
  minShp: 6
pipeline:
  threads: 16
cluster:
  nodes: 4
  myId: 2
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.DBPath != "/data/index" || cfg.Search.DM != 10.5 ||
		cfg.Search.MinSHP != 6 || cfg.Pipeline.Threads != 16 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Cluster.Nodes != 4 || cfg.Cluster.MyID != 2 {
		t.Fatalf("cluster config = %+v", cfg.Cluster)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GC_THREADS", "3")
	t.Setenv("GC_WORKSPACE", "/tmp/ws")
	t.Setenv("GC_KAFKA_BROKERS", "b1:9092,b2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.Threads != 3 {
		t.Fatalf("GC_THREADS override failed: %d", cfg.Pipeline.Threads)
	}
	if cfg.Paths.Workspace != "/tmp/ws" {
		t.Fatalf("GC_WORKSPACE override failed: %s", cfg.Paths.Workspace)
	}
	if len(cfg.Kafka.Brokers) != 2 || !cfg.Kafka.Enabled() {
		t.Fatalf("GC_KAFKA_BROKERS override failed: %v", cfg.Kafka.Brokers)
	}
}

func TestClampOutOfRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.Res = 0.001
	cfg.Search.DM = 1e7
	cfg.Pipeline.Threads = -2
	cfg.Pipeline.PoolLow = 50
	cfg.Cluster.Policy = "sideways"
	cfg.Cluster.MyID = 9
	cfg.Clamp()

	if cfg.Search.Res != 0.01 {
		t.Fatalf("res clamped to %v, want 0.01", cfg.Search.Res)
	}
	if cfg.Search.DM != cfg.Search.MaxMass {
		t.Fatalf("dM clamped to %v, want max_mass %v", cfg.Search.DM, cfg.Search.MaxMass)
	}
	if cfg.Pipeline.Threads != 1 {
		t.Fatalf("threads clamped to %d, want 1", cfg.Pipeline.Threads)
	}
	if cfg.Pipeline.PoolLow >= cfg.Pipeline.PoolSize {
		t.Fatalf("pool low %d not clamped below size %d", cfg.Pipeline.PoolLow, cfg.Pipeline.PoolSize)
	}
	if cfg.Cluster.Policy != "cyclic" {
		t.Fatalf("policy = %q, want cyclic fallback", cfg.Cluster.Policy)
	}
	if cfg.Cluster.MyID != 0 {
		t.Fatalf("myId = %d, want 0 fallback", cfg.Cluster.MyID)
	}
}

func TestParseMods(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.Mods = []string{
		"M:15.99:2",
		"STY:79.97:12", // NUM clamps to 8
		"garbage",
		"C:x:1",
	}
	mods := cfg.ParseMods()
	if len(mods) != 2 {
		t.Fatalf("parsed %d mods, want 2", len(mods))
	}
	if mods[0].AA != "M" || mods[0].Mass != 15.99 || mods[0].Num != 2 {
		t.Fatalf("mod 0 = %+v", mods[0])
	}
	if mods[1].Num != 8 {
		t.Fatalf("mod 1 NUM = %d, want clamp at 8", mods[1].Num)
	}
}

func TestDFScaled(t *testing.T) {
	s := SearchConfig{Res: 0.01, DF: 0.02}
	if got := s.DFScaled(); got != 2 {
		t.Fatalf("DFScaled = %d, want 2", got)
	}
}
