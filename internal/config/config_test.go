package config

import (
	"os"
	"testing"
)

func TestDefaultCoordinator(t *testing.T) {
	cfg := DefaultCoordinator()
	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.Replication.DefaultFactor != 3 {
		t.Errorf("DefaultFactor = %d, want 3", cfg.Replication.DefaultFactor)
	}
	if cfg.Replication.MinFactor != 2 {
		t.Errorf("MinFactor = %d, want 2", cfg.Replication.MinFactor)
	}
	if cfg.Replication.PlacementStrategy != "diverse" {
		t.Errorf("PlacementStrategy = %q, want diverse", cfg.Replication.PlacementStrategy)
	}
}

func TestLoadCoordinatorFlags(t *testing.T) {
	cfg, err := LoadCoordinator([]string{"--port", "6000", "--placement-strategy", "random"})
	if err != nil {
		t.Fatalf("LoadCoordinator: %v", err)
	}
	if cfg.Port != 6000 {
		t.Errorf("Port = %d, want 6000", cfg.Port)
	}
	if cfg.Replication.PlacementStrategy != "random" {
		t.Errorf("PlacementStrategy = %q, want random", cfg.Replication.PlacementStrategy)
	}
}

func TestLoadCoordinatorEnvBelowFlag(t *testing.T) {
	os.Setenv("COORDINATOR_PORT", "7000")
	defer os.Unsetenv("COORDINATOR_PORT")

	cfg, err := LoadCoordinator(nil)
	if err != nil {
		t.Fatalf("LoadCoordinator: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 from env", cfg.Port)
	}

	cfg, err = LoadCoordinator([]string{"--port", "8000"})
	if err != nil {
		t.Fatalf("LoadCoordinator: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000 -- flag should win over env", cfg.Port)
	}
}

func TestLoadNodeRequiresID(t *testing.T) {
	if _, err := LoadNode(nil); err == nil {
		t.Error("expected error when node_id is missing")
	}
}

func TestLoadNodeDefaults(t *testing.T) {
	cfg, err := LoadNode([]string{"node-1"})
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if cfg.ID != "node-1" {
		t.Errorf("ID = %q, want node-1", cfg.ID)
	}
	if cfg.StorageGiB != 100 {
		t.Errorf("StorageGiB = %d, want 100", cfg.StorageGiB)
	}
	if cfg.CoordinatorPort != 5000 {
		t.Errorf("CoordinatorPort = %d, want 5000", cfg.CoordinatorPort)
	}
}

func TestLoadNodeFlagsOverrideDefaults(t *testing.T) {
	cfg, err := LoadNode([]string{"--storage", "200", "--coordinator-port", "5050", "node-2"})
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if cfg.ID != "node-2" {
		t.Errorf("ID = %q, want node-2", cfg.ID)
	}
	if cfg.StorageGiB != 200 {
		t.Errorf("StorageGiB = %d, want 200", cfg.StorageGiB)
	}
	if cfg.CoordinatorPort != 5050 {
		t.Errorf("CoordinatorPort = %d, want 5050", cfg.CoordinatorPort)
	}
}
