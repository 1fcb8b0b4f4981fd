// Package config layers command-line flags over environment variables over
// an optional YAML file, following the teacher binaries' getenv/mustGetenv
// convention as the innermost layer while adding the flag/file layers a
// real deployment needs.
//
// Precedence, highest first: flags explicitly set on the command line,
// environment variables, the YAML file (if --config points at one),
// built-in defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Replication holds the replica placement configuration keys.
type Replication struct {
	PlacementStrategy string `yaml:"placement_strategy"`
	DefaultFactor     int    `yaml:"default_factor"`
	MinFactor         int    `yaml:"min_factor"`
}

// Monitoring holds the heartbeat monitor configuration keys.
type Monitoring struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	FailureTimeout         time.Duration `yaml:"failure_timeout"`
	RecoveryCheckInterval  time.Duration `yaml:"recovery_check_interval"`
	EnableAutoRecovery     bool          `yaml:"enable_auto_recovery"`
}

// Storage holds the storage-node integrity configuration keys.
type Storage struct {
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`
	VerifyOnWrite     bool   `yaml:"verify_on_write"`
	VerifyOnRead      bool   `yaml:"verify_on_read"`
}

// Coordinator is the complete coordinator configuration.
type Coordinator struct {
	Host        string      `yaml:"host"`
	DBPath      string      `yaml:"db_path"`
	Replication Replication `yaml:"replication"`
	Monitoring  Monitoring  `yaml:"monitoring"`
	Port        int         `yaml:"port"`
	MetricsPort int         `yaml:"metrics_port"`
}

// DefaultCoordinator returns the defaults named throughout spec §6.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		Host:        "localhost",
		Port:        5000,
		MetricsPort: 9090,
		DBPath:      "",
		Replication: Replication{
			DefaultFactor:     3,
			MinFactor:         2,
			PlacementStrategy: "diverse",
		},
		Monitoring: Monitoring{
			HeartbeatInterval:     3 * time.Second,
			FailureTimeout:        30 * time.Second,
			RecoveryCheckInterval: 5 * time.Second,
			EnableAutoRecovery:    true,
		},
	}
}

// LoadCoordinator parses flags from args against the coordinator defaults,
// layering environment variables and an optional YAML file underneath.
func LoadCoordinator(args []string) (Coordinator, error) {
	cfg := DefaultCoordinator()

	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	host := fs.String("host", getenv("COORDINATOR_HOST", cfg.Host), "listen host")
	port := fs.Int("port", getenvInt("COORDINATOR_PORT", cfg.Port), "listen port")
	metricsPort := fs.Int("metrics-port", getenvInt("COORDINATOR_METRICS_PORT", cfg.MetricsPort), "prometheus /metrics port")
	dbPath := fs.String("db", getenv("COORDINATOR_DB_PATH", cfg.DBPath), "optional bolt db path for persisting the replica index and node registry")
	strategy := fs.String("placement-strategy", getenv("REPLICATION_PLACEMENT_STRATEGY", cfg.Replication.PlacementStrategy), "random|least_loaded|diverse")
	defaultFactor := fs.Int("replication-factor", getenvInt("REPLICATION_DEFAULT_FACTOR", cfg.Replication.DefaultFactor), "default replication factor")
	minFactor := fs.Int("replication-min-factor", getenvInt("REPLICATION_MIN_FACTOR", cfg.Replication.MinFactor), "minimum replicas before under-replicated")
	autoRecovery := fs.Bool("auto-recovery", getenvBool("MONITORING_ENABLE_AUTO_RECOVERY", cfg.Monitoring.EnableAutoRecovery), "enable automatic re-replication")

	if err := fs.Parse(args); err != nil {
		return Coordinator{}, err
	}

	if *configPath != "" {
		if err := mergeYAMLFile(*configPath, &cfg); err != nil {
			return Coordinator{}, fmt.Errorf("config: %w", err)
		}
	}

	cfg.Host = *host
	cfg.Port = *port
	cfg.MetricsPort = *metricsPort
	cfg.DBPath = *dbPath
	cfg.Replication.PlacementStrategy = *strategy
	cfg.Replication.DefaultFactor = *defaultFactor
	cfg.Replication.MinFactor = *minFactor
	cfg.Monitoring.EnableAutoRecovery = *autoRecovery

	return cfg, nil
}

// Node is the complete storage-node configuration.
type Node struct {
	ID                string `yaml:"id"`
	Host              string `yaml:"host"`
	CoordinatorHost   string `yaml:"coordinator_host"`
	Port              int    `yaml:"port"`
	StorageGiB        int    `yaml:"storage_gib"`
	BandwidthBps      int64  `yaml:"bandwidth_bps"`
	CoordinatorPort   int    `yaml:"coordinator_port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultNode returns the node defaults named in spec §6.
func DefaultNode() Node {
	return Node{
		Host:              "localhost",
		StorageGiB:        100,
		BandwidthBps:      1_000_000_000,
		CoordinatorHost:   "localhost",
		CoordinatorPort:   5000,
		HeartbeatInterval: 3 * time.Second,
	}
}

// LoadNode parses flags from args against the node defaults. nodeID is the
// required positional argument naming this node.
func LoadNode(args []string) (Node, error) {
	cfg := DefaultNode()

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	host := fs.String("host", getenv("NODE_HOST", cfg.Host), "listen host")
	port := fs.Int("port", getenvInt("NODE_PORT", cfg.Port), "listen port")
	storageGiB := fs.Int("storage", getenvInt("NODE_STORAGE_GIB", cfg.StorageGiB), "declared storage capacity in GiB")
	coordHost := fs.String("coordinator-host", getenv("COORDINATOR_HOST", cfg.CoordinatorHost), "coordinator host")
	coordPort := fs.Int("coordinator-port", getenvInt("COORDINATOR_PORT", cfg.CoordinatorPort), "coordinator port")

	if err := fs.Parse(args); err != nil {
		return Node{}, err
	}
	if fs.NArg() < 1 {
		return Node{}, fmt.Errorf("config: node_id is required as the first positional argument")
	}

	cfg.ID = fs.Arg(0)
	cfg.Host = *host
	cfg.Port = *port
	cfg.StorageGiB = *storageGiB
	cfg.CoordinatorHost = *coordHost
	cfg.CoordinatorPort = *coordPort

	return cfg, nil
}

func mergeYAMLFile(path string, cfg *Coordinator) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
