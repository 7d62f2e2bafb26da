// Package config holds the typed configuration for a corebase node:
// schema directory, WAL layout, snapshot/checkpoint policy, replication
// role hints, and the operator-facing IPC endpoint. Shaped after the
// nested-by-subsystem Config struct.
package config

import "time"

type Config struct {
	DataDir string

	Schema      SchemaConfig
	WAL         WALConfig
	Snapshot    SnapshotConfig
	Replication ReplicationConfig
	IPC         IPCConfig
	Metrics     MetricsConfig
}

// SchemaConfig points the registry at its schema directory. Loading is
// mandatory and happens before the WAL is opened (spec §4.2 Startup).
type SchemaConfig struct {
	Dir string
}

type WALConfig struct {
	Dir               string
	MaxSegmentSizeMB  uint64
	FsyncOnAppend     bool // spec D1: fsync-before-ack is not optional in the core, kept for documentation
}

type CheckpointConfig struct {
	IntervalMB     uint64
	AutoCreate     bool
	MaxCheckpoints int
}

type SnapshotConfig struct {
	Dir        string
	Checkpoint CheckpointConfig
}

// ReplicationConfig describes this node's role at boot. The authority
// marker on disk, not this struct, is the source of truth (spec §4.6
// Boot rule) — nothing writes a marker from these fields, and corebased
// refuses to start when no marker exists.
type ReplicationConfig struct {
	NodeID              string
	ListenAddr          string
	AuthorityAddr       string        // set when this node boots as a follower
	ReadYourWritesWait  time.Duration // max wait before StaleReplica
	CatchUpPollInterval time.Duration
}

type IPCConfig struct {
	SocketPath string
	EnableTCP  bool
	TCPAddr    string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string // Prometheus /metrics listen address
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Schema: SchemaConfig{
			Dir: "./data/schemas",
		},
		WAL: WALConfig{
			Dir:              "./data/wal",
			MaxSegmentSizeMB: 64,
			FsyncOnAppend:    true,
		},
		Snapshot: SnapshotConfig{
			Dir: "./data/snapshots",
			Checkpoint: CheckpointConfig{
				IntervalMB:     64,
				AutoCreate:     true,
				MaxCheckpoints: 0,
			},
		},
		Replication: ReplicationConfig{
			ListenAddr:          "127.0.0.1:4710",
			ReadYourWritesWait:  2 * time.Second,
			CatchUpPollInterval: 20 * time.Millisecond,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/corebase.sock",
			EnableTCP:  false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9120",
		},
	}
}
