// Command corebased runs one storage node: it recovers the MVCC store
// from the latest snapshot and WAL tail, reads the on-disk authority
// marker to decide its replication role, and serves the operator-facing
// IPC surface over a Unix domain socket (spec §4.2 Startup, §4.6 Boot
// rule). Grounded on docdb/cmd/docdb/main.go flag parsing
// and signal-driven shutdown loop.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kartikbazzad/corebase/internal/config"
	corebaseerrors "github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/executor"
	"github.com/kartikbazzad/corebase/internal/ipc"
	"github.com/kartikbazzad/corebase/internal/logger"
	"github.com/kartikbazzad/corebase/internal/metrics"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/replication"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
	"github.com/kartikbazzad/corebase/rlspredicate"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file (optional; env COREBASE_* always applies)")
	dataDir := flag.String("data-dir", "", "Directory for database files (overrides config)")
	socketPath := flag.String("socket", "", "Unix socket path (overrides config)")
	nodeID := flag.String("node-id", "", "This node's id (overrides config)")
	listenAddr := flag.String("listen-addr", "", "Address this node ships its WAL from, when it is the authority")
	authorityAddr := flag.String("authority-addr", "", "Address of the current authority's ship server, when this node is a follower")
	maxConnections := flag.Int("max-connections", 64, "Bound on concurrent IPC connection handlers (0 = unbounded)")
	flag.Parse()

	log := logger.Default()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("load config: %v", err)
		os.Exit(corebaseerrors.ExitConfigError)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *socketPath != "" {
		cfg.IPC.SocketPath = *socketPath
	}
	if *nodeID != "" {
		cfg.Replication.NodeID = *nodeID
	}
	if cfg.Replication.NodeID == "" {
		cfg.Replication.NodeID = replication.NewNodeID()
	}
	if *listenAddr != "" {
		cfg.Replication.ListenAddr = *listenAddr
	}
	if *authorityAddr != "" {
		cfg.Replication.AuthorityAddr = *authorityAddr
	}

	log.Info("starting corebased, data dir %s", cfg.DataDir)

	reg, err := schema.Load(cfg.Schema.Dir, log)
	if err != nil {
		log.Error("load schema registry: %v", err)
		os.Exit(corebaseerrors.ExitConfigError)
	}

	markers := replication.NewMarkerStore(cfg.DataDir)
	marker, err := markers.Read()
	if err != nil {
		if kind, ok := corebaseerrors.KindOf(err); ok && kind == corebaseerrors.KindCorruption {
			log.Error("authority marker corrupt, refusing to start: %v", err)
			os.Exit(corebaseerrors.ExitCorruption)
		}
		log.Error("no authority marker present, refusing to start with no default role: %v", err)
		os.Exit(corebaseerrors.ExitAuthorityConflict)
	}
	log.Info("authority marker: role=%s generation=%d authority_node_id=%s", marker.Role, marker.Generation, marker.AuthorityNodeID)

	w, err := wal.Open(cfg.WAL.Dir, cfg.WAL.MaxSegmentSizeMB, log)
	if err != nil {
		log.Error("open WAL: %v", err)
		os.Exit(corebaseerrors.ExitIOFatal)
	}
	defer w.Close()

	store := mvcc.NewStore(reg, log)
	if err := mvcc.Recover(store, w, cfg.Snapshot.Dir); err != nil {
		if kind, ok := corebaseerrors.KindOf(err); ok && kind == corebaseerrors.KindCorruption {
			log.Error("recovery found non-terminal WAL corruption: %v", err)
			os.Exit(corebaseerrors.ExitCorruption)
		}
		log.Error("recovery failed: %v", err)
		os.Exit(corebaseerrors.ExitIOFatal)
	}

	ex := executor.New(store, w, reg)

	rls, err := rlspredicate.NewEngine()
	if err != nil {
		log.Error("build RLS predicate engine: %v", err)
		os.Exit(corebaseerrors.ExitConfigError)
	}

	shutdownCtx, cancelShutdown := context.WithCancel(context.Background())
	defer cancelShutdown()

	var follower *replication.Follower
	var promotion *replication.Promotion

	switch marker.Role {
	case replication.RoleAuthority:
		ln, err := net.Listen("tcp", cfg.Replication.ListenAddr)
		if err != nil {
			log.Error("listen for WAL shipping on %s: %v", cfg.Replication.ListenAddr, err)
			os.Exit(corebaseerrors.ExitIOFatal)
		}
		shipServer := replication.NewShipServer(w, cfg.Replication.CatchUpPollInterval, log)
		go func() {
			if err := shipServer.Serve(ln); err != nil {
				log.Info("ship server stopped: %v", err)
			}
		}()
		go func() {
			<-shutdownCtx.Done()
			ln.Close()
		}()

	case replication.RoleFollower:
		follower = replication.NewFollower(store)
		if cfg.Replication.AuthorityAddr != "" {
			shipClient := replication.NewShipClient(cfg.Replication.AuthorityAddr, follower, log)
			go shipClient.Run(shutdownCtx)
		} else {
			log.Warn("node booted as follower with no authority-addr configured; it will not receive WAL shipments until apply_wal is called directly")
		}
		authorityHandle := replication.NewNodeAuthorityHandle(nodeWriteGate{ex}, markers, cfg.Replication.NodeID)
		promotion = replication.NewPromotion(markers, follower, authorityHandle, cfg.Replication.NodeID)
	}

	handler := ipc.NewHandler(ex, reg, rls, markers, follower, promotion, log)
	server := ipc.NewServer(cfg.IPC.SocketPath, handler, *maxConnections, log)
	if err := server.Start(); err != nil {
		log.Error("start IPC server: %v", err)
		os.Exit(corebaseerrors.ExitIOFatal)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics server stopped: %v", err)
			}
		}()
		log.Info("metrics listening on %s", cfg.Metrics.Addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down...")
	cancelShutdown()

	if err := server.Stop(); err != nil {
		log.Error("error during shutdown: %v", err)
	}
	log.Info("corebased stopped")
	os.Exit(corebaseerrors.ExitClean)
}

// nodeWriteGate adapts *executor.Executor to replication's local
// writeGate interface without the replication package importing
// executor.
type nodeWriteGate struct {
	ex *executor.Executor
}

func (g nodeWriteGate) CurrentWatermark() wal.LSN { return g.ex.CurrentWatermark() }
func (g nodeWriteGate) StopAcceptingWrites()       { g.ex.StopAcceptingWrites() }
func (g nodeWriteGate) FlushTail() error           { return g.ex.FlushTail() }
