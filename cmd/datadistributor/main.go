// Command datadistributor runs one Data Distributor incarnation: the
// raft-fenced bootstrap/resume/main-loop cycle, its admin JSON-over-HTTP
// surface, and a bundled gRPC health check.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavandhadge/datadistributor/internal/adminserver"
	"github.com/pavandhadge/datadistributor/internal/audit"
	"github.com/pavandhadge/datadistributor/internal/ddconfig"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/distributor"
	"github.com/pavandhadge/datadistributor/internal/raftnode"
	"github.com/pavandhadge/datadistributor/internal/runtimeutil"
	"github.com/pavandhadge/datadistributor/internal/snapshot"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/txn"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
	"github.com/pavandhadge/datadistributor/internal/workerclient"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "datadistributor",
	Short: "Data Distributor control plane",
	Long: `datadistributor bootstraps the move-keys lock, resumes in-flight
shard relocations, and runs the main supervision loop that keeps every
shard replicated to its target teams.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("datadistributor v%s", version)
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the Data Distributor",
	PreRunE: func(cmd *cobra.Command, args []string) error { return viper.BindPFlags(cmd.Flags()) },
	RunE:    serve,
}

func init() {
	cobra.OnInitialize(ddconfig.InitViper)
	ddconfig.BindFlags(serveCmd)
	rootCmd.AddCommand(versionCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	cfg := ddconfig.Load()
	if cfg.NodeID == "" {
		log.Fatalf("--node-id is required")
	}
	runtimeutil.ConfigureGOMAXPROCS("datadistributor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := raftnode.New(raftnode.Config{
		NodeID:     cfg.NodeID,
		ListenAddr: cfg.RaftAddr,
		DataDir:    cfg.RaftDataDir,
		Bootstrap:  cfg.Bootstrap,
	})
	if err != nil {
		log.Fatalf("raftnode.New: %v", err)
	}
	defer node.Shutdown()

	store, err := txn.Open(cfg.MetadataPath)
	if err != nil {
		log.Fatalf("txn.Open: %v", err)
	}
	defer store.Close()

	directory := teamdir.New()
	tracker := ddstate.NewMemTracker()
	primaryWiggler := wiggler.New(cfg.WigglerMinAgeSecs)
	remoteWiggler := wiggler.New(cfg.WigglerMinAgeSecs)
	es := distributor.NewEnabledState(cfg.StartEnabled)
	blobRestore := &distributor.BlobRestoreState{}

	workers := workerclient.New(workerclient.Roster{
		Storages:     cfg.StorageAddrs,
		TLogs:        cfg.TLogAddrs,
		Coordinators: cfg.CoordinatorAddrs,
	})

	snapshots := snapshot.New(store, workers, workers, cfg.SnapshotTeamSize)

	auditInitialized := make(chan struct{})
	close(auditInitialized)
	audits := audit.New(audit.Config{
		Txn:        store,
		Dispatcher: workers,
		Directory:  workers,
		Replicas: func(ctx context.Context, r ddstate.KeyRange) (audit.SubRangeReplicas, error) {
			return audit.SubRangeReplicas{Primary: cfg.StorageAddrs}, nil
		},
		Initialized:      auditInitialized,
		AuditInitialized: auditInitialized,
		DDEnabled:        es.IsEnabled,
	})

	admin := adminserver.New(&adminserver.Server{
		Tracker:            tracker,
		Snapshots:          snapshots,
		Directory:          directory,
		WigglerPrimary:     primaryWiggler,
		WigglerRemote:      remoteWiggler,
		Audits:             audits,
		BlobRestore:        blobRestore,
		BlobMigratorID:     cfg.BlobMigratorID,
		SnapshotInProgress: snapshots.InProgress,
		RaiseConfigChanged: func() { log.Printf("distributor: dd_config_changed raised by blob restore prepare") },
		Halt:               func(requesterID string) { log.Printf("distributor: halt requested by %s", requesterID); cancel() },
	})

	health := adminserver.NewHealthServer()
	health.SetServing(false)

	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: admin.Handler()}
	go func() {
		log.Printf("datadistributor: admin surface listening on %s", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("datadistributor: admin server stopped: %v", err)
		}
	}()

	healthLis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		log.Fatalf("health listen: %v", err)
	}
	go func() {
		log.Printf("datadistributor: health check listening on %s", cfg.HealthAddr)
		if err := health.Serve(healthLis); err != nil {
			log.Printf("datadistributor: health server stopped: %v", err)
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Printf("datadistributor: shutting down")
		health.SetServing(false)
		cancel()
		_ = adminSrv.Shutdown(context.Background())
		health.Stop()
	}()

	loopCfg := distributor.Config{
		OwnerID:   cfg.NodeID,
		ResumeCfg: ddstate.ResumeConfig{},
	}

	build := func(boot *distributor.BootstrapResult) (distributor.Graph, error) {
		health.SetServing(true)
		g := distributor.NewDefaultGraph(tracker, directory, primaryWiggler, remoteWiggler, audits, store)
		g.OnWiggle = func(ctx context.Context, serverID string, remote bool) {
			log.Printf("distributor: wiggle round started for %s (remote=%v); storage-server replacement is out of scope", serverID, remote)
		}
		return g, nil
	}

	err = distributor.Run(ctx, es, node, store, directory, loopCfg, build)
	if err != nil && ctx.Err() == nil {
		log.Printf("datadistributor: main loop exited: %v", err)
		return err
	}
	return nil
}
