// Package ddconfig binds the service's flags and DD_-prefixed environment
// variables through viper, the way ValentinKolb-dKV's cmd/serve/root.go
// binds DKV_-prefixed variables for its own serve command.
package ddconfig

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is everything the serve command needs to bring up one Data
// Distributor incarnation.
type Config struct {
	NodeID       string
	RaftAddr     string
	RaftDataDir  string
	Bootstrap    bool
	MetadataPath string

	AdminAddr  string
	HealthAddr string

	StorageAddrs     []string
	TLogAddrs        []string
	CoordinatorAddrs []string

	StartEnabled       bool
	WigglerMinAgeSecs  int64
	BlobMigratorID     string
	SnapshotTeamSize   int
	LogLevel           string
}

// BindFlags registers the serve command's flags, mirroring dKV's
// PersistentFlags()+viper.BindPFlags shape.
func BindFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("node-id", "", "unique identifier for this node")
	cmd.PersistentFlags().String("raft-addr", "127.0.0.1:7001", "raft fencing group listen address")
	cmd.PersistentFlags().String("raft-data-dir", "data/raft", "directory for raft log storage and snapshots")
	cmd.PersistentFlags().Bool("bootstrap", false, "bootstrap a new single-node raft fencing group")
	cmd.PersistentFlags().String("metadata-path", "data/metadata.db", "path to the bbolt metadata store")

	cmd.PersistentFlags().String("admin-addr", "127.0.0.1:8081", "admin JSON-over-HTTP listen address")
	cmd.PersistentFlags().String("health-addr", "127.0.0.1:8082", "gRPC health-check listen address")

	cmd.PersistentFlags().StringSlice("storage-addrs", nil, "comma-separated storage server addresses")
	cmd.PersistentFlags().StringSlice("tlog-addrs", nil, "comma-separated tlog server addresses")
	cmd.PersistentFlags().StringSlice("coordinator-addrs", nil, "comma-separated coordinator addresses")

	cmd.PersistentFlags().Bool("start-enabled", true, "whether data distribution starts enabled")
	cmd.PersistentFlags().Int64("wiggler-min-age-seconds", 0, "minimum storage server age before it is wiggle-eligible; 0 uses the default")
	cmd.PersistentFlags().String("blob-migrator-id", "", "requester ID authorized to prepare a blob restore")
	cmd.PersistentFlags().Int("snapshot-team-size", 3, "replication team size used for snapshot fault-tolerance budgeting")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// Load reads bound flags and DD_-prefixed environment variables into a
// Config, after BindFlags and viper.BindPFlags have run.
func Load() Config {
	return Config{
		NodeID:       viper.GetString("node-id"),
		RaftAddr:     viper.GetString("raft-addr"),
		RaftDataDir:  viper.GetString("raft-data-dir"),
		Bootstrap:    viper.GetBool("bootstrap"),
		MetadataPath: viper.GetString("metadata-path"),

		AdminAddr:  viper.GetString("admin-addr"),
		HealthAddr: viper.GetString("health-addr"),

		StorageAddrs:     viper.GetStringSlice("storage-addrs"),
		TLogAddrs:        viper.GetStringSlice("tlog-addrs"),
		CoordinatorAddrs: viper.GetStringSlice("coordinator-addrs"),

		StartEnabled:      viper.GetBool("start-enabled"),
		WigglerMinAgeSecs: viper.GetInt64("wiggler-min-age-seconds"),
		BlobMigratorID:    viper.GetString("blob-migrator-id"),
		SnapshotTeamSize:  viper.GetInt("snapshot-team-size"),
		LogLevel:          viper.GetString("log-level"),
	}
}

// InitViper loads .env files and wires the DD_ environment prefix, meant to
// be passed to cobra.OnInitialize the way dKV's serve command wires
// initConfig.
func InitViper() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
