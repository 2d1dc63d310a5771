package serverrun

import (
	"github.com/spf13/cobra"

	cfgpkg "github.com/drewthekiiid/pipai-sub002/internal/config"
)

// NewCommand returns the "server" command group with its "start" command.
func NewCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay (HTTP streams and gRPC health)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return Run(cmd.Context(), Options{Config: cfg})
		},
	}
	f := startCmd.Flags()
	f.String("config", "", "Path to a YAML or JSON config file")
	f.String("http", "", "HTTP listen address")
	f.String("grpc", "", "gRPC listen address")
	f.String("data-dir", "", "Data directory for the embedded event log")
	f.String("event-log", "", "Event log backend: pebble|redis")
	f.String("fsync", "", "Pebble fsync mode: always|interval|never")
	f.String("redis", "", "Redis address when --event-log=redis")
	f.String("engine", "", "Workflow engine: temporal|none")
	f.String("temporal", "", "Temporal frontend host:port")
	f.String("s3-bucket", "", "Upload bucket; uploads are disabled when empty")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

// LoadConfig layers defaults, the --config file, RELAY_* variables and
// explicitly set flags, in that order.
func LoadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	for flag, dst := range map[string]*string{
		"http":       &cfg.HTTPAddr,
		"grpc":       &cfg.GRPCAddr,
		"data-dir":   &cfg.DataDir,
		"event-log":  &cfg.EventLog.Backend,
		"fsync":      &cfg.EventLog.Fsync,
		"redis":      &cfg.EventLog.Redis.Addr,
		"engine":     &cfg.Engine.Backend,
		"temporal":   &cfg.Engine.HostPort,
		"s3-bucket":  &cfg.Upload.Bucket,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
	} {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}
	return cfg, cfg.Validate()
}
