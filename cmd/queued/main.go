package main

import (
	"context"
	"fmt"
	"os"
	"time"

	clientcmd "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/cmd/client"
	serverrun "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/cmd/server"
	cfgpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := clientcmd.NewRoot(apiURL)
	rootCmd.Short = "Message queue broker and client"
	rootCmd.Long = "queued is a single-binary message queue broker. The same binary hosts the client commands."

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the broker (HTTP API, scheduler, scaling, alerting)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgpkg.Default()
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				loaded, err := cfgpkg.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)

			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Fsync = v
			}
			if v, _ := cmd.Flags().GetInt("fsync-interval-ms"); v > 0 {
				cfg.FsyncInterval = cfgpkg.Duration(time.Duration(v) * time.Millisecond)
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}
			if v, _ := cmd.Flags().GetString("redis"); v != "" {
				cfg.Redis.Addr = v
			}

			if err := serverrun.Run(context.Background(), cfg); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file path (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default 127.0.0.1:7870)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never (default interval)")
	serverStartCmd.Flags().Int("fsync-interval-ms", 0, "When fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json (default text)")
	serverStartCmd.Flags().String("redis", "", "Redis address for distributed throttle counters (default in-memory)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("MQ_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:7870"
}
