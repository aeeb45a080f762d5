package main

import (
	"github.com/nixpig/jobsearch/internal/taskmanager"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func rootCmd() *cobra.Command {
	v := viper.New()

	var configPath string

	c := &cobra.Command{
		Use:   "jobserver",
		Short: "gRPC server for running job searches on a remote host",
		Example: "  jobserver --worker ./job-agent --http-addr :8080\n" +
			"  JOBSEARCH_WORKER_PROGRAM=./job-agent jobserver --config jobserver.yaml",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	flags := c.Flags()

	flags.StringVar(&configPath, "config", "", "Path to YAML config file")

	flags.String("host", "localhost", "gRPC server host to bind")
	flags.Uint16("port", 8443, "gRPC server port")

	flags.String("cert-path", "certs/server.crt", "Path to server TLS certificate")
	flags.String("key-path", "certs/server.key", "Path to server TLS private key")
	flags.String("ca-cert-path", "certs/ca.crt", "Path to CA certificate for mTLS")

	flags.String("http-addr", "", "Address for the HTTP API (disabled if empty)")

	flags.String("worker", "", "Path to the job search worker program")
	flags.StringArray("worker-arg", nil, "Argument passed to the worker before its input (repeatable)")
	flags.String("work-dir", "", "Parent directory of per-task working directories")
	flags.Duration("worker-timeout", taskmanager.DefaultTimeout, "Maximum run time of a worker")
	flags.String("cgroup-root", "", "cgroup v2 root for per-task resource limits (disabled if empty)")

	flags.String("redis-addr", "", "Redis address for live task events (disabled if empty)")

	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log format: json or text")

	// Every flag in flagKeys is defined above.
	cobra.CheckErr(bindFlags(v, flags))

	return c
}
