package main

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nixpig/jobsearch/internal/auth"
	"github.com/nixpig/jobsearch/internal/taskmanager"
	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "JOBSEARCH"

type config struct {
	Server serverConfig `mapstructure:"server"`
	HTTP   httpConfig   `mapstructure:"http"`
	Worker workerConfig `mapstructure:"worker"`
	Redis  redisConfig  `mapstructure:"redis"`
	Log    logConfig    `mapstructure:"log"`
}

type serverConfig struct {
	Host       string `mapstructure:"host" validate:"required"`
	Port       int    `mapstructure:"port" validate:"min=1,max=65535"`
	CertPath   string `mapstructure:"cert_path" validate:"required,file"`
	KeyPath    string `mapstructure:"key_path" validate:"required,file"`
	CACertPath string `mapstructure:"ca_cert_path" validate:"required,file"`
}

func (c serverConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// httpConfig enables the HTTP API when Addr is set.
type httpConfig struct {
	Addr      string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type workerConfig struct {
	Program    string        `mapstructure:"program" validate:"required"`
	Args       []string      `mapstructure:"args"`
	Env        []string      `mapstructure:"env"`
	WorkDir    string        `mapstructure:"work_dir"`
	Artifact   string        `mapstructure:"artifact" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	DrainGrace time.Duration `mapstructure:"drain_grace" validate:"gt=0"`
	Cgroup     cgroupConfig  `mapstructure:"cgroup"`
}

type cgroupConfig struct {
	Root           string `mapstructure:"root"`
	CPUMaxPercent  int64  `mapstructure:"cpu_max_percent" validate:"min=0,max=100"`
	MemoryMaxBytes int64  `mapstructure:"memory_max_bytes" validate:"min=0"`
	IOMaxBPS       int64  `mapstructure:"io_max_bps" validate:"min=0"`
}

// redisConfig enables live task events when Addr is set.
type redisConfig struct {
	Addr          string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	ChannelPrefix string `mapstructure:"channel_prefix" validate:"required"`
}

type logConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8443)
	v.SetDefault("server.cert_path", "certs/server.crt")
	v.SetDefault("server.key_path", "certs/server.key")
	v.SetDefault("server.ca_cert_path", "certs/ca.crt")

	v.SetDefault("http.addr", "")
	v.SetDefault("http.jwt_secret", "")

	v.SetDefault("worker.program", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.work_dir", "")
	v.SetDefault("worker.artifact", taskmanager.DefaultArtifact)
	v.SetDefault("worker.timeout", taskmanager.DefaultTimeout)
	v.SetDefault("worker.drain_grace", taskmanager.DefaultDrainGrace)
	v.SetDefault("worker.cgroup.root", "")
	v.SetDefault("worker.cgroup.cpu_max_percent", 0)
	v.SetDefault("worker.cgroup.memory_max_bytes", 0)
	v.SetDefault("worker.cgroup.io_max_bps", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel_prefix", "jobsearch")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"host":           "server.host",
	"port":           "server.port",
	"cert-path":      "server.cert_path",
	"key-path":       "server.key_path",
	"ca-cert-path":   "server.ca_cert_path",
	"http-addr":      "http.addr",
	"worker":         "worker.program",
	"worker-arg":     "worker.args",
	"work-dir":       "worker.work_dir",
	"worker-timeout": "worker.timeout",
	"cgroup-root":    "worker.cgroup.root",
	"redis-addr":     "redis.addr",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q not defined", name)
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}

// loadConfig merges, in increasing precedence, defaults, the config file at
// path (if any), JOBSEARCH_* environment variables and flags set on the
// command line.
func loadConfig(v *viper.Viper, path string) (*config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.HTTP.Addr != "" && len(c.HTTP.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf(
			"invalid config: http.jwt_secret must be at least %d characters when http.addr is set",
			auth.MinSecretLength,
		)
	}

	if c.Worker.WorkDir != "" && !filepath.IsAbs(c.Worker.WorkDir) {
		return errors.New("invalid config: worker.work_dir must be absolute")
	}

	return nil
}

func (c workerConfig) taskConfig() taskmanager.WorkerConfig {
	cfg := taskmanager.WorkerConfig{
		Program:    c.Program,
		Args:       c.Args,
		Env:        c.Env,
		WorkDir:    c.WorkDir,
		Artifact:   c.Artifact,
		Timeout:    c.Timeout,
		DrainGrace: c.DrainGrace,
		CgroupRoot: c.Cgroup.Root,
	}

	limits := &cgroups.ResourceLimits{
		CPUMaxPercent:  c.Cgroup.CPUMaxPercent,
		MemoryMaxBytes: c.Cgroup.MemoryMaxBytes,
		IOMaxBPS:       c.Cgroup.IOMaxBPS,
	}

	if !limits.IsZero() {
		cfg.Limits = limits
	}

	return cfg
}
