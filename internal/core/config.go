package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the
// conduit server and its bridge.
type Config struct {
	// Hostname or IP address on which the server will listen for peers. Blank listens on all interfaces.
	Hostname string `mapstructure:"hostname"`
	// TCP port on which the server will listen for peers.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent peer connections. 0 means no limit.
	MaxConnections int `mapstructure:"max_connections"`
	// How long Stop waits for the accept and read loops to exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// How long a single write to a peer may block before the peer is dropped.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// How long statistics for disconnected peers are remembered.
	PeerHistoryTTL time.Duration `mapstructure:"peer_history_ttl"`

	Dispatch struct {
		// Per-connection queue between the socket reader and the sinks. 0 dispatches
		// on the read loop itself.
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"dispatch"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Include the file and line number with each log.
		IncludeCaller bool `mapstructure:"include_caller"`
		// Log every message received from a peer.
		LogMessages bool `mapstructure:"log_messages"`
	} `mapstructure:"logging"`

	Bridge struct {
		// Deliver inbound messages to an in-process loopback device instead of hardware.
		Loopback bool `mapstructure:"loopback"`
		// Broadcast everything the loopback device receives back out to every peer.
		Echo bool `mapstructure:"echo"`
	} `mapstructure:"bridge"`

	Debugging struct {
		// Enable the pprof HTTP server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which the pprof server will listen.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump every frame sent or received at debug level.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MIDICONDUIT"

// DefaultPort is the port peers connect to when none is configured.
const DefaultPort = 6666

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("max_connections", 0)
	v.SetDefault("shutdown_timeout", time.Second)
	v.SetDefault("write_timeout", time.Second)
	v.SetDefault("peer_history_ttl", 10*time.Minute)
	v.SetDefault("dispatch.queue_size", 0)
	v.SetDefault("logging.log_file_path", "")
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("logging.include_caller", false)
	v.SetDefault("logging.log_messages", true)
	v.SetDefault("bridge.loopback", false)
	v.SetDefault("bridge.echo", false)
	v.SetDefault("debugging.pprof_enabled", false)
	v.SetDefault("debugging.pprof_port", 6060)
	v.SetDefault("debugging.frame_logging_enabled", false)
}

// LoadConfig reads config.yaml from configPath, falling back to defaults if
// there is no config file. Every option can be overridden through the
// environment, e.g. logging.log_level is set by MIDICONDUIT_LOGGING_LOG_LEVEL.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, dispatch.queue_size can be set using: <envVarPrefix>_DISPATCH_QUEUE_SIZE
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	return config, nil
}

// ListenAddress returns the host:port pair the server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// PprofAddress returns the address of the pprof server. It is always bound to localhost.
func (c *Config) PprofAddress() string {
	return fmt.Sprintf("localhost:%d", c.Debugging.PprofPort)
}
