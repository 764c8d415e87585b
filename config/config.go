// Package config holds the YAML configuration of the log streamer binary.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"logstreamer/codec"
	"logstreamer/loadbalance"
)

// Config is the complete configuration of both the server and the sender side.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Etcd   EtcdConfig   `yaml:"etcd"`

	// Tokens accepted by the server and the token sent by the client.
	Tokens []string `yaml:"tokens"`
	Token  string   `yaml:"token"`

	LogLevel string `yaml:"logLevel"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise"` // Registered address, Listen if empty

	RegistryTTL int64  `yaml:"registryTTL"` // Seconds
	Weight      int    `yaml:"weight"`
	Version     string `yaml:"version"`

	RateLimit float64       `yaml:"rateLimit"` // Requests per second, 0 disables the limiter
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"` // Per-request handler budget, 0 for none

	ReceiverBuffer  int           `yaml:"receiverBuffer"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	StatusInterval  time.Duration `yaml:"statusInterval"` // Period of the status log line, 0 disables it
}

// ClientConfig configures the send command.
type ClientConfig struct {
	Address     string        `yaml:"address"` // Static server address, registry is used if empty
	Codec       string        `yaml:"codec"`
	Compression string        `yaml:"compression"`
	PoolSize    int           `yaml:"poolSize"`
	Balancer    string        `yaml:"balancer"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	Timeout     time.Duration `yaml:"timeout"` // Call deadline, 0 for none
	Retries     int           `yaml:"retries"`
}

// EtcdConfig locates the etcd cluster used for discovery.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:9090",
			RegistryTTL:     10,
			Weight:          1,
			Burst:           100,
			ReceiverBuffer:  1024,
			ShutdownTimeout: 5 * time.Second,
			StatusInterval:  20 * time.Second,
		},
		Client: ClientConfig{
			Address:     "127.0.0.1:9090",
			Codec:       "json",
			PoolSize:    1,
			Balancer:    loadbalance.RoundRobin,
			DialTimeout: 5 * time.Second,
			Timeout:     10 * time.Second,
			Retries:     2,
		},
		Etcd: EtcdConfig{
			DialTimeout: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of Default and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrapf(err, "parsing %s", path)
	}
	if err := config.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validating %s", path)
	}
	return config, nil
}

// Validate checks the values that cannot be caught by the YAML decoder.
func (c Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is empty")
	}
	if c.Server.RegistryTTL <= 0 {
		return errors.Errorf("server.registryTTL must be positive, got %d", c.Server.RegistryTTL)
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.Burst <= 0) {
		return errors.Errorf("invalid rate limit %v with burst %d", c.Server.RateLimit, c.Server.Burst)
	}
	if c.Server.ReceiverBuffer < 0 {
		return errors.Errorf("server.receiverBuffer must not be negative, got %d", c.Server.ReceiverBuffer)
	}
	if c.Server.StatusInterval < 0 {
		return errors.Errorf("server.statusInterval must not be negative, got %s", c.Server.StatusInterval)
	}
	if _, err := codec.ParseCodecType(c.Client.Codec); err != nil {
		return err
	}
	if !codec.ValidCompression(c.Client.Compression) {
		return errors.Errorf("unknown compression %q", c.Client.Compression)
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		return err
	}
	if c.Client.Address == "" && len(c.Etcd.Endpoints) == 0 {
		return errors.New("either client.address or etcd.endpoints must be set")
	}
	if c.Client.Retries < 0 {
		return errors.Errorf("client.retries must not be negative, got %d", c.Client.Retries)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	return level, errors.WithStack(err)
}

// AdvertiseAddr returns the address registered in etcd.
func (c ServerConfig) AdvertiseAddr() string {
	if c.Advertise != "" {
		return c.Advertise
	}
	return c.Listen
}
