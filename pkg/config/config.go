// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BusKafka = "kafka"
	BusLocal = "local"
)

type Gateway struct {
	Addr   string `yaml:"addr"`
	NodeID int64  `yaml:"node_id"`
}

type API struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"` // base of download URLs handed to clients
}

type Kafka struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	MessagingGroup string   `yaml:"messaging_group"`
}

type Redis struct {
	Addr string `yaml:"addr"`
}

type Scylla struct {
	Hosts    []string `yaml:"hosts"`
	Keyspace string   `yaml:"keyspace"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Storage struct {
	Path           string `yaml:"path"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type Logging struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

type Config struct {
	Bus     string  `yaml:"bus"`
	Gateway Gateway `yaml:"gateway"`
	API     API     `yaml:"api"`
	Kafka   Kafka   `yaml:"kafka"`
	Redis   Redis   `yaml:"redis"`
	Scylla  Scylla  `yaml:"scylla"`
	Auth    Auth    `yaml:"auth"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
}

func Default() *Config {
	return &Config{
		Bus:     BusKafka,
		Gateway: Gateway{Addr: ":8080", NodeID: 1},
		API:     API{Addr: ":8081", PublicURL: "http://localhost:8081"},
		Kafka: Kafka{
			Brokers:        []string{"localhost:19092"},
			Topic:          "devchat-mutations",
			MessagingGroup: "messaging-service-group",
		},
		Redis:   Redis{Addr: "localhost:6379"},
		Scylla:  Scylla{Hosts: []string{"localhost:9042"}, Keyspace: "chat"},
		Auth:    Auth{JWTSecret: "my_secret_key", TokenTTL: 24 * time.Hour},
		Storage: Storage{Path: "data/objects", MaxUploadBytes: 10 << 20},
		Logging: Logging{Level: "info"},
	}
}

// Load builds the configuration. The YAML file named by DEVCHAT_CONFIG is
// required when the variable is set; otherwise config.yml is read if present.
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	file := os.Getenv("DEVCHAT_CONFIG")
	required := file != ""
	if file == "" {
		file = "config.yml"
	}
	if err := cfg.loadYAML(file); err != nil {
		if required || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", filename, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Bus = getEnv("BUS", c.Bus)
	c.Gateway.Addr = getEnv("GATEWAY_ADDR", c.Gateway.Addr)
	c.API.Addr = getEnv("API_ADDR", c.API.Addr)
	c.API.PublicURL = strings.TrimRight(getEnv("PUBLIC_URL", c.API.PublicURL), "/")
	c.Kafka.Brokers = getList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Scylla.Hosts = getList("SCYLLA_HOSTS", c.Scylla.Hosts)
	c.Scylla.Keyspace = getEnv("SCYLLA_KEYSPACE", c.Scylla.Keyspace)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Storage.Path = getEnv("OBJECT_STORE_PATH", c.Storage.Path)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)

	if v := os.Getenv("GATEWAY_NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GATEWAY_NODE_ID: %w", err)
		}
		c.Gateway.NodeID = id
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = ttl
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
		}
		c.Storage.MaxUploadBytes = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Bus {
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("kafka bus needs brokers and a topic")
		}
	case BusLocal:
	default:
		return fmt.Errorf("unknown bus %q", c.Bus)
	}
	if c.Gateway.NodeID < 0 || c.Gateway.NodeID > 1023 {
		return fmt.Errorf("gateway node id %d out of range 0-1023", c.Gateway.NodeID)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
