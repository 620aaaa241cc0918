// Package config assembles process configuration from built-in defaults, an
// optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed backends selectable with FEED_BACKEND.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendJetStream = "jetstream"
	BackendFirebase  = "firebase"
	BackendGateway   = "gateway"
)

// Config is the merged configuration shared by both binaries.
type Config struct {
	Backend       string
	DisplayName   string // signs in with the local identity provider when set
	DeveloperMode bool   // disables the remote config cache
	MetricsAddr   string // serves /metrics when set

	Redis    RedisConfig
	NATS     NATSConfig
	Gateway  GatewayConfig
	Firebase FirebaseConfig
	Photos   PhotoConfig
	Orphans  OrphanConfig

	RemoteConfigFile string // YAML source for remote config instead of Redis
}

// RedisConfig locates the Redis feed stream and remote config hash.
type RedisConfig struct {
	Addr      string
	Stream    string
	ConfigKey string
}

// NATSConfig locates the JetStream feed.
type NATSConfig struct {
	URL      string
	FeedName string
}

// GatewayConfig is used by the client (URL) and the gateway binary (the rest).
type GatewayConfig struct {
	URL          string
	ListenAddr   string
	ServerName   string
	RequireToken bool // verify Firebase ID tokens instead of trusting names
	Store        string
}

// FirebaseConfig selects the Firebase project and credentials.
type FirebaseConfig struct {
	ProjectID       string
	DatabaseURL     string
	StorageBucket   string
	MessagesPath    string
	CredentialsFile string
	CredentialsJSON string
}

// PhotoConfig configures the local object store used when Firebase Storage
// is not configured.
type PhotoConfig struct {
	Dir          string
	BaseURL      string
	MaxDimension uint
}

// OrphanConfig selects the orphaned-object ledger. Driver is "sqlite",
// "postgres" or empty for none.
type OrphanConfig struct {
	Driver        string
	DSN           string
	SweepInterval time.Duration
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Stream:    "friendlychat:messages",
			ConfigKey: "friendlychat:config",
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			FeedName: "messages",
		},
		Gateway: GatewayConfig{
			URL:        "ws://localhost:8080/ws",
			ListenAddr: ":8080",
			Store:      BackendRedis,
		},
		Firebase: FirebaseConfig{
			MessagesPath: "messages",
		},
		Photos: PhotoConfig{
			Dir:          "photos",
			MaxDimension: 1600,
		},
		Orphans: OrphanConfig{
			SweepInterval: 5 * time.Minute,
		},
	}
}

// fileConfig mirrors Config for YAML decoding. Pointers distinguish "unset"
// from zero values.
type fileConfig struct {
	Backend       string `yaml:"backend"`
	DisplayName   string `yaml:"displayName"`
	DeveloperMode *bool  `yaml:"developerMode"`
	MetricsAddr   string `yaml:"metricsAddr"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Stream    string `yaml:"stream"`
		ConfigKey string `yaml:"configKey"`
	} `yaml:"redis"`

	NATS struct {
		URL      string `yaml:"url"`
		FeedName string `yaml:"feedName"`
	} `yaml:"nats"`

	Gateway struct {
		URL          string `yaml:"url"`
		ListenAddr   string `yaml:"listenAddr"`
		ServerName   string `yaml:"serverName"`
		RequireToken *bool  `yaml:"requireToken"`
		Store        string `yaml:"store"`
	} `yaml:"gateway"`

	Firebase struct {
		ProjectID       string `yaml:"projectId"`
		DatabaseURL     string `yaml:"databaseUrl"`
		StorageBucket   string `yaml:"storageBucket"`
		MessagesPath    string `yaml:"messagesPath"`
		CredentialsFile string `yaml:"credentialsFile"`
	} `yaml:"firebase"`

	Photos struct {
		Dir          string `yaml:"dir"`
		BaseURL      string `yaml:"baseUrl"`
		MaxDimension uint   `yaml:"maxDimension"`
	} `yaml:"photos"`

	Orphans struct {
		Driver        string        `yaml:"driver"`
		DSN           string        `yaml:"dsn"`
		SweepInterval time.Duration `yaml:"sweepInterval"`
	} `yaml:"orphans"`

	RemoteConfigFile string `yaml:"remoteConfigFile"`
}

// Load reads the YAML file at path, or the first default location that
// exists when path is empty, and applies environment overrides. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{"friendlychat.yaml", "configs/friendlychat.yaml"}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path != "" || !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("config: read %s: %w", p, err)
			}
			continue
		}

		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", p, err)
		}
		merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

// merge copies every field set in src over dst.
func merge(dst *Config, src fileConfig) {
	setString(&dst.Backend, src.Backend)
	setString(&dst.DisplayName, src.DisplayName)
	if src.DeveloperMode != nil {
		dst.DeveloperMode = *src.DeveloperMode
	}
	setString(&dst.MetricsAddr, src.MetricsAddr)

	setString(&dst.Redis.Addr, src.Redis.Addr)
	setString(&dst.Redis.Stream, src.Redis.Stream)
	setString(&dst.Redis.ConfigKey, src.Redis.ConfigKey)

	setString(&dst.NATS.URL, src.NATS.URL)
	setString(&dst.NATS.FeedName, src.NATS.FeedName)

	setString(&dst.Gateway.URL, src.Gateway.URL)
	setString(&dst.Gateway.ListenAddr, src.Gateway.ListenAddr)
	setString(&dst.Gateway.ServerName, src.Gateway.ServerName)
	if src.Gateway.RequireToken != nil {
		dst.Gateway.RequireToken = *src.Gateway.RequireToken
	}
	setString(&dst.Gateway.Store, src.Gateway.Store)

	setString(&dst.Firebase.ProjectID, src.Firebase.ProjectID)
	setString(&dst.Firebase.DatabaseURL, src.Firebase.DatabaseURL)
	setString(&dst.Firebase.StorageBucket, src.Firebase.StorageBucket)
	setString(&dst.Firebase.MessagesPath, src.Firebase.MessagesPath)
	setString(&dst.Firebase.CredentialsFile, src.Firebase.CredentialsFile)

	setString(&dst.Photos.Dir, src.Photos.Dir)
	setString(&dst.Photos.BaseURL, src.Photos.BaseURL)
	if src.Photos.MaxDimension != 0 {
		dst.Photos.MaxDimension = src.Photos.MaxDimension
	}

	setString(&dst.Orphans.Driver, src.Orphans.Driver)
	setString(&dst.Orphans.DSN, src.Orphans.DSN)
	if src.Orphans.SweepInterval != 0 {
		dst.Orphans.SweepInterval = src.Orphans.SweepInterval
	}

	setString(&dst.RemoteConfigFile, src.RemoteConfigFile)
}

// ApplyEnvOverrides applies environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	envString(&cfg.Backend, "FEED_BACKEND")
	envString(&cfg.DisplayName, "DISPLAY_NAME")
	envBool(&cfg.DeveloperMode, "DEVELOPER_MODE")
	envString(&cfg.MetricsAddr, "METRICS_ADDR")

	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Stream, "REDIS_STREAM")
	envString(&cfg.Redis.ConfigKey, "REMOTE_CONFIG_KEY")

	envString(&cfg.NATS.URL, "NATS_URL")
	envString(&cfg.NATS.FeedName, "FEED_NAME")

	envString(&cfg.Gateway.URL, "GATEWAY_URL")
	envString(&cfg.Gateway.ListenAddr, "LISTEN_ADDR")
	envString(&cfg.Gateway.ServerName, "SERVER_NAME")
	envBool(&cfg.Gateway.RequireToken, "REQUIRE_TOKEN")
	envString(&cfg.Gateway.Store, "GATEWAY_STORE")

	envString(&cfg.Firebase.ProjectID, "FIREBASE_PROJECT_ID")
	envString(&cfg.Firebase.DatabaseURL, "FIREBASE_DATABASE_URL")
	envString(&cfg.Firebase.StorageBucket, "FIREBASE_STORAGE_BUCKET")
	envString(&cfg.Firebase.MessagesPath, "FIREBASE_MESSAGES_PATH")
	envString(&cfg.Firebase.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	envString(&cfg.Firebase.CredentialsJSON, "FIREBASE_SERVICE_ACCOUNT_JSON")

	envString(&cfg.Photos.Dir, "PHOTO_DIR")
	envString(&cfg.Photos.BaseURL, "PHOTO_BASE_URL")
	if v := strings.TrimSpace(os.Getenv("PHOTO_MAX_DIMENSION")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Photos.MaxDimension = uint(n)
		}
	}

	envString(&cfg.Orphans.Driver, "ORPHAN_DRIVER")
	envString(&cfg.Orphans.DSN, "ORPHAN_DSN")
	if v := strings.TrimSpace(os.Getenv("ORPHAN_SWEEP_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orphans.SweepInterval = d
		}
	}

	envString(&cfg.RemoteConfigFile, "REMOTE_CONFIG_FILE")
}

// Validate rejects combinations that cannot be wired.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendJetStream, BackendFirebase, BackendGateway:
	default:
		return fmt.Errorf("config: unknown feed backend %q", c.Backend)
	}
	switch c.Orphans.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown orphan ledger driver %q", c.Orphans.Driver)
	}
	if c.Orphans.Driver != "" && c.Orphans.DSN == "" {
		return fmt.Errorf("config: orphan ledger %s needs a dsn", c.Orphans.Driver)
	}
	if c.Backend == BackendFirebase && c.Firebase.DatabaseURL == "" {
		return errors.New("config: firebase backend needs a database url")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}
