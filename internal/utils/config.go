package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/pkg/file"
)

// Log store backends.
const (
	LogStoreMemory   = "memory"
	LogStoreDynamoDB = "dynamodb"
	LogStoreNATS     = "nats"
)

// Config represents the structure of the configuration file.
type Config struct {
	Broker struct {
		Region         string        `yaml:"region"`           // AWS region of the broker and identity pool
		IdentityPoolID string        `yaml:"identity_pool_id"` // Cognito identity pool for unauthenticated identities
		Endpoint       string        `yaml:"endpoint"`         // Broker host, e.g. xxxx-ats.iot.us-east-1.amazonaws.com
		ClientID       string        `yaml:"client_id"`        // Prefix; a random suffix is appended at start
		KeepAlive      time.Duration `yaml:"keep_alive"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"broker"`

	Reconnect struct {
		BaseDelay                 time.Duration `yaml:"base_delay"`
		MaxDelay                  time.Duration `yaml:"max_delay"`
		CredentialRefreshCooldown time.Duration `yaml:"credential_refresh_cooldown"`
		CredentialExpirySkew      time.Duration `yaml:"credential_expiry_skew"` // Refetch credentials expiring within this window
	} `yaml:"reconnect"`

	Subscriptions struct {
		BatchSize     int      `yaml:"batch_size"`
		QOS           int      `yaml:"qos"`
		DefaultTopics []string `yaml:"default_topics"` // Subscribed on every connect
	} `yaml:"subscriptions"`

	Network struct {
		Enabled       bool          `yaml:"enabled"`        // Probe broker reachability
		ProbeInterval time.Duration `yaml:"probe_interval"` // Interval between TCP probes
	} `yaml:"network"`

	State struct {
		SnapshotFile string `yaml:"snapshot_file"` // Schedule snapshot; empty disables persistence
		IdentityFile string `yaml:"identity_file"` // Cached Cognito identity id
		DevicesFile  string `yaml:"devices_file"`  // Provisioned devices, JSON array; empty starts with none
	} `yaml:"state"`

	LogStore struct {
		Backend  string        `yaml:"backend"`  // memory, dynamodb or nats
		Capacity int           `yaml:"capacity"` // Ring size for the memory backend
		Table    string        `yaml:"table"`    // DynamoDB table
		TTL      time.Duration `yaml:"ttl"`      // DynamoDB item expiry; zero keeps items
		NATSURL  string        `yaml:"nats_url"`
		Subject  string        `yaml:"subject"` // NATS subject prefix; the device id is appended
	} `yaml:"log_store"`

	API struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		Intake  bool   `yaml:"intake"` // Accept PUT of REST responses for devices and schedules
	} `yaml:"api"`

	Status struct {
		Enabled  bool          `yaml:"enabled"`
		Topic    string        `yaml:"topic"`
		Interval time.Duration `yaml:"interval"`
		QOS      int           `yaml:"qos"`
	} `yaml:"status"`

	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Format string `yaml:"format"` // json or console
	} `yaml:"log"`

	// StaticCredentials bypass the identity pool when set.
	StaticCredentials struct {
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		SessionToken    string `yaml:"session_token"`
	} `yaml:"static_credentials"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and then environment overrides.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = "syncd"
	}
	if c.Broker.KeepAlive <= 0 {
		c.Broker.KeepAlive = constants.DefaultKeepAlive
	}
	if c.Broker.ConnectTimeout <= 0 {
		c.Broker.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = constants.DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = constants.DefaultReconnectMaxDelay
	}
	if c.Reconnect.CredentialRefreshCooldown <= 0 {
		c.Reconnect.CredentialRefreshCooldown = constants.DefaultCredentialRefreshCooldown
	}
	if c.Reconnect.CredentialExpirySkew <= 0 {
		c.Reconnect.CredentialExpirySkew = constants.DefaultCredentialExpirySkew
	}
	if c.Subscriptions.BatchSize <= 0 {
		c.Subscriptions.BatchSize = constants.DefaultSubscribeBatchSize
	}
	if c.Network.ProbeInterval <= 0 {
		c.Network.ProbeInterval = constants.DefaultNetworkProbeInterval
	}
	if c.State.IdentityFile == "" {
		c.State.IdentityFile = "identity.json"
	}
	if c.LogStore.Backend == "" {
		c.LogStore.Backend = LogStoreMemory
	}
	if c.LogStore.Capacity <= 0 {
		c.LogStore.Capacity = 1000
	}
	if c.LogStore.Subject == "" {
		c.LogStore.Subject = "sync.device_logs"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Status.Interval <= 0 {
		c.Status.Interval = constants.DefaultStatusInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// ApplyEnv overrides values from SYNC_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SYNC_REGION"); ok {
		c.Broker.Region = v
	}
	if v, ok := lookup("SYNC_IDENTITY_POOL_ID"); ok {
		c.Broker.IdentityPoolID = v
	}
	if v, ok := lookup("SYNC_ENDPOINT"); ok {
		c.Broker.Endpoint = v
	}
	if v, ok := lookup("SYNC_DEFAULT_TOPICS"); ok {
		c.Subscriptions.DefaultTopics = SplitList(v)
	}

	durations := []struct {
		key    string
		unit   time.Duration
		target *time.Duration
	}{
		{"SYNC_RECONNECT_BASE_MS", time.Millisecond, &c.Reconnect.BaseDelay},
		{"SYNC_RECONNECT_MAX_MS", time.Millisecond, &c.Reconnect.MaxDelay},
		{"SYNC_KEEPALIVE_SECONDS", time.Second, &c.Broker.KeepAlive},
		{"SYNC_CREDENTIAL_REFRESH_COOLDOWN_MS", time.Millisecond, &c.Reconnect.CredentialRefreshCooldown},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive integer", d.key, v)
		}
		*d.target = time.Duration(n) * d.unit
	}

	if v, ok := lookup("SYNC_SUBSCRIBE_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid SYNC_SUBSCRIBE_BATCH_SIZE %q: must be a positive integer", v)
		}
		c.Subscriptions.BatchSize = n
	}
	return nil
}

// Validate reports every missing or inconsistent field.
func (c *Config) Validate() error {
	var errs []error
	if c.Broker.Region == "" {
		errs = append(errs, errors.New("broker.region is required"))
	}
	if c.Broker.Endpoint == "" {
		errs = append(errs, errors.New("broker.endpoint is required"))
	}
	if c.Broker.IdentityPoolID == "" && !c.HasStaticCredentials() {
		errs = append(errs, errors.New("broker.identity_pool_id or static_credentials is required"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect.max_delay must not be below reconnect.base_delay"))
	}
	if c.Subscriptions.QOS < 0 || c.Subscriptions.QOS > 1 {
		errs = append(errs, errors.New("subscriptions.qos must be 0 or 1"))
	}

	backends := SliceToSet([]string{LogStoreMemory, LogStoreDynamoDB, LogStoreNATS})
	if _, ok := backends[c.LogStore.Backend]; !ok {
		errs = append(errs, fmt.Errorf("log_store.backend %q is not one of memory, dynamodb, nats", c.LogStore.Backend))
	}
	if c.LogStore.Backend == LogStoreDynamoDB && c.LogStore.Table == "" {
		errs = append(errs, errors.New("log_store.table is required for the dynamodb backend"))
	}
	if c.LogStore.Backend == LogStoreNATS && c.LogStore.NATSURL == "" {
		errs = append(errs, errors.New("log_store.nats_url is required for the nats backend"))
	}
	if c.Status.Enabled && c.Status.Topic == "" {
		errs = append(errs, errors.New("status.topic is required when status is enabled"))
	}
	return errors.Join(errs...)
}

// HasStaticCredentials reports whether a fixed key pair is configured.
func (c *Config) HasStaticCredentials() bool {
	return c.StaticCredentials.AccessKeyID != "" && c.StaticCredentials.SecretAccessKey != ""
}
