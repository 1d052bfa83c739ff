package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/api"
	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/metrics"
	"github.com/benmeehan/iot-sync/internal/metrics_collectors"
	mqtt_middleware "github.com/benmeehan/iot-sync/internal/middlewares/mqtt"
	"github.com/benmeehan/iot-sync/internal/registry"
	"github.com/benmeehan/iot-sync/internal/router"
	"github.com/benmeehan/iot-sync/internal/service_registry"
	"github.com/benmeehan/iot-sync/internal/services"
	"github.com/benmeehan/iot-sync/internal/state_managers"
	"github.com/benmeehan/iot-sync/internal/utils"
	"github.com/benmeehan/iot-sync/pkg/file"
	"github.com/benmeehan/iot-sync/pkg/identity"
	"github.com/benmeehan/iot-sync/pkg/logstore"
	"github.com/benmeehan/iot-sync/pkg/mqtt"
	"github.com/benmeehan/iot-sync/pkg/netwatch"
	"github.com/benmeehan/iot-sync/pkg/sigv4"
)

// Daemon is the fully wired sync client.
type Daemon struct {
	ClientID   string
	Registry   *service_registry.ServiceRegistry
	Connection *services.ConnectionService
	Router     *router.Router
	Metrics    *metrics.Metrics
	Schedules  *state_managers.ScheduleStateManager
	Devices    *state_managers.DeviceStateManager
	Blocks     *state_managers.BlockModeStateManager
	LogStore   logstore.Store
	API        *api.RESTServer // nil when the API is disabled
}

// DaemonOption overrides a dependency, mostly for tests.
type DaemonOption func(*daemonDeps)

type daemonDeps struct {
	provider  identity.Provider
	newClient mqtt.ClientFactory
}

// WithCredentialsProvider replaces the configured credentials source.
func WithCredentialsProvider(p identity.Provider) DaemonOption {
	return func(d *daemonDeps) { d.provider = p }
}

// WithClientFactory replaces the paho client factory.
func WithClientFactory(f mqtt.ClientFactory) DaemonOption {
	return func(d *daemonDeps) { d.newClient = f }
}

// NewDaemon builds every component and registers the services in start order.
// Nothing is started.
func NewDaemon(ctx context.Context, config *utils.Config, logger zerolog.Logger, opts ...DaemonOption) (*Daemon, error) {
	deps := &daemonDeps{}
	for _, opt := range opts {
		opt(deps)
	}

	fileClient := file.NewFileService()
	clientID := config.Broker.ClientID + "-" + uuid.New().String()
	logger.Info().Str("client_id", clientID).Msg("Using MQTT client id")

	if deps.provider == nil {
		p, err := NewCredentialsProvider(ctx, config, fileClient, logger)
		if err != nil {
			return nil, err
		}
		deps.provider = p
	}

	devices := state_managers.NewDeviceStateManager(logger)
	if config.State.DevicesFile != "" {
		if err := seedDevices(devices, config.State.DevicesFile, fileClient, logger); err != nil {
			return nil, err
		}
	}

	store, err := NewLogStore(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	var snapshot state_managers.ScheduleSnapshotStore
	if config.State.SnapshotFile != "" {
		snapshot = state_managers.NewFileSnapshotStore(config.State.SnapshotFile, fileClient, logger)
	}
	schedules := state_managers.NewScheduleStateManager(snapshot, logger)
	if err := schedules.Restore(); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore schedule snapshot, starting empty")
	}
	blocks := state_managers.NewBlockModeStateManager(logger)

	rt := router.NewRouter(devices, schedules, blocks, store, m, logger)

	var (
		network services.NetworkMonitor
		watcher *netwatch.Watcher
	)
	if config.Network.Enabled {
		watcher = netwatch.NewWatcher(net.JoinHostPort(config.Broker.Endpoint, "443"), config.Network.ProbeInterval, logger)
		network = watcher
	}

	conn := services.NewConnectionService(
		services.ConnectionConfig{
			ClientID:        clientID,
			KeepAlive:       config.Broker.KeepAlive,
			ConnectTimeout:  config.Broker.ConnectTimeout,
			BaseDelay:       config.Reconnect.BaseDelay,
			MaxDelay:        config.Reconnect.MaxDelay,
			RefreshCooldown: config.Reconnect.CredentialRefreshCooldown,
			ExpirySkew:      config.Reconnect.CredentialExpirySkew,
			BatchSize:       config.Subscriptions.BatchSize,
			QOS:             byte(config.Subscriptions.QOS),
			DefaultTopics:   config.Subscriptions.DefaultTopics,
		},
		deps.provider,
		sigv4.NewPresigner(config.Broker.Endpoint, config.Broker.Region),
		deps.newClient,
		network,
		connectionHooks(rt, m, logger),
		logger,
	)

	sr := service_registry.NewServiceRegistry(logger)
	// Registered first so it is closed last.
	sr.RegisterService("log_store", registry.Hooks{OnStop: store.Close})
	if watcher != nil {
		sr.RegisterService("netwatch", watcher)
	}
	sr.RegisterService("connection", conn)

	if config.Status.Enabled {
		status := services.NewStatusService(
			config.Status.Topic,
			clientID,
			byte(config.Status.QOS),
			config.Status.Interval,
			constants.DefaultStatusCollectTimeout,
			conn,
			services.StatusCounts{PendingSchedules: schedules.Pending, Devices: devices.Len},
			logger,
		)
		status.Registry().Register(&metrics_collectors.StateMetricCollector{
			Key:   "blocks",
			Count: func() int { return len(blocks.Modes()) },
		})
		sr.RegisterService("status", status)
	}

	var apiServer *api.RESTServer
	if config.API.Enabled {
		sources := api.Sources{
			Connection: conn,
			Schedules:  schedules,
			Devices:    devices,
			Blocks:     blocks,
			Metrics:    m.Handler(),
		}
		if mem, ok := store.(*logstore.MemoryStore); ok {
			sources.Logs = mem
		}
		if config.API.Intake {
			sources.DeviceIntake = devices
			sources.ScheduleIntake = schedules
		}
		apiServer = api.NewRESTServer(config.API.Addr, sources, logger)
		sr.RegisterService("api", apiServer)
	}

	return &Daemon{
		ClientID:   clientID,
		Registry:   sr,
		Connection: conn,
		Router:     rt,
		Metrics:    m,
		Schedules:  schedules,
		Devices:    devices,
		Blocks:     blocks,
		LogStore:   store,
		API:        apiServer,
	}, nil
}

// seedDevices loads the provisioned device file. A missing file starts with
// no devices.
func seedDevices(devices *state_managers.DeviceStateManager, path string, fileClient file.FileOperations, logger zerolog.Logger) error {
	list, err := state_managers.ReadDeviceFile(path, fileClient)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("file", path).Msg("Device file not found, starting with no devices")
		return nil
	}
	if err != nil {
		return err
	}
	n := devices.Load(list)
	logger.Info().Int("devices", n).Str("file", path).Msg("Loaded provisioned devices")
	return nil
}

func connectionHooks(rt *router.Router, m *metrics.Metrics, logger zerolog.Logger) services.ConnectionHooks {
	return services.ConnectionHooks{
		OnPhaseChange: m.PhaseChanged,
		OnReconnect: func(outage time.Duration) {
			logger.Info().Dur("outage", outage).Msg("Broker session restored")
			m.Reconnected(outage)
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("Broker session error")
			if errors.Is(err, services.ErrCredentialRefreshFailed) {
				m.CredentialRefreshFailed()
			}
		},
		OnMessage: mqtt_middleware.Chain(rt.HandleMessage,
			mqtt_middleware.Recover(logger),
			mqtt_middleware.Trace(logger),
			mqtt_middleware.DropEmpty(func(string) { m.MessageDropped("empty") }),
		),
	}
}

// NewCredentialsProvider returns static credentials when configured, else a
// Cognito identity pool provider.
func NewCredentialsProvider(ctx context.Context, config *utils.Config, fileClient file.FileOperations, logger zerolog.Logger) (identity.Provider, error) {
	if config.HasStaticCredentials() {
		logger.Info().Str("access_key_id", config.StaticCredentials.AccessKeyID).Msg("Using static credentials")
		return identity.NewStaticProvider(
			config.StaticCredentials.AccessKeyID,
			config.StaticCredentials.SecretAccessKey,
			config.StaticCredentials.SessionToken,
		), nil
	}

	client, err := identity.NewCognitoClient(ctx, config.Broker.Region)
	if err != nil {
		return nil, err
	}
	return identity.NewCognitoProvider(config.Broker.IdentityPoolID, config.State.IdentityFile, client, fileClient, logger), nil
}

// NewLogStore opens the configured device-update log backend.
func NewLogStore(ctx context.Context, config *utils.Config, logger zerolog.Logger) (logstore.Store, error) {
	switch config.LogStore.Backend {
	case utils.LogStoreDynamoDB:
		client, err := logstore.NewDynamoClient(ctx, config.Broker.Region)
		if err != nil {
			return nil, err
		}
		return logstore.NewDynamoStore(config.LogStore.Table, config.LogStore.TTL, client, logger), nil
	case utils.LogStoreNATS:
		conn, err := logstore.ConnectNATS(config.LogStore.NATSURL, "syncd", logger)
		if err != nil {
			return nil, err
		}
		return logstore.NewNATSStore(config.LogStore.Subject, conn, logger), nil
	default:
		return logstore.NewMemoryStore(config.LogStore.Capacity), nil
	}
}
