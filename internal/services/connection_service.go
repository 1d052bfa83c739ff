package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/pkg/identity"
	"github.com/benmeehan/iot-sync/pkg/mqtt"
)

var (
	// ErrNotConnected is returned by Publish while the session is down.
	ErrNotConnected = errors.New("not connected")
	// ErrPayloadEncoding is returned when a payload cannot be JSON encoded.
	ErrPayloadEncoding = errors.New("payload encoding failed")
	// ErrEmptyTopic is returned for an empty topic filter.
	ErrEmptyTopic = errors.New("empty topic")

	errSuperseded = errors.New("connect attempt superseded")
)

// URLSigner produces a presigned broker URL for a set of credentials.
type URLSigner interface {
	PresignURL(creds aws.Credentials, t time.Time) (string, error)
}

// NetworkMonitor reports reachability of the broker.
type NetworkMonitor interface {
	Online() bool
	OnChange(fn func(online bool)) func()
}

// ConnectionHooks are optional observers of the session.
type ConnectionHooks struct {
	OnPhaseChange func(phase constants.Phase)
	OnReconnect   func(outage time.Duration)
	OnError       func(err error)
	OnMessage     func(topic string, payload []byte)
}

// ConnectionConfig holds the session tuning knobs.
type ConnectionConfig struct {
	ClientID         string
	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	SubscribeTimeout time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RefreshCooldown  time.Duration
	ExpirySkew       time.Duration
	BatchSize        int
	QOS              byte
	DefaultTopics    []string
}

func (c *ConnectionConfig) applyDefaults() {
	if c.KeepAlive <= 0 {
		c.KeepAlive = constants.DefaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = constants.DefaultSubscribeTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = constants.DefaultReconnectBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = constants.DefaultReconnectMaxDelay
	}
	if c.RefreshCooldown <= 0 {
		c.RefreshCooldown = constants.DefaultCredentialRefreshCooldown
	}
	if c.ExpirySkew <= 0 {
		c.ExpirySkew = constants.DefaultCredentialExpirySkew
	}
	if c.BatchSize <= 0 {
		c.BatchSize = constants.DefaultSubscribeBatchSize
	}
}

// ConnectionService owns the single broker session: it obtains credentials,
// signs the URL, opens the transport, re-asserts subscriptions and keeps the
// session alive through retries and credential refreshes.
type ConnectionService struct {
	Logger zerolog.Logger

	cfg         ConnectionConfig
	credentials identity.Provider
	signer      URLSigner
	newClient   mqtt.ClientFactory
	network     NetworkMonitor
	hooks       ConnectionHooks
	topics      *TopicRegistry

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) (stop func() bool)
	random    func() float64

	mu                    sync.Mutex
	ctx                   context.Context
	cancel                context.CancelFunc
	phase                 constants.Phase
	client                mqtt.MQTTClient
	generation            uint64
	failedGeneration      uint64
	attempts              int
	forcedClose           bool
	refreshingCredentials bool
	creds                 aws.Credentials
	haveCreds             bool
	lastRefreshAt         time.Time
	disconnectedSince     *time.Time
	stopRetry             func() bool
	retrySeq              uint64
	active                map[string]struct{}
	unlistenNetwork       func()
}

// NewConnectionService creates an idle connection service. network may be nil.
func NewConnectionService(cfg ConnectionConfig, credentials identity.Provider, signer URLSigner,
	newClient mqtt.ClientFactory, network NetworkMonitor, hooks ConnectionHooks, logger zerolog.Logger) *ConnectionService {

	cfg.applyDefaults()
	if newClient == nil {
		newClient = mqtt.NewPahoClient
	}
	return &ConnectionService{
		Logger:      logger,
		cfg:         cfg,
		credentials: credentials,
		signer:      signer,
		newClient:   newClient,
		network:     network,
		hooks:       hooks,
		topics:      NewTopicRegistry(cfg.DefaultTopics...),
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		random: rand.Float64,
		phase:  constants.PhaseIdle,
		active: make(map[string]struct{}),
	}
}

// Start begins connecting in the background. It is a no-op while a session
// is up or an attempt, retry or credential refresh is pending.
func (s *ConnectionService) Start() error {
	s.mu.Lock()
	if s.phase == constants.PhaseConnected || s.phase == constants.PhaseConnecting || s.stopRetry != nil ||
		(s.refreshingCredentials && !s.forcedClose) {
		s.mu.Unlock()
		s.Logger.Debug().Str("phase", string(s.phase)).Msg("ConnectionService already running")
		return nil
	}

	s.forcedClose = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.network != nil && s.unlistenNetwork == nil {
		s.unlistenNetwork = s.network.OnChange(s.handleNetworkChange)
	}
	gen := s.beginAttemptLocked()
	s.mu.Unlock()

	s.notifyPhase(constants.PhaseConnecting)
	go s.connect(gen)

	s.Logger.Info().Str("client_id", s.cfg.ClientID).Msg("ConnectionService started successfully")
	return nil
}

// Stop tears the session down immediately. Nothing reconnects afterwards
// until Start is called again.
func (s *ConnectionService) Stop() error {
	s.mu.Lock()
	s.forcedClose = true
	if s.unlistenNetwork != nil {
		s.unlistenNetwork()
		s.unlistenNetwork = nil
	}
	s.cancelRetryLocked()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	client := s.client
	s.client = nil
	s.attempts = 0
	s.disconnectedSince = nil
	s.active = make(map[string]struct{})
	changed := s.phase != constants.PhaseDisconnected
	s.phase = constants.PhaseDisconnected
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(0)
	}
	if changed {
		s.notifyPhase(constants.PhaseDisconnected)
	}
	s.Logger.Info().Msg("ConnectionService stopped successfully")
	return nil
}

// Publish sends payload to topic. Strings and byte slices are sent as-is and
// anything else is JSON encoded. Delivery failures are only logged.
func (s *ConnectionService) Publish(topic string, payload any, opts models.PublishOptions) error {
	s.mu.Lock()
	if s.phase != constants.PhaseConnected || s.client == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	client := s.client
	s.mu.Unlock()

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := client.Publish(topic, opts.QOS, opts.Retained, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.Logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish message")
		}
	}()
	return nil
}

// Subscribe adds topic to the registry and, when connected, to the live
// session. Subscribing twice sends a single request.
func (s *ConnectionService) Subscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	s.topics.Add(topic)

	s.mu.Lock()
	if s.phase != constants.PhaseConnected || s.client == nil {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.active[topic]; ok {
		s.mu.Unlock()
		return nil
	}
	s.active[topic] = struct{}{}
	client := s.client
	gen := s.generation
	s.mu.Unlock()

	token := client.Subscribe(topic, s.cfg.QOS, nil)
	go s.awaitSubscribe(gen, token, []string{topic})
	return nil
}

// Unsubscribe removes topic from the registry and the live session.
func (s *ConnectionService) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	s.topics.Remove(topic)

	s.mu.Lock()
	_, live := s.active[topic]
	delete(s.active, topic)
	client := s.client
	connected := s.phase == constants.PhaseConnected
	s.mu.Unlock()

	if !connected || !live || client == nil {
		return nil
	}
	s.retract(client, []string{topic})
	return nil
}

// UnsubscribeAll clears the registry and retracts every live subscription.
func (s *ConnectionService) UnsubscribeAll() error {
	s.topics.Clear()

	s.mu.Lock()
	live := make([]string, 0, len(s.active))
	for t := range s.active {
		live = append(live, t)
	}
	s.active = make(map[string]struct{})
	client := s.client
	connected := s.phase == constants.PhaseConnected
	s.mu.Unlock()

	if !connected || client == nil || len(live) == 0 {
		return nil
	}
	s.retract(client, live)
	return nil
}

// State returns a snapshot of the session state.
func (s *ConnectionService) State() models.ConnectionState {
	s.mu.Lock()
	st := models.ConnectionState{
		Phase:                   s.phase,
		ReconnectAttempts:       s.attempts,
		LastCredentialRefreshAt: s.lastRefreshAt,
		ForcedClose:             s.forcedClose,
		Online:                  true,
		Topics:                  s.topics.List(),
	}
	if s.disconnectedSince != nil {
		t := *s.disconnectedSince
		st.DisconnectedSince = &t
	}
	s.mu.Unlock()

	if s.network != nil {
		st.Online = s.network.Online()
	}
	return st
}

// Topics exposes the subscription registry.
func (s *ConnectionService) Topics() *TopicRegistry {
	return s.topics
}

// beginAttemptLocked starts a new connect attempt generation.
func (s *ConnectionService) beginAttemptLocked() uint64 {
	s.generation++
	s.phase = constants.PhaseConnecting
	return s.generation
}

// connect runs one full connect sequence for attempt gen.
func (s *ConnectionService) connect(gen uint64) {
	creds, err := s.credentialsFor(gen)
	if errors.Is(err, errSuperseded) {
		return
	}
	if err != nil {
		s.Logger.Error().Err(err).Msg("Failed to obtain broker credentials")
		s.reportError(err)
		s.handleTransportError(gen, err, false)
		return
	}

	url, err := s.signer.PresignURL(creds, s.now())
	if err != nil {
		s.Logger.Error().Err(err).Msg("Failed to sign broker URL")
		s.reportError(err)
		s.handleTransportError(gen, err, false)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.forcedClose {
		s.mu.Unlock()
		return
	}
	client := s.newClient(mqtt.ClientOptions{
		BrokerURL:      url,
		ClientID:       s.cfg.ClientID,
		KeepAlive:      s.cfg.KeepAlive,
		ConnectTimeout: s.cfg.ConnectTimeout,
		OnMessage:      s.handleMessage,
		OnConnectionLost: func(err error) {
			s.Logger.Warn().Err(err).Msg("Connection to broker lost")
			s.handleTransportError(gen, err, true)
		},
	})
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to connect to broker")
		s.handleTransportError(gen, err, true)
		return
	}
	s.onConnected(gen, client)
}

// credentialsFor returns cached credentials unless they are missing or close
// to expiry.
func (s *ConnectionService) credentialsFor(gen uint64) (aws.Credentials, error) {
	s.mu.Lock()
	if s.haveCreds && !s.expiringLocked() {
		creds := s.creds
		s.mu.Unlock()
		return creds, nil
	}
	ctx := s.ctx
	s.mu.Unlock()

	creds, err := s.fetchCredentials(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.forcedClose {
		return aws.Credentials{}, errSuperseded
	}
	if err != nil {
		return aws.Credentials{}, err
	}
	s.storeCredentialsLocked(creds)
	return creds, nil
}

func (s *ConnectionService) fetchCredentials(ctx context.Context) (aws.Credentials, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.credentials.Retrieve(ctx)
}

func (s *ConnectionService) storeCredentialsLocked(creds aws.Credentials) {
	s.creds = creds
	s.haveCreds = true
	s.lastRefreshAt = s.now()
}

func (s *ConnectionService) expiringLocked() bool {
	return s.creds.CanExpire && !s.creds.Expires.After(s.now().Add(s.cfg.ExpirySkew))
}

// onConnected finishes a successful connect: resets the retry state, emits the
// outage duration and re-asserts the registry.
func (s *ConnectionService) onConnected(gen uint64, client mqtt.MQTTClient) {
	s.mu.Lock()
	if gen != s.generation || s.forcedClose {
		s.mu.Unlock()
		client.Disconnect(0)
		return
	}
	var outage time.Duration
	restored := s.disconnectedSince != nil
	if restored {
		outage = s.now().Sub(*s.disconnectedSince)
	}
	s.attempts = 0
	s.disconnectedSince = nil
	s.phase = constants.PhaseConnected
	s.active = make(map[string]struct{})
	topics := s.topics.List()
	s.mu.Unlock()

	s.Logger.Info().Str("client_id", s.cfg.ClientID).Msg("Connected to broker")
	s.notifyPhase(constants.PhaseConnected)
	if restored {
		s.Logger.Info().Dur("outage", outage).Msg("Broker connection restored")
		if s.hooks.OnReconnect != nil {
			s.hooks.OnReconnect(outage)
		}
	}
	s.resubscribe(gen, client, topics)
}

// resubscribe asserts topics in batches, one SUBSCRIBE per batch.
func (s *ConnectionService) resubscribe(gen uint64, client mqtt.MQTTClient, topics []string) {
	for i, batch := range Batches(topics, s.cfg.BatchSize) {
		filters := make(map[string]byte, len(batch))
		for _, t := range batch {
			filters[t] = s.cfg.QOS
		}

		token := client.SubscribeMultiple(filters, nil)
		if !token.WaitTimeout(s.cfg.SubscribeTimeout) {
			s.Logger.Error().Int("batch", i).Strs("topics", batch).Msg("Timed out subscribing topic batch")
			continue
		}
		if err := token.Error(); err != nil {
			s.Logger.Error().Err(err).Int("batch", i).Strs("topics", batch).Msg("Failed to subscribe topic batch")
			continue
		}

		s.mu.Lock()
		if gen == s.generation {
			for _, t := range batch {
				s.active[t] = struct{}{}
			}
		}
		s.mu.Unlock()
		s.Logger.Debug().Int("batch", i).Strs("topics", batch).Msg("Subscribed topic batch")
	}
}

func (s *ConnectionService) awaitSubscribe(gen uint64, token pahomqtt.Token, topics []string) {
	if token.WaitTimeout(s.cfg.SubscribeTimeout) && token.Error() == nil {
		return
	}
	err := token.Error()
	if err == nil {
		err = errors.New("subscribe timed out")
	}
	s.Logger.Error().Err(err).Strs("topics", topics).Msg("Failed to subscribe")

	s.mu.Lock()
	if gen == s.generation {
		for _, t := range topics {
			delete(s.active, t)
		}
	}
	s.mu.Unlock()
}

func (s *ConnectionService) retract(client mqtt.MQTTClient, topics []string) {
	token := client.Unsubscribe(topics...)
	go func() {
		if !token.WaitTimeout(s.cfg.SubscribeTimeout) {
			s.Logger.Warn().Strs("topics", topics).Msg("Timed out unsubscribing")
			return
		}
		if err := token.Error(); err != nil {
			s.Logger.Error().Err(err).Strs("topics", topics).Msg("Failed to unsubscribe")
		}
	}()
}

// handleTransportError moves the session to disconnected and picks the
// recovery path. Only the first failure of an attempt is acted on.
func (s *ConnectionService) handleTransportError(gen uint64, err error, transport bool) {
	s.mu.Lock()
	if gen != s.generation || s.forcedClose || gen == s.failedGeneration {
		s.mu.Unlock()
		return
	}
	s.failedGeneration = gen
	s.client = nil
	s.active = make(map[string]struct{})
	if s.disconnectedSince == nil {
		t := s.now()
		s.disconnectedSince = &t
	}
	s.phase = constants.PhaseDisconnected

	auth := transport && isAuthorizationError(err)
	if !auth {
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()

	s.notifyPhase(constants.PhaseDisconnected)
	if auth {
		s.refreshCredentials(gen)
	}
}

func (s *ConnectionService) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if s.hooks.OnMessage == nil {
		return
	}
	s.hooks.OnMessage(msg.Topic(), msg.Payload())
}

func (s *ConnectionService) notifyPhase(phase constants.Phase) {
	if s.hooks.OnPhaseChange != nil {
		s.hooks.OnPhaseChange(phase)
	}
}

func (s *ConnectionService) reportError(err error) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadEncoding, err)
	}
	return data, nil
}
