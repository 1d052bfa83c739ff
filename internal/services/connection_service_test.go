package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/mocks"
	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/pkg/mqtt"
	"github.com/benmeehan/iot-sync/pkg/netwatch"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

type manualTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		wasActive := !t.stopped && !t.fired
		t.stopped = true
		return wasActive
	}
}

func (m *manualTimers) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs the newest pending timer in the calling goroutine.
func (m *manualTimers) fire(t *testing.T) {
	m.mu.Lock()
	var next *fakeTimer
	for i := len(m.timers) - 1; i >= 0; i-- {
		if !m.timers[i].stopped && !m.timers[i].fired {
			next = m.timers[i]
			break
		}
	}
	if next == nil {
		m.mu.Unlock()
		t.Fatal("no pending timer")
		return
	}
	next.fired = true
	m.mu.Unlock()
	next.f()
}

// last returns the most recently armed timer, pending or not.
func (m *manualTimers) last() *fakeTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return nil
	}
	return m.timers[len(m.timers)-1]
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (aws.Credentials, error)
}

func (p *fakeProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.fn(call)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSigner struct {
	mu     sync.Mutex
	keys   []string
	onSign func()
}

func (s *fakeSigner) PresignURL(creds aws.Credentials, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, creds.AccessKeyID)
	if s.onSign != nil {
		s.onSign()
	}
	return "wss://broker.example.com/mqtt?key=" + creds.AccessKeyID, nil
}

type clientQueue struct {
	mu      sync.Mutex
	clients []*mocks.MockMQTTClient
	opts    []mqtt.ClientOptions
}

func (q *clientQueue) factory(o mqtt.ClientOptions) mqtt.MQTTClient {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.clients[len(q.opts)]
	q.opts = append(q.opts, o)
	return c
}

func (q *clientQueue) created() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.opts)
}

func (q *clientQueue) options(i int) mqtt.ClientOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts[i]
}

func connectingClient(connectErr error) *mocks.MockMQTTClient {
	c := new(mocks.MockMQTTClient)
	if connectErr != nil {
		c.On("Connect").Return(mocks.NewFailedToken(connectErr))
	} else {
		c.On("Connect").Return(mocks.NewDoneToken())
	}
	c.On("Disconnect", uint(0)).Return().Maybe()
	return c
}

func staticCreds(key string) aws.Credentials {
	return aws.Credentials{AccessKeyID: key, SecretAccessKey: "secret", SessionToken: "token"}
}

type harness struct {
	svc      *ConnectionService
	timers   *manualTimers
	provider *fakeProvider
	signer   *fakeSigner
	queue    *clientQueue

	mu      sync.Mutex
	clock   time.Time
	phases  []constants.Phase
	outages []time.Duration
	errs    []error
}

func newHarness(t *testing.T, cfg ConnectionConfig, network NetworkMonitor, clients ...*mocks.MockMQTTClient) *harness {
	t.Helper()
	h := &harness{
		timers:   &manualTimers{},
		provider: &fakeProvider{fn: func(int) (aws.Credentials, error) { return staticCreds("AKID"), nil }},
		signer:   &fakeSigner{},
		queue:    &clientQueue{clients: clients},
		clock:    time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sync-test"
	}
	hooks := ConnectionHooks{
		OnPhaseChange: func(p constants.Phase) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.phases = append(h.phases, p)
		},
		OnReconnect: func(d time.Duration) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.outages = append(h.outages, d)
		},
		OnError: func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errs = append(h.errs, err)
		},
	}
	h.svc = NewConnectionService(cfg, h.provider, h.signer, h.queue.factory, network, hooks, zerolog.Nop())
	h.svc.afterFunc = h.timers.afterFunc
	h.svc.now = h.now
	h.svc.random = func() float64 { return 0 }
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *harness) outageEvents() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.outages...)
}

func (h *harness) waitPhase(t *testing.T, phase constants.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.svc.State().Phase == phase }, time.Second, 5*time.Millisecond)
}

func (h *harness) waitPendingTimer(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.timers.pending() == 1 }, time.Second, 5*time.Millisecond)
}

func (h *harness) activeTopics() map[string]struct{} {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	out := make(map[string]struct{}, len(h.svc.active))
	for k := range h.svc.active {
		out[k] = struct{}{}
	}
	return out
}

func TestConnectionService_StartConnects(t *testing.T) {
	client := connectingClient(nil)
	h := newHarness(t, ConnectionConfig{}, nil, client)

	assert.Equal(t, constants.PhaseIdle, h.svc.State().Phase)
	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	opts := h.queue.options(0)
	assert.Equal(t, "wss://broker.example.com/mqtt?key=AKID", opts.BrokerURL)
	assert.Equal(t, "sync-test", opts.ClientID)
	assert.Equal(t, constants.DefaultKeepAlive, opts.KeepAlive)

	// Already connected.
	require.NoError(t, h.svc.Start())
	assert.Equal(t, 1, h.queue.created())

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.phases) == 2
	}, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, []constants.Phase{constants.PhaseConnecting, constants.PhaseConnected}, h.phases)
	h.mu.Unlock()
	assert.Empty(t, h.outageEvents())
}

func TestConnectionService_ResubscribesInBatches(t *testing.T) {
	client := connectingClient(nil)
	client.On("SubscribeMultiple", mock.MatchedBy(func(f map[string]byte) bool { return len(f) == 5 }), mock.Anything).
		Return(mocks.NewFailedToken(errors.New("subscribe limit"))).Once()
	client.On("SubscribeMultiple", mock.MatchedBy(func(f map[string]byte) bool {
		_, six := f["t6"]
		_, seven := f["t7"]
		return len(f) == 2 && six && seven
	}), mock.Anything).Return(mocks.NewDoneToken()).Once()

	cfg := ConnectionConfig{DefaultTopics: []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"}}
	h := newHarness(t, cfg, nil, client)

	require.NoError(t, h.svc.Start())
	require.Eventually(t, func() bool { return len(h.activeTopics()) == 2 }, time.Second, 5*time.Millisecond)

	client.AssertNumberOfCalls(t, "SubscribeMultiple", 2)
	assert.Contains(t, h.activeTopics(), "t6")
	assert.NotContains(t, h.activeTopics(), "t1")
	assert.Equal(t, cfg.DefaultTopics, h.svc.State().Topics)
}

func TestConnectionService_SubscribeIsIdempotent(t *testing.T) {
	client := connectingClient(nil)
	client.On("Subscribe", "alerts", byte(0), mock.Anything).Return(mocks.NewDoneToken()).Once()
	h := newHarness(t, ConnectionConfig{}, nil, client)

	// Registry only while disconnected.
	require.NoError(t, h.svc.Subscribe("pending"))
	assert.True(t, h.svc.Topics().Contains("pending"))
	assert.ErrorIs(t, h.svc.Subscribe(""), ErrEmptyTopic)

	client.On("SubscribeMultiple", map[string]byte{"pending": 0}, mock.Anything).Return(mocks.NewDoneToken()).Once()
	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)
	require.Eventually(t, func() bool { return len(h.activeTopics()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Subscribe("alerts"))
	require.NoError(t, h.svc.Subscribe("alerts"))
	require.NoError(t, h.svc.Subscribe("pending"))

	client.AssertNumberOfCalls(t, "Subscribe", 1)
	assert.Equal(t, []string{"pending", "alerts"}, h.svc.State().Topics)
}

func TestConnectionService_SubscribeTimeoutDropsActive(t *testing.T) {
	token := new(mocks.MockToken)
	token.On("WaitTimeout", 50*time.Millisecond).Return(false)
	token.On("Error").Return(nil)

	client := connectingClient(nil)
	client.On("Subscribe", "slow", byte(0), mock.Anything).Return(token).Once()
	h := newHarness(t, ConnectionConfig{SubscribeTimeout: 50 * time.Millisecond}, nil, client)

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	require.NoError(t, h.svc.Subscribe("slow"))
	require.Eventually(t, func() bool { return len(h.activeTopics()) == 0 }, time.Second, 5*time.Millisecond)
	// Still registered, so the next connect retries it.
	assert.True(t, h.svc.Topics().Contains("slow"))
	token.AssertExpectations(t)
}

func TestConnectionService_ForwardsMessages(t *testing.T) {
	client := connectingClient(nil)
	h := newHarness(t, ConnectionConfig{}, nil, client)

	var got []string
	h.svc.hooks.OnMessage = func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	onMessage := h.queue.options(0).OnMessage
	require.NotNil(t, onMessage)
	onMessage(nil, mocks.NewMockMessage("sync/devices/p1", []byte(`{"type":"DEVICE_UPDATE"}`)))

	assert.Equal(t, []string{`sync/devices/p1={"type":"DEVICE_UPDATE"}`}, got)
}

func TestConnectionService_UnsubscribeAndUnsubscribeAll(t *testing.T) {
	client := connectingClient(nil)
	client.On("SubscribeMultiple", mock.Anything, mock.Anything).Return(mocks.NewDoneToken())
	client.On("Unsubscribe", []string{"a"}).Return(mocks.NewDoneToken()).Once()
	client.On("Unsubscribe", mock.MatchedBy(func(topics []string) bool { return len(topics) == 2 })).Return(mocks.NewDoneToken()).Once()

	h := newHarness(t, ConnectionConfig{DefaultTopics: []string{"a", "b", "c"}}, nil, client)
	require.NoError(t, h.svc.Start())
	require.Eventually(t, func() bool { return len(h.activeTopics()) == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Unsubscribe("a"))
	assert.Equal(t, []string{"b", "c"}, h.svc.State().Topics)

	require.NoError(t, h.svc.UnsubscribeAll())
	assert.Empty(t, h.svc.State().Topics)
	assert.Empty(t, h.activeTopics())

	client.AssertNumberOfCalls(t, "Unsubscribe", 2)
}

func TestConnectionService_Publish(t *testing.T) {
	client := connectingClient(nil)
	client.On("Publish", "out", byte(1), false, []byte(`{"a":1}`)).Return(mocks.NewDoneToken()).Once()
	client.On("Publish", "raw", byte(0), true, []byte("hello")).Return(mocks.NewDoneToken()).Once()
	h := newHarness(t, ConnectionConfig{}, nil, client)

	err := h.svc.Publish("out", map[string]int{"a": 1}, models.PublishOptions{QOS: 1})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	require.NoError(t, h.svc.Publish("out", map[string]int{"a": 1}, models.PublishOptions{QOS: 1}))
	require.NoError(t, h.svc.Publish("raw", "hello", models.PublishOptions{Retained: true}))
	assert.ErrorIs(t, h.svc.Publish("bad", make(chan int), models.PublishOptions{}), ErrPayloadEncoding)

	client.AssertExpectations(t)
}

func TestConnectionService_AttemptsCountAndReset(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	h := newHarness(t, ConnectionConfig{}, nil,
		connectingClient(refused),
		connectingClient(refused),
		connectingClient(refused),
		connectingClient(nil),
	)

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	assert.Equal(t, 1, h.svc.State().ReconnectAttempts)
	assert.Equal(t, time.Second, h.timers.last().d)

	h.timers.fire(t)
	assert.Equal(t, 2*time.Second, h.timers.last().d)
	h.timers.fire(t)
	assert.Equal(t, 4*time.Second, h.timers.last().d)

	st := h.svc.State()
	assert.Equal(t, 3, st.ReconnectAttempts)
	assert.Equal(t, constants.PhaseDisconnected, st.Phase)
	require.NotNil(t, st.DisconnectedSince)

	// Start while a retry is pending does nothing.
	require.NoError(t, h.svc.Start())
	assert.Equal(t, 3, h.queue.created())

	h.timers.fire(t)
	st = h.svc.State()
	assert.Equal(t, constants.PhaseConnected, st.Phase)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Nil(t, st.DisconnectedSince)
	assert.Equal(t, 4, h.queue.created())
	assert.Equal(t, 1, h.provider.Calls())
}

func TestConnectionService_StopPreventsReconnect(t *testing.T) {
	client := connectingClient(nil)
	h := newHarness(t, ConnectionConfig{}, nil, client)

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	require.NoError(t, h.svc.Stop())
	client.AssertCalled(t, "Disconnect", uint(0))

	// A late close event from the torn down transport.
	h.queue.options(0).OnConnectionLost(errors.New("EOF"))

	st := h.svc.State()
	assert.Equal(t, constants.PhaseDisconnected, st.Phase)
	assert.True(t, st.ForcedClose)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, 0, h.timers.pending())
	assert.Equal(t, 1, h.queue.created())
}

func TestConnectionService_StopCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, ConnectionConfig{}, nil, connectingClient(errors.New("timeout")))

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	stale := h.timers.last()

	require.NoError(t, h.svc.Stop())
	assert.Equal(t, 0, h.timers.pending())
	assert.True(t, stale.stopped)

	// Even a timer that slipped past cancellation is a no-op.
	stale.f()
	assert.Equal(t, 1, h.queue.created())
	assert.Equal(t, constants.PhaseDisconnected, h.svc.State().Phase)
}

func TestConnectionService_StopDiscardsInFlightCredentials(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, ConnectionConfig{}, nil)
	h.provider.fn = func(int) (aws.Credentials, error) {
		close(entered)
		<-release
		return staticCreds("AKID"), nil
	}

	require.NoError(t, h.svc.Start())
	<-entered
	require.NoError(t, h.svc.Stop())
	close(release)

	// No client is ever built from the discarded credentials.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.queue.created())
	assert.Equal(t, 0, h.timers.pending())
}

func TestConnectionService_AuthErrorWithinCooldownRetries(t *testing.T) {
	h := newHarness(t, ConnectionConfig{}, nil,
		connectingClient(packets.ErrorRefusedNotAuthorised),
		connectingClient(packets.ErrorRefusedNotAuthorised),
		connectingClient(nil),
	)
	h.provider.fn = func(call int) (aws.Credentials, error) {
		if call == 1 {
			return staticCreds("AKID1"), nil
		}
		return staticCreds("AKID2"), nil
	}

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	// Credentials were fetched moments ago, so no refresh yet.
	assert.Equal(t, 1, h.provider.Calls())

	h.advance(2 * constants.DefaultCredentialRefreshCooldown)
	h.timers.fire(t)

	st := h.svc.State()
	assert.Equal(t, constants.PhaseConnected, st.Phase)
	assert.Equal(t, 2, h.provider.Calls())
	assert.Equal(t, h.now(), st.LastCredentialRefreshAt)

	h.signer.mu.Lock()
	assert.Equal(t, []string{"AKID1", "AKID1", "AKID2"}, h.signer.keys)
	h.signer.mu.Unlock()
}

func TestConnectionService_RefreshFailureFallsBackToRetry(t *testing.T) {
	h := newHarness(t, ConnectionConfig{RefreshCooldown: time.Millisecond}, nil,
		connectingClient(errors.New("websocket: bad handshake")),
	)
	h.provider.fn = func(call int) (aws.Credentials, error) {
		if call == 1 {
			return staticCreds("AKID"), nil
		}
		return aws.Credentials{}, errors.New("identity pool unavailable")
	}
	// Let the cooldown elapse between fetching and being rejected.
	h.signer.onSign = func() { h.advance(time.Second) }

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	require.Eventually(t, func() bool { return len(h.errors()) == 1 }, time.Second, 5*time.Millisecond)

	errs := h.errors()
	assert.ErrorIs(t, errs[0], ErrCredentialRefreshFailed)
	assert.Equal(t, 2, h.provider.Calls())
	assert.Equal(t, constants.PhaseDisconnected, h.svc.State().Phase)
	assert.Equal(t, 1, h.svc.State().ReconnectAttempts)
}

func TestConnectionService_ConcurrentRefreshIsShortCircuited(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, ConnectionConfig{}, nil, connectingClient(nil))
	h.provider.fn = func(int) (aws.Credentials, error) {
		close(entered)
		<-release
		return staticCreds("AKID"), nil
	}

	h.svc.mu.Lock()
	gen := h.svc.beginAttemptLocked()
	h.svc.phase = constants.PhaseDisconnected
	h.svc.mu.Unlock()

	go h.svc.refreshCredentials(gen)
	<-entered

	// Second trigger returns immediately without touching the provider.
	h.svc.refreshCredentials(gen)
	assert.Equal(t, 1, h.provider.Calls())

	close(release)
	h.waitPhase(t, constants.PhaseConnected)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, 1, h.queue.created())
}

func TestConnectionService_StartDuringRefreshIsNoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, ConnectionConfig{}, nil, connectingClient(nil), connectingClient(nil))
	h.provider.fn = func(int) (aws.Credentials, error) {
		close(entered)
		<-release
		return staticCreds("AKID"), nil
	}

	h.svc.mu.Lock()
	gen := h.svc.beginAttemptLocked()
	h.svc.phase = constants.PhaseDisconnected
	h.svc.mu.Unlock()

	go h.svc.refreshCredentials(gen)
	<-entered

	// No parallel attempt with the rejected credentials.
	require.NoError(t, h.svc.Start())
	assert.Equal(t, 0, h.queue.created())
	assert.Equal(t, 0, h.timers.pending())

	close(release)
	h.waitPhase(t, constants.PhaseConnected)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, 1, h.queue.created())
}

func TestConnectionService_ExpiringCredentialsAreRefetched(t *testing.T) {
	h := newHarness(t, ConnectionConfig{}, nil,
		connectingClient(errors.New("i/o timeout")),
		connectingClient(nil),
	)
	h.provider.fn = func(call int) (aws.Credentials, error) {
		c := staticCreds("AKID")
		c.CanExpire = true
		c.Expires = h.now().Add(time.Minute)
		return c, nil
	}

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	assert.Equal(t, 1, h.provider.Calls())

	h.timers.fire(t)
	assert.Equal(t, constants.PhaseConnected, h.svc.State().Phase)
	assert.Equal(t, 2, h.provider.Calls())
}

func TestConnectionService_ProviderErrorIsRetried(t *testing.T) {
	h := newHarness(t, ConnectionConfig{}, nil, connectingClient(nil))
	h.provider.fn = func(call int) (aws.Credentials, error) {
		if call == 1 {
			return aws.Credentials{}, errors.New("throttled")
		}
		return staticCreds("AKID"), nil
	}

	require.NoError(t, h.svc.Start())
	h.waitPendingTimer(t)
	require.Len(t, h.errors(), 1)

	h.timers.fire(t)
	assert.Equal(t, constants.PhaseConnected, h.svc.State().Phase)
}

func TestConnectionService_OutageReportedOnce(t *testing.T) {
	h := newHarness(t, ConnectionConfig{}, nil,
		connectingClient(nil),
		connectingClient(errors.New("connection refused")),
		connectingClient(nil),
	)

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	h.queue.options(0).OnConnectionLost(errors.New("EOF"))
	// A duplicate report for the same session is ignored.
	h.queue.options(0).OnConnectionLost(errors.New("EOF"))
	assert.Equal(t, 1, h.timers.pending())

	h.advance(5 * time.Second)
	h.timers.fire(t)
	h.advance(5 * time.Second)
	h.timers.fire(t)

	assert.Equal(t, constants.PhaseConnected, h.svc.State().Phase)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.outageEvents())
}

func TestConnectionService_NetworkAwareness(t *testing.T) {
	watcher := netwatch.NewWatcher("broker.example.com:443", time.Minute, zerolog.Nop())
	h := newHarness(t, ConnectionConfig{}, watcher,
		connectingClient(nil),
		connectingClient(nil),
	)

	require.NoError(t, h.svc.Start())
	h.waitPhase(t, constants.PhaseConnected)

	h.queue.options(0).OnConnectionLost(errors.New("EOF"))
	watcher.SetOnline(false)
	assert.False(t, h.svc.State().Online)

	// Offline: the retry is deferred, not attempted.
	h.timers.fire(t)
	assert.Equal(t, 1, h.queue.created())
	assert.Equal(t, 0, h.timers.pending())
	assert.Equal(t, constants.PhaseDisconnected, h.svc.State().Phase)

	watcher.SetOnline(true)
	h.waitPhase(t, constants.PhaseConnected)
	assert.Equal(t, 2, h.queue.created())

	// After Stop, network transitions no longer reconnect.
	require.NoError(t, h.svc.Stop())
	watcher.SetOnline(false)
	watcher.SetOnline(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.queue.created())
	assert.Equal(t, constants.PhaseDisconnected, h.svc.State().Phase)
}

func TestEncodePayload(t *testing.T) {
	data, err := encodePayload("plain")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), data)

	data, err = encodePayload([]byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	data, err = encodePayload(struct {
		ID string `json:"id"`
	}{ID: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x"}`, string(data))
}
