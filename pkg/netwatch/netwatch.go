package netwatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DialFunc opens a connection used only to prove reachability.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type listener struct {
	id int
	fn func(online bool)
}

// Watcher tracks whether the broker host is reachable and notifies listeners
// on every transition.
type Watcher struct {
	Address  string
	Interval time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger

	dial DialFunc

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners []listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher that starts in the online state. address is a
// host:port pair.
func NewWatcher(address string, interval time.Duration, logger zerolog.Logger) *Watcher {
	d := &net.Dialer{}
	return &Watcher{
		Address:  address,
		Interval: interval,
		Timeout:  5 * time.Second,
		Logger:   logger,
		dial:     d.DialContext,
		online:   true,
	}
}

// WithDialer replaces the dial function. Used by tests.
func (w *Watcher) WithDialer(dial DialFunc) *Watcher {
	w.dial = dial
	return w
}

// OnChange registers fn to be called after every online/offline transition.
// The returned func removes the registration.
func (w *Watcher) OnChange(fn func(online bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.listeners = append(w.listeners, listener{id: id, fn: fn})

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, l := range w.listeners {
			if l.id == id {
				w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
				return
			}
		}
	}
}

// Online returns the last known reachability.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// SetOnline records a reachability observation.
func (w *Watcher) SetOnline(online bool) {
	w.mu.Lock()
	if w.online == online {
		w.mu.Unlock()
		return
	}
	w.online = online
	listeners := append([]listener(nil), w.listeners...)
	w.mu.Unlock()

	w.Logger.Info().Bool("online", online).Msg("Network reachability changed")
	for _, l := range listeners {
		l.fn(online)
	}
}

// Probe dials the address once and records the result.
func (w *Watcher) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	conn, err := w.dial(ctx, "tcp", w.Address)
	if err != nil {
		w.Logger.Debug().Err(err).Str("address", w.Address).Msg("Reachability probe failed")
		w.SetOnline(false)
		return false
	}
	_ = conn.Close()
	w.SetOnline(true)
	return true
}

// Start launches periodic probing.
func (w *Watcher) Start() error {
	if w.ctx != nil {
		return errors.New("network watcher is already running")
	}
	if w.Interval <= 0 {
		return errors.New("network watcher interval must be positive")
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()

	w.Logger.Info().Str("address", w.Address).Dur("interval", w.Interval).Msg("Network watcher started")
	return nil
}

// Stop halts probing.
func (w *Watcher) Stop() error {
	if w.ctx == nil {
		return errors.New("network watcher is not running")
	}
	w.cancel()
	w.wg.Wait()
	w.ctx = nil
	w.cancel = nil
	return nil
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Probe(w.ctx)
		case <-w.ctx.Done():
			return
		}
	}
}
