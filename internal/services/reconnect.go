package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/gorilla/websocket"

	"github.com/benmeehan/iot-sync/internal/constants"
)

// ErrCredentialRefreshFailed is reported through OnError when new credentials
// could not be obtained after the broker rejected the current ones.
var ErrCredentialRefreshFailed = errors.New("credential refresh failed")

var authErrorMarkers = []string{
	"403",
	"forbidden",
	"unauthorized",
	"not authorized",
	"not authorised",
	"bad handshake",
}

// Backoff returns the delay before retry number attempts. r is a uniform
// sample from [0, 1) that scales the jitter. The result is always within
// [base, max].
func Backoff(attempts int, base, max time.Duration, r float64) time.Duration {
	if base <= 0 {
		base = constants.DefaultReconnectBaseDelay
	}
	if max < base {
		max = base
	}
	if attempts < 0 {
		attempts = 0
	}
	if r < 0 || math.IsNaN(r) {
		r = 0
	} else if r >= 1 {
		r = math.Nextafter(1, 0)
	}

	// Ldexp saturates to +Inf instead of overflowing.
	capped := math.Min(float64(max), math.Ldexp(float64(base), attempts))
	delay := capped - r*constants.BackoffJitterRatio*capped
	if delay < float64(base) {
		delay = float64(base)
	}
	return time.Duration(delay)
}

// isAuthorizationError reports whether err means the broker rejected the
// signed URL or the credentials behind it.
func isAuthorizationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, websocket.ErrBadHandshake) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// scheduleRetryLocked arms the single retry timer. Any pending timer is
// cancelled first. Caller holds s.mu.
func (s *ConnectionService) scheduleRetryLocked() {
	if s.forcedClose {
		return
	}
	s.cancelRetryLocked()

	delay := Backoff(s.attempts, s.cfg.BaseDelay, s.cfg.MaxDelay, s.random())
	s.attempts++
	s.retrySeq++
	seq := s.retrySeq
	s.stopRetry = s.afterFunc(delay, func() { s.fireRetry(seq) })

	s.Logger.Info().Int("attempt", s.attempts).Dur("delay", delay).Msg("Scheduled reconnect")
}

func (s *ConnectionService) cancelRetryLocked() {
	if s.stopRetry != nil {
		s.stopRetry()
		s.stopRetry = nil
	}
	s.retrySeq++
}

// fireRetry runs when the retry timer expires.
func (s *ConnectionService) fireRetry(seq uint64) {
	s.mu.Lock()
	if seq != s.retrySeq || s.forcedClose {
		s.mu.Unlock()
		return
	}
	s.stopRetry = nil

	if s.network != nil && !s.network.Online() {
		s.mu.Unlock()
		s.Logger.Info().Msg("Network offline, deferring reconnect until it returns")
		return
	}
	if s.phase == constants.PhaseConnected || s.phase == constants.PhaseConnecting {
		s.mu.Unlock()
		return
	}
	gen := s.beginAttemptLocked()
	s.mu.Unlock()

	s.notifyPhase(constants.PhaseConnecting)
	s.connect(gen)
}

// handleNetworkChange reconnects right away when the network returns.
func (s *ConnectionService) handleNetworkChange(online bool) {
	if !online {
		s.Logger.Warn().Msg("Network went offline")
		return
	}

	s.mu.Lock()
	if s.forcedClose || s.phase == constants.PhaseConnected || s.phase == constants.PhaseConnecting {
		s.mu.Unlock()
		return
	}
	s.cancelRetryLocked()
	gen := s.beginAttemptLocked()
	s.mu.Unlock()

	s.Logger.Info().Msg("Network back online, reconnecting")
	s.notifyPhase(constants.PhaseConnecting)
	go s.connect(gen)
}

// refreshCredentials replaces rejected credentials and reopens the session.
// Inside the cooldown window, or when the fetch fails, it falls back to a
// plain retry.
func (s *ConnectionService) refreshCredentials(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.forcedClose {
		s.mu.Unlock()
		return
	}
	if s.refreshingCredentials {
		s.mu.Unlock()
		s.Logger.Debug().Msg("Credential refresh already in progress")
		return
	}
	if !s.lastRefreshAt.IsZero() && s.now().Sub(s.lastRefreshAt) < s.cfg.RefreshCooldown {
		s.Logger.Warn().Time("last_refresh", s.lastRefreshAt).Msg("Credentials refreshed recently, retrying without refresh")
		s.scheduleRetryLocked()
		s.mu.Unlock()
		return
	}
	s.refreshingCredentials = true
	ctx := s.ctx
	s.mu.Unlock()

	s.Logger.Info().Msg("Broker rejected credentials, refreshing")
	creds, err := s.fetchCredentials(ctx)

	s.mu.Lock()
	s.refreshingCredentials = false
	if gen != s.generation || s.forcedClose {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.scheduleRetryLocked()
		s.mu.Unlock()

		err = fmt.Errorf("%w: %w", ErrCredentialRefreshFailed, err)
		s.Logger.Error().Err(err).Msg("Credential refresh failed")
		s.reportError(err)
		return
	}

	s.storeCredentialsLocked(creds)
	old := s.client
	s.client = nil
	next := s.beginAttemptLocked()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect(0)
	}
	s.notifyPhase(constants.PhaseConnecting)
	s.connect(next)
}
