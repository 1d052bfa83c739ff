package constants

import "time"

// Phase is the lifecycle phase of the broker session.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
)

const (
	DefaultReconnectBaseDelay        = 1 * time.Second
	DefaultReconnectMaxDelay         = 30 * time.Second
	DefaultKeepAlive                 = 5 * time.Minute
	DefaultCredentialRefreshCooldown = 60 * time.Second
	DefaultCredentialExpirySkew      = 2 * time.Minute
	DefaultConnectTimeout            = 20 * time.Second
	DefaultSubscribeTimeout          = 10 * time.Second
	DefaultSubscribeBatchSize        = 5
	DefaultNetworkProbeInterval      = 15 * time.Second

	// BackoffJitterRatio bounds the jitter subtracted from a retry delay.
	BackoffJitterRatio = 0.3
)

const (
	DefaultStatusInterval       = 60 * time.Second
	DefaultStatusCollectTimeout = 5 * time.Second
)
