package mqtt

import (
	"crypto/tls"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// ClientOptions describes one broker session. Each signed URL gets a fresh
// client, so reconnects are driven by the caller.
type ClientOptions struct {
	BrokerURL      string
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config

	OnMessage        mqtt.MessageHandler
	OnConnectionLost func(err error)
}

// ClientFactory builds a client for the given options.
type ClientFactory func(opts ClientOptions) MQTTClient

// NewPahoClient creates a paho client over the presigned websocket URL.
func NewPahoClient(o ClientOptions) MQTTClient {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}
	if o.TLSConfig != nil {
		opts.SetTLSConfig(o.TLSConfig)
	}
	if o.OnMessage != nil {
		opts.SetDefaultPublishHandler(o.OnMessage)
	}
	if o.OnConnectionLost != nil {
		lost := o.OnConnectionLost
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lost(err)
		})
	}
	return mqtt.NewClient(opts)
}
