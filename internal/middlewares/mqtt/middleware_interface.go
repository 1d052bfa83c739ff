package mqtt_middleware

// MessageHandler receives one inbound broker message.
type MessageHandler func(topic string, payload []byte)

// Middleware wraps a MessageHandler.
type Middleware func(next MessageHandler) MessageHandler
