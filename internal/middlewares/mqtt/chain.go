package mqtt_middleware

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Chain wraps handler so that middlewares[0] sees each message first.
func Chain(handler MessageHandler, middlewares ...Middleware) MessageHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Recover keeps a panicking handler from taking down the paho callback goroutine.
func Recover(logger zerolog.Logger) Middleware {
	return func(next MessageHandler) MessageHandler {
		return func(topic string, payload []byte) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("topic", topic).Str("panic", fmt.Sprint(r)).Msg("Recovered from panic in message handler")
				}
			}()
			next(topic, payload)
		}
	}
}

// Trace logs every inbound message at debug level.
func Trace(logger zerolog.Logger) Middleware {
	return func(next MessageHandler) MessageHandler {
		return func(topic string, payload []byte) {
			logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Inbound message")
			next(topic, payload)
		}
	}
}

// DropEmpty discards messages without a payload.
func DropEmpty(onDrop func(topic string)) Middleware {
	return func(next MessageHandler) MessageHandler {
		return func(topic string, payload []byte) {
			if len(strings.TrimSpace(string(payload))) == 0 {
				if onDrop != nil {
					onDrop(topic)
				}
				return
			}
			next(topic, payload)
		}
	}
}
