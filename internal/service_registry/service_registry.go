package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/registry"
)

// ServiceRegistry manages the lifecycle of the daemon's services.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes an empty service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				if stopErr := sr.services[startedServices[i]].Stop(); stopErr != nil {
					sr.Logger.Error().Err(stopErr).Msgf("Rollback stop failed: %s", startedServices[i])
				}
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		sr.Logger.Info().Msgf("Stopping service: %s", name)
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}
