package registry

// Service is anything the daemon starts at boot and stops on shutdown.
type Service interface {
	Start() error
	Stop() error
}

// Hooks adapts a pair of functions to Service. Nil functions are no-ops.
type Hooks struct {
	OnStart func() error
	OnStop  func() error
}

func (h Hooks) Start() error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart()
}

func (h Hooks) Stop() error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop()
}
