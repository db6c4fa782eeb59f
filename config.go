package penstock

import (
	"sync"

	logbackend "github.com/jpuglielli/penstock/backends/logging"
	otelbackend "github.com/jpuglielli/penstock/backends/otel"
	"github.com/jpuglielli/penstock/pkg/api"
)

var (
	backendMu         sync.Mutex
	backend           api.Backend
	backendConfigured bool
)

// Configure sets the process-wide span backend. Passing nil re-runs
// auto-detection immediately. Explicit configuration always overrides the
// probe; the choice sticks until the next Configure or ResetBackend call.
func Configure(b api.Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	if b == nil {
		b = autoDetect()
	}
	backend = b
	backendConfigured = true
}

// CurrentBackend returns the configured backend, auto-detecting on first
// use: if a real OpenTelemetry tracer provider is registered globally the
// OTel backend is selected, otherwise the logging backend. The result is
// cached for the process lifetime.
func CurrentBackend() api.Backend {
	backendMu.Lock()
	defer backendMu.Unlock()
	if !backendConfigured {
		backend = autoDetect()
		backendConfigured = true
	}
	return backend
}

// ResetBackend reverts to the unconfigured state so the next use probes
// again. Intended for test isolation.
func ResetBackend() {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = nil
	backendConfigured = false
}

func autoDetect() api.Backend {
	if otelbackend.Available() {
		return otelbackend.New()
	}
	return logbackend.New(nil)
}
