// Package modelmanager enforces mutually-exclusive residency for the heavy
// vision models (OCR, face/keyframe detection) that share one GPU's limited
// VRAM. Only one such model is ever loaded at a time; acquiring a different
// one unloads whatever was resident first. The ASR engine is assumed
// always-resident and is never managed here.
package modelmanager

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// Loader loads a model and returns the handle callers will receive from
// [Manager.Acquire]. It may block for as long as the model takes to load
// onto the GPU.
type Loader func(ctx context.Context) (any, error)

// Unloader releases a model's resources. A nil Unloader means the model
// needs no explicit teardown beyond dropping the Go reference.
type Unloader func(model any) error

// Manager is a single-GPU, async-safe model loader/unloader. The zero value
// is not usable; construct with [New].
type Manager struct {
	mu        sync.Mutex
	loaded    map[string]any
	loaders   map[string]Loader
	unloaders map[string]Unloader
	logger    *slog.Logger
}

// New returns an empty Manager. Register loaders with [Manager.RegisterLoader]
// before calling [Manager.Acquire].
func New(logger *slog.Logger) *Manager {
	return &Manager{
		loaded:    make(map[string]any),
		loaders:   make(map[string]Loader),
		unloaders: make(map[string]Unloader),
		logger:    logger,
	}
}

// RegisterLoader registers a model type's load/unload functions. Call this
// once per model type during startup, before any [Manager.Acquire] call for
// that type.
func (m *Manager) RegisterLoader(modelType string, loader Loader, unloader Unloader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[modelType] = loader
	m.unloaders[modelType] = unloader
}

// Acquire loads modelType, first unloading every other currently-resident
// model to free VRAM. If modelType is already loaded it is returned as-is —
// the model stays resident across calls for short-term reuse; call
// [Manager.Unload] to free it explicitly.
func (m *Manager) Acquire(ctx context.Context, modelType string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.loaded {
		if name != modelType {
			m.unloadLocked(name)
		}
	}

	if model, ok := m.loaded[modelType]; ok {
		return model, nil
	}

	loader, ok := m.loaders[modelType]
	if !ok {
		return nil, fmt.Errorf("modelmanager: no loader registered for model type %q", modelType)
	}

	if m.logger != nil {
		m.logger.Info("loading model", "type", modelType)
	}
	model, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("modelmanager: loading %q: %w", modelType, err)
	}
	m.loaded[modelType] = model
	if m.logger != nil {
		m.logger.Info("model loaded", "type", modelType)
	}
	return model, nil
}

// Unload explicitly unloads modelType and frees its VRAM, if it is loaded.
func (m *Manager) Unload(modelType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(modelType)
}

// UnloadAll unloads every currently-resident model.
func (m *Manager) UnloadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name := range m.loaded {
		if err := m.unloadLocked(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Loaded reports which model type is currently resident, if any.
func (m *Manager) Loaded() (modelType string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.loaded {
		return name, true
	}
	return "", false
}

// unloadLocked must be called with m.mu held.
func (m *Manager) unloadLocked(modelType string) error {
	model, ok := m.loaded[modelType]
	if !ok {
		return nil
	}
	delete(m.loaded, modelType)

	if m.logger != nil {
		m.logger.Info("unloading model", "type", modelType)
	}
	if unloader := m.unloaders[modelType]; unloader != nil {
		if err := unloader(model); err != nil {
			return fmt.Errorf("modelmanager: unloading %q: %w", modelType, err)
		}
	}

	// The unloaded model (and its GPU-backed buffers, via the unloader) is
	// now unreachable; force a collection so its Go-side memory is freed
	// promptly rather than waiting for the next natural GC cycle.
	runtime.GC()

	if m.logger != nil {
		m.logger.Info("model unloaded", "type", modelType)
	}
	return nil
}
