package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// Options are the per-request detection filters
type Options struct {
	ConfidenceThreshold float64
	EnabledClasses      []string
}

// Factory builds inference contexts backed by remote sessions
type Factory struct {
	client   *Client
	registry *Registry
	logger   *logger.Logger

	mu   sync.RWMutex
	opts Options
}

// NewFactory creates a context factory
func NewFactory(client *Client, registry *Registry, opts Options, log *logger.Logger) *Factory {
	return &Factory{
		client:   client,
		registry: registry,
		logger:   log,
		opts:     opts,
	}
}

// Build validates the selection and loads the model on the backend
func (f *Factory) Build(ctx context.Context, cfg session.Config) (session.InferenceContext, error) {
	model, err := f.registry.Model(cfg.ModelID)
	if err != nil {
		return nil, err
	}
	backend, err := f.registry.Backend(cfg.BackendID)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.CreateSession(ctx, CreateSessionRequest{
		Model:      model.Name,
		Backend:    backend.Name,
		TargetSize: model.TargetSize,
		MeanValues: model.MeanValues,
		NormValues: model.NormValues,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create inference session: %w", err)
	}

	f.logger.Info("Inference context built",
		"session_id", resp.SessionID,
		"model", model.Name,
		"backend", backend.Name,
	)

	return newContext(f.client, resp.SessionID, model, backend, f.Options(), f.logger), nil
}

// Options returns the detection filters applied to new contexts
func (f *Factory) Options() Options {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Options{
		ConfidenceThreshold: f.opts.ConfidenceThreshold,
		EnabledClasses:      append([]string(nil), f.opts.EnabledClasses...),
	}
}

// SetOptions replaces the detection filters. Contexts built afterwards use them.
func (f *Factory) SetOptions(opts Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = Options{
		ConfidenceThreshold: opts.ConfidenceThreshold,
		EnabledClasses:      append([]string(nil), opts.EnabledClasses...),
	}
}

// Registry returns the model and backend registry
func (f *Factory) Registry() *Registry {
	return f.registry
}
