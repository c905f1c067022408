package inference

import (
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// Model is a selectable detection model. ID is its position in the list.
type Model struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	TargetSize int        `json:"target_size"`
	MeanValues [3]float64 `json:"mean_values"`
	NormValues [3]float64 `json:"norm_values"`
}

// Backend is a selectable compute backend. ID is its position in the list.
type Backend struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Registry holds the models and backends that can be selected
type Registry struct {
	models   []Model
	backends []Backend
}

// NewRegistry builds the registry from the inference configuration.
// The gpu backend is only available when GPU use is enabled.
func NewRegistry(cfg config.InferenceConfig) *Registry {
	r := &Registry{
		models:   make([]Model, 0, len(cfg.Models)),
		backends: make([]Backend, 0, len(cfg.Backends)),
	}
	for i, m := range cfg.Models {
		r.models = append(r.models, Model{
			ID:         i,
			Name:       m.Name,
			TargetSize: m.TargetSize,
			MeanValues: m.MeanValues,
			NormValues: m.NormValues,
		})
	}
	for i, name := range cfg.Backends {
		available := true
		if name == "gpu" {
			available = cfg.GPUEnabled
		}
		r.backends = append(r.backends, Backend{ID: i, Name: name, Available: available})
	}
	return r
}

// Models returns a copy of the model list
func (r *Registry) Models() []Model {
	return append([]Model(nil), r.models...)
}

// Backends returns a copy of the backend list
func (r *Registry) Backends() []Backend {
	return append([]Backend(nil), r.backends...)
}

// Model looks up a model by ID
func (r *Registry) Model(id int) (Model, error) {
	if id < 0 || id >= len(r.models) {
		return Model{}, fmt.Errorf("model id %d: %w", id, session.ErrAssetMissing)
	}
	return r.models[id], nil
}

// Backend looks up an available backend by ID
func (r *Registry) Backend(id int) (Backend, error) {
	if id < 0 || id >= len(r.backends) {
		return Backend{}, fmt.Errorf("backend id %d: %w", id, session.ErrUnsupportedBackend)
	}
	b := r.backends[id]
	if !b.Available {
		return Backend{}, fmt.Errorf("backend %s disabled: %w", b.Name, session.ErrUnsupportedBackend)
	}
	return b, nil
}
