package gateway

import (
	"fmt"
	"sort"

	apperrors "busticket/internal/errors"
	"busticket/internal/models"
)

// Registry maps each provider to its gateway. It is filled once at startup
// and read concurrently afterwards.
type Registry struct {
	gateways map[models.Provider]Gateway
}

func NewRegistry(gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[models.Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(g Gateway) error {
	p := g.Provider()
	if !p.Valid() {
		return fmt.Errorf("unknown payment provider %q", p)
	}
	if _, exists := r.gateways[p]; exists {
		return fmt.Errorf("payment provider %s already registered", p)
	}
	r.gateways[p] = g
	return nil
}

func (r *Registry) Get(p models.Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedProvider, p)
	}
	return g, nil
}

// Refunder returns the refund capability of a provider's gateway.
func (r *Registry) Refunder(p models.Provider) (Refunder, error) {
	g, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	refunder, ok := g.(Refunder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRefundUnsupported, p)
	}
	return refunder, nil
}

func (r *Registry) Providers() []models.Provider {
	providers := make([]models.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
