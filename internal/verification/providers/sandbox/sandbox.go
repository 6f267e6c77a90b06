// Package sandbox provides a development-mode ownership verifier that accepts
// every reference and synthesizes metadata from the catalog.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"ipx/internal/catalog"
	"ipx/internal/verification/providers"
)

type Provider struct {
	descriptor catalog.Descriptor
	latency    time.Duration
	now        func() time.Time
}

type Option func(*Provider)

// WithLatency delays each verification, for exercising in-progress states.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

func New(descriptor catalog.Descriptor, opts ...Option) *Provider {
	p := &Provider{descriptor: descriptor, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ForCatalog returns one sandbox provider per distinct routing key.
func ForCatalog(c *catalog.Catalog, opts ...Option) []*Provider {
	seen := map[catalog.RoutingKey]bool{}
	var out []*Provider
	for _, d := range c.List() {
		if seen[d.RoutingKey] {
			continue
		}
		seen[d.RoutingKey] = true
		out = append(out, New(d, opts...))
	}
	return out
}

func (p *Provider) ID() string { return "sandbox-" + string(p.descriptor.RoutingKey) }

func (p *Provider) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Protocol:   providers.ProtocolSandbox,
		RoutingKey: p.descriptor.RoutingKey,
		Version:    "sandbox",
	}
}

func (p *Provider) Verify(ctx context.Context, req providers.Request) (*providers.Evidence, error) {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, providers.NewProviderError(providers.ErrorTimeout, p.ID(), "sandbox verification cancelled", ctx.Err())
		case <-time.After(p.latency):
		}
	}
	return &providers.Evidence{
		ProviderID:  p.ID(),
		RoutingKey:  p.descriptor.RoutingKey,
		Status:      providers.StatusVerified,
		Title:       fmt.Sprintf("%s: %s", p.descriptor.DisplayName, req.Reference),
		Description: "Revenue share registration for " + p.descriptor.DisplayName,
		CheckedAt:   p.now(),
		Metadata:    map[string]string{"mode": "sandbox"},
	}, nil
}

func (p *Provider) Health(context.Context) error { return nil }
