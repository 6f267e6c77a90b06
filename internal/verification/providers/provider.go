package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
)

// Protocol defines how a provider reaches its backend.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolSandbox Protocol = "sandbox"
)

// Status is the classified verdict of an ownership check.
type Status string

const (
	StatusVerified          Status = "verified"
	StatusFailed            Status = "failed"
	StatusAlreadyRegistered Status = "already_registered"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusAlreadyRegistered:
		return true
	}
	return false
}

// IsConclusive reports whether the verdict is stable enough to cache.
func (s Status) IsConclusive() bool {
	return s == StatusVerified || s == StatusAlreadyRegistered
}

// Capabilities describes what a provider supports
type Capabilities struct {
	Protocol   Protocol
	RoutingKey catalog.RoutingKey
	Version    string
}

// Request is one ownership check.
type Request struct {
	RoutingKey catalog.RoutingKey
	AssetType  catalog.AssetTypeID
	Reference  string
	Principal  id.PrincipalID
}

// Evidence is the normalized result from any provider
type Evidence struct {
	ProviderID  string
	RoutingKey  catalog.RoutingKey
	Status      Status
	Reason      string // set when Status is failed
	Title       string // set when Status is verified
	Description string
	CheckedAt   time.Time
	Metadata    map[string]string // trace ids, backend versions
}

// Provider is the interface every ownership verification backend implements.
// Implementations return *ProviderError for transport and contract failures;
// a definitive "not the owner" answer is Evidence with StatusFailed.
type Provider interface {
	// ID returns a unique identifier for this provider instance
	ID() string

	// Capabilities returns what this provider supports
	Capabilities() Capabilities

	// Verify performs the ownership check for req.Reference.
	Verify(ctx context.Context, req Request) (*Evidence, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error
}

// ProviderRegistry maps routing keys to providers. One provider serves each key.
type ProviderRegistry struct {
	providers map[catalog.RoutingKey]Provider
}

// NewProviderRegistry creates a new empty registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[catalog.RoutingKey]Provider),
	}
}

// Register adds a provider under the routing key it declares.
func (r *ProviderRegistry) Register(p Provider) error {
	key := p.Capabilities().RoutingKey
	if key == "" {
		return fmt.Errorf("provider %s declares no routing key", p.ID())
	}
	if existing, exists := r.providers[key]; exists {
		return fmt.Errorf("routing key %s already served by provider %s", key, existing.ID())
	}
	r.providers[key] = p
	return nil
}

// Get retrieves the provider for a routing key.
func (r *ProviderRegistry) Get(key catalog.RoutingKey) (Provider, bool) {
	p, ok := r.providers[key]
	return p, ok
}

// All returns all registered providers ordered by routing key.
func (r *ProviderRegistry) All() []Provider {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	result := make([]Provider, 0, len(keys))
	for _, k := range keys {
		result = append(result, r.providers[catalog.RoutingKey(k)])
	}
	return result
}
