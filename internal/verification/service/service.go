// Package service routes ownership checks to the provider serving an asset
// type's routing key and classifies the combined answer.
//
// Classification precedence:
//  1. the asset is already on the ledger, or the provider says so: already registered
//  2. the ledger lookup failed: failed("registry unavailable")
//  3. the provider failed to answer: failed(<classified reason>)
//  4. otherwise the provider's verdict
//
// Conclusive provider evidence is cached briefly per (routing key, principal,
// reference) and identical concurrent lookups share one provider call. The
// ledger lookup is never cached.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ipx/internal/catalog"
	"ipx/internal/platform/tracing"
	"ipx/internal/verification/metrics"
	"ipx/internal/verification/providers"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
)

const (
	defaultProviderTimeout = 8 * time.Second
	defaultCacheTTL        = 2 * time.Minute

	ReasonRegistryUnavailable = "registry unavailable"
	ReasonNoProvider          = "no verifier configured for asset type"
	ReasonNotOwner            = "ownership could not be confirmed"
)

// Registry answers whether an asset is already registered on the ledger.
type Registry interface {
	IsRegistered(ctx context.Context, routingKey catalog.RoutingKey, reference string) (bool, error)
}

// Request is one ownership check for a registration.
type Request struct {
	AssetType catalog.AssetTypeID
	Reference string
	Principal id.PrincipalID
}

// Source says where the deciding answer came from.
type Source string

const (
	SourceRegistry Source = "registry"
	SourceProvider Source = "provider"
	SourceCache    Source = "cache"
)

// Outcome is the classified result of a check.
type Outcome struct {
	Status      providers.Status
	Reason      string
	Title       string
	Description string
	RoutingKey  catalog.RoutingKey
	Source      Source
	ProviderID  string
}

type Service struct {
	catalog   *catalog.Catalog
	providers *providers.ProviderRegistry
	registry  Registry

	cache   *gocache.Cache
	flights singleflight.Group

	providerTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithProviderTimeout bounds a single provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithCacheTTL sets how long conclusive evidence is reused. A negative TTL
// disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl < 0 {
			s.cache = nil
			return
		}
		if ttl > 0 {
			s.cache = gocache.New(ttl, 2*ttl)
		}
	}
}

func New(c *catalog.Catalog, reg *providers.ProviderRegistry, registry Registry, opts ...Option) (*Service, error) {
	if c == nil || reg == nil || registry == nil {
		return nil, errors.New("catalog, provider registry and ledger registry are required")
	}
	s := &Service{
		catalog:         c,
		providers:       reg,
		registry:        registry,
		cache:           gocache.New(defaultCacheTTL, 2*defaultCacheTTL),
		providerTimeout: defaultProviderTimeout,
		logger:          slog.Default(),
		tracer:          tracing.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Verify runs the ledger lookup and the provider check concurrently and
// classifies the pair. Errors are returned only for requests that cannot be
// routed; backend failures become failed outcomes.
func (s *Service) Verify(ctx context.Context, req Request) (*Outcome, error) {
	desc, ok := s.catalog.Lookup(req.AssetType)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown asset type %q", req.AssetType))
	}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeValidationIncomplete, "enter asset reference.")
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanVerify, trace.WithAttributes(
		attribute.String(tracing.AttrRoutingKey, string(desc.RoutingKey)),
		attribute.String(tracing.AttrAssetType, string(desc.ID)),
	))
	defer span.End()

	provider, hasProvider := s.providers.Get(desc.RoutingKey)
	preq := providers.Request{
		RoutingKey: desc.RoutingKey,
		AssetType:  desc.ID,
		Reference:  ref,
		Principal:  req.Principal,
	}

	// A registered asset makes the provider's answer irrelevant.
	providerCtx, cancelProvider := context.WithCancel(ctx)
	defer cancelProvider()

	var (
		registered  bool
		registryErr error
		evidence    *providers.Evidence
		cached      bool
		providerErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		registered, registryErr = s.lookupRegistry(ctx, desc.RoutingKey, ref)
		if registered {
			cancelProvider()
		}
		return nil
	})
	if hasProvider {
		g.Go(func() error {
			evidence, cached, providerErr = s.providerEvidence(providerCtx, provider, preq)
			return nil
		})
	}
	_ = g.Wait()

	outcome := s.classify(desc, registered, registryErr, hasProvider, evidence, cached, providerErr)

	span.SetAttributes(
		attribute.String(tracing.AttrOutcome, string(outcome.Status)),
		attribute.Bool(tracing.AttrCacheHit, cached),
	)
	if outcome.Status == providers.StatusFailed {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	s.metrics.IncrementOutcome(string(desc.RoutingKey), string(outcome.Status))
	s.logger.InfoContext(ctx, "ownership verification classified",
		"routing_key", desc.RoutingKey,
		"status", outcome.Status,
		"reason", outcome.Reason,
		"source", outcome.Source,
	)
	return outcome, nil
}

func (s *Service) classify(
	desc catalog.Descriptor,
	registered bool, registryErr error,
	hasProvider bool, ev *providers.Evidence, cached bool, providerErr error,
) *Outcome {
	out := &Outcome{RoutingKey: desc.RoutingKey}
	if ev != nil {
		out.ProviderID = ev.ProviderID
	}

	// Rule 1: already registered wins over every other answer
	if registered {
		out.Status, out.Source = providers.StatusAlreadyRegistered, SourceRegistry
		return out
	}
	if providerErr == nil && ev != nil && ev.Status == providers.StatusAlreadyRegistered {
		out.Status, out.Source = providers.StatusAlreadyRegistered, sourceOf(cached)
		return out
	}

	// Rule 2: without a ledger answer the asset cannot be cleared
	if registryErr != nil {
		out.Status, out.Reason, out.Source = providers.StatusFailed, ReasonRegistryUnavailable, SourceRegistry
		return out
	}

	// Rule 3: provider missing or unable to answer
	if !hasProvider {
		out.Status, out.Reason, out.Source = providers.StatusFailed, ReasonNoProvider, SourceProvider
		return out
	}
	if providerErr != nil {
		out.Status, out.Reason, out.Source = providers.StatusFailed, providers.FailureReason(providerErr), SourceProvider
		return out
	}

	// Rule 4: the provider's verdict
	out.Source = sourceOf(cached)
	switch ev.Status {
	case providers.StatusVerified:
		out.Status = providers.StatusVerified
		out.Title = ev.Title
		out.Description = ev.Description
	default:
		out.Status = providers.StatusFailed
		out.Reason = ev.Reason
		if out.Reason == "" {
			out.Reason = ReasonNotOwner
		}
	}
	return out
}

func sourceOf(cached bool) Source {
	if cached {
		return SourceCache
	}
	return SourceProvider
}

func (s *Service) lookupRegistry(ctx context.Context, key catalog.RoutingKey, ref string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanRegistry)
	defer span.End()

	registered, err := s.registry.IsRegistered(ctx, key, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry lookup failed")
		s.metrics.IncrementRegistryError()
		s.logger.WarnContext(ctx, "registered-asset lookup failed",
			"routing_key", key,
			"error", err,
		)
		return false, err
	}
	return registered, nil
}

func cacheKey(req providers.Request) string {
	return string(req.RoutingKey) + "|" + string(req.Principal) + "|" + strings.ToLower(req.Reference)
}

// providerEvidence returns cached conclusive evidence or asks the provider,
// collapsing identical in-flight checks into one call.
func (s *Service) providerEvidence(ctx context.Context, p providers.Provider, req providers.Request) (*providers.Evidence, bool, error) {
	key := cacheKey(req)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.IncrementCache(true)
			ev := v.(providers.Evidence)
			return &ev, true, nil
		}
		s.metrics.IncrementCache(false)
	}

	// The shared call is detached from any single caller's cancellation and
	// bounded by the provider timeout instead.
	ch := s.flights.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
		defer cancel()
		return s.callProvider(callCtx, p, req)
	})

	select {
	case <-ctx.Done():
		return nil, false, providers.NewProviderError(providers.ErrorTimeout, p.ID(), "verification abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		ev := res.Val.(providers.Evidence)
		return &ev, false, nil
	}
}

func (s *Service) callProvider(ctx context.Context, p providers.Provider, req providers.Request) (providers.Evidence, error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanProvider, trace.WithAttributes(
		attribute.String("ipx.provider_id", p.ID()),
	))
	defer span.End()

	start := time.Now()
	ev, err := p.Verify(ctx, req)
	s.metrics.ObserveProviderLatency(string(req.RoutingKey), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(providers.GetCategory(err)))
		s.logger.WarnContext(ctx, "verification provider failed",
			"provider_id", p.ID(),
			"category", providers.GetCategory(err),
			"retryable", providers.IsRetryable(err),
			"error", err,
		)
		return providers.Evidence{}, err
	}
	if ev == nil || !ev.Status.IsValid() {
		return providers.Evidence{}, providers.NewProviderError(providers.ErrorContractMismatch, p.ID(), "provider returned no verdict", nil)
	}
	if s.cache != nil && ev.Status.IsConclusive() {
		s.cache.SetDefault(cacheKey(req), *ev)
	}
	return *ev, nil
}

// Invalidate drops cached evidence for a reference, for example after a mint.
func (s *Service) Invalidate(key catalog.RoutingKey, principal id.PrincipalID, reference string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(cacheKey(providers.Request{
		RoutingKey: key,
		Principal:  principal,
		Reference:  strings.TrimSpace(reference),
	}))
}

// InvalidateAsset is Invalidate keyed by asset type. Unknown types are ignored.
func (s *Service) InvalidateAsset(assetType catalog.AssetTypeID, principal id.PrincipalID, reference string) {
	if desc, ok := s.catalog.Lookup(assetType); ok {
		s.Invalidate(desc.RoutingKey, principal, reference)
	}
}

// Health reports the first unhealthy provider.
func (s *Service) Health(ctx context.Context) error {
	for _, p := range s.providers.All() {
		if err := p.Health(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID(), err)
		}
	}
	return nil
}
