// Package remote implements an ownership verification provider backed by an
// HTTP verification service, one instance per routing key.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ipx/internal/catalog"
	"ipx/internal/verification/providers"
)

const (
	apiVersion      = "v1"
	maxResponseBody = 64 << 10
)

// Provider calls POST {baseURL}/v1/verify with the asset reference.
type Provider struct {
	id         string
	routingKey catalog.RoutingKey
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a provider for routingKey. timeout bounds each HTTP call.
func New(routingKey catalog.RoutingKey, baseURL, apiKey string, timeout time.Duration) *Provider {
	return &Provider{
		id:         "remote-" + string(routingKey),
		routingKey: routingKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Protocol:   providers.ProtocolHTTP,
		RoutingKey: p.routingKey,
		Version:    apiVersion,
	}
}

type verifyRequest struct {
	RoutingKey string `json:"routing_key"`
	AssetType  string `json:"asset_type"`
	Reference  string `json:"asset_reference"`
	Principal  string `json:"principal"`
}

type verifyResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	Metadata *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"metadata"`
	CheckedAt string `json:"checked_at"`
	TraceID   string `json:"trace_id"`
}

func (p *Provider) Verify(ctx context.Context, req providers.Request) (*providers.Evidence, error) {
	body, err := json.Marshal(verifyRequest{
		RoutingKey: string(req.RoutingKey),
		AssetType:  string(req.AssetType),
		Reference:  req.Reference,
		Principal:  req.Principal.String(),
	})
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, p.id, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+apiVersion+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, p.id, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, p.transportError(ctx, err)
	}

	evidence, err := parseVerifyResponse(resp.StatusCode, respBody)
	if err != nil {
		var pe *providers.ProviderError
		if errors.As(err, &pe) {
			pe.ProviderID = p.id
		}
		return nil, err
	}
	evidence.ProviderID = p.id
	evidence.RoutingKey = p.routingKey
	return evidence, nil
}

func (p *Provider) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || isTimeout(err) {
		return providers.NewProviderError(providers.ErrorTimeout, p.id, "verification request timed out", err)
	}
	return providers.NewProviderError(providers.ErrorProviderOutage, p.id, "verification service unreachable", err)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Health calls GET {baseURL}/healthz.
func (p *Provider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providers.NewProviderError(providers.ErrorProviderOutage, p.id, fmt.Sprintf("health status %d", resp.StatusCode), nil)
	}
	return nil
}

// parseVerifyResponse maps an HTTP response onto evidence or a categorized error.
// A 404 means the platform has no such asset, which is a definitive failure
// rather than an outage.
func parseVerifyResponse(status int, body []byte) (*providers.Evidence, error) {
	switch {
	case status == http.StatusNotFound:
		return &providers.Evidence{
			Status:    providers.StatusFailed,
			Reason:    providers.FailureReason(providers.NewProviderError(providers.ErrorNotFound, "", "", nil)),
			CheckedAt: time.Now(),
		}, nil
	case status == http.StatusConflict:
		return &providers.Evidence{Status: providers.StatusAlreadyRegistered, CheckedAt: time.Now()}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, providers.NewProviderError(providers.ErrorAuthentication, "", fmt.Sprintf("status %d", status), nil)
	case status == http.StatusTooManyRequests:
		return nil, providers.NewProviderError(providers.ErrorRateLimited, "", "rate limited", nil)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return nil, providers.NewProviderError(providers.ErrorTimeout, "", fmt.Sprintf("status %d", status), nil)
	case status >= 500:
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, "", fmt.Sprintf("status %d", status), nil)
	case status != http.StatusOK:
		return nil, providers.NewProviderError(providers.ErrorContractMismatch, "", fmt.Sprintf("unexpected status %d", status), nil)
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewProviderError(providers.ErrorBadData, "", "malformed response body", err)
	}

	ev := &providers.Evidence{
		Status:   providers.Status(resp.Status),
		Reason:   resp.Reason,
		Metadata: map[string]string{},
	}
	if !ev.Status.IsValid() {
		return nil, providers.NewProviderError(providers.ErrorContractMismatch, "", fmt.Sprintf("unknown status %q", resp.Status), nil)
	}
	if resp.Metadata != nil {
		ev.Title = resp.Metadata.Title
		ev.Description = resp.Metadata.Description
	}
	if resp.TraceID != "" {
		ev.Metadata["trace_id"] = resp.TraceID
	}

	checkedAt, err := time.Parse(time.RFC3339, resp.CheckedAt)
	if err != nil {
		checkedAt = time.Now()
	}
	ev.CheckedAt = checkedAt
	return ev, nil
}
